package models

import "strings"

const (
	RoleAdmin     = "admin"
	RoleVolunteer = "volunteer"
	RoleDonor     = "donor"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	Email string
	Name  string
	Role  string
}

// HasRole reports whether the actor holds any of roles.
func (a Actor) HasRole(roles ...string) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// IsStaff is true for admins and volunteers.
func (a Actor) IsStaff() bool {
	return a.HasRole(RoleAdmin, RoleVolunteer)
}

// Owns reports whether the actor is the given email's owner.
func (a Actor) Owns(email string) bool {
	return a.Email != "" && strings.EqualFold(a.Email, email)
}

// Donor is a registered user as listed by the public donor search. The users
// collection is written by the profile service; this is a read model.
type Donor struct {
	Name        string `bson:"name" json:"name"`
	Email       string `bson:"email" json:"email"`
	Avatar      string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	BloodGroup  string `bson:"blood" json:"blood"`
	District    string `bson:"district" json:"district"`
	SubDistrict string `bson:"subDistrict" json:"subDistrict"`
	Role        string `bson:"role,omitempty" json:"role,omitempty"`
	Status      string `bson:"status,omitempty" json:"status,omitempty"`
}

// DonorFilter is an equality filter; empty fields are ignored.
type DonorFilter struct {
	BloodGroup  string
	District    string
	SubDistrict string
}

package models

import (
	"strings"
	"time"
)

// DonationStatus is the workflow state of a donation request.
type DonationStatus string

const (
	StatusPending    DonationStatus = "pending"
	StatusInProgress DonationStatus = "inprogress"
	StatusDone       DonationStatus = "done"
	StatusCanceled   DonationStatus = "canceled"
)

// ParseStatus accepts only the four workflow values, case-insensitively.
func ParseStatus(s string) (DonationStatus, bool) {
	switch st := DonationStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusInProgress, StatusDone, StatusCanceled:
		return st, true
	}
	return "", false
}

// Terminal reports whether no transition may leave s.
func (s DonationStatus) Terminal() bool {
	return s == StatusDone || s == StatusCanceled
}

var bloodGroups = map[string]struct{}{
	"A+": {}, "A-": {}, "B+": {}, "B-": {}, "AB+": {}, "AB-": {}, "O+": {}, "O-": {},
}

// NormalizeBloodGroup upper-cases the group and turns spaces back into "+".
// Query strings like ?bloodGroup=A+ arrive as "A " after URL decoding.
func NormalizeBloodGroup(s string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, " ", "+")))
}

// ValidBloodGroup reports whether g is one of the eight ABO/Rh groups.
func ValidBloodGroup(g string) bool {
	_, ok := bloodGroups[g]
	return ok
}

// DonorRef identifies who picked up a request.
type DonorRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DonationRequest is a request for blood posted by a requester.
type DonationRequest struct {
	ID             string         `json:"_id"`
	RequesterName  string         `json:"requesterName"`
	RequesterEmail string         `json:"requesterEmail"`
	RecipientName  string         `json:"recipientName"`
	BloodGroup     string         `json:"bloodGroup"`
	District       string         `json:"district"`
	SubDistrict    string         `json:"subDistrict"`
	HospitalName   string         `json:"hospitalName"`
	FullAddress    string         `json:"fullAddress"`
	DonationDate   string         `json:"donationDate"`
	DonationTime   string         `json:"donationTime"`
	RequestMessage string         `json:"requestMessage,omitempty"`
	DonationStatus DonationStatus `json:"donationStatus"`
	Donor          *DonorRef      `json:"donor,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// CreateDonationRequest is the body of POST /requests. Identity fields,
// status and timestamps are not accepted from clients.
type CreateDonationRequest struct {
	RequesterName  string `json:"requesterName" binding:"omitempty,max=120"`
	RecipientName  string `json:"recipientName" binding:"required,max=120"`
	BloodGroup     string `json:"bloodGroup" binding:"required"`
	District       string `json:"district" binding:"required,max=80"`
	SubDistrict    string `json:"subDistrict" binding:"required,max=80"`
	HospitalName   string `json:"hospitalName" binding:"required,max=200"`
	FullAddress    string `json:"fullAddress" binding:"required,max=300"`
	DonationDate   string `json:"donationDate" binding:"required"`
	DonationTime   string `json:"donationTime" binding:"required"`
	RequestMessage string `json:"requestMessage" binding:"omitempty,max=1000"`
}

// RequestPatch is the body of PATCH /requests/:id. Nil fields are left
// unchanged.
type RequestPatch struct {
	RecipientName  *string `json:"recipientName" binding:"omitempty,min=1,max=120"`
	BloodGroup     *string `json:"bloodGroup"`
	District       *string `json:"district" binding:"omitempty,min=1,max=80"`
	SubDistrict    *string `json:"subDistrict" binding:"omitempty,min=1,max=80"`
	HospitalName   *string `json:"hospitalName" binding:"omitempty,min=1,max=200"`
	FullAddress    *string `json:"fullAddress" binding:"omitempty,min=1,max=300"`
	DonationDate   *string `json:"donationDate" binding:"omitempty,min=1"`
	DonationTime   *string `json:"donationTime" binding:"omitempty,min=1"`
	RequestMessage *string `json:"requestMessage" binding:"omitempty,max=1000"`
}

// Fields returns the set fields keyed by their stored attribute name.
func (p RequestPatch) Fields() map[string]string {
	out := make(map[string]string)
	set := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	set("recipientName", p.RecipientName)
	set("bloodGroup", p.BloodGroup)
	set("district", p.District)
	set("subDistrict", p.SubDistrict)
	set("hospitalName", p.HospitalName)
	set("fullAddress", p.FullAddress)
	set("donationDate", p.DonationDate)
	set("donationTime", p.DonationTime)
	set("requestMessage", p.RequestMessage)
	return out
}

// Apply copies the set fields onto r.
func (p RequestPatch) Apply(r *DonationRequest) {
	for k, v := range p.Fields() {
		switch k {
		case "recipientName":
			r.RecipientName = v
		case "bloodGroup":
			r.BloodGroup = v
		case "district":
			r.District = v
		case "subDistrict":
			r.SubDistrict = v
		case "hospitalName":
			r.HospitalName = v
		case "fullAddress":
			r.FullAddress = v
		case "donationDate":
			r.DonationDate = v
		case "donationTime":
			r.DonationTime = v
		case "requestMessage":
			r.RequestMessage = v
		}
	}
}

// StatusUpdate is the body of PATCH /requests/update-status/:id.
type StatusUpdate struct {
	DonationStatus string `json:"donationStatus"`
}

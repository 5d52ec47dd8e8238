package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

var (
	ErrNotFound       = errors.New("donation request not found")
	ErrStatusMismatch = errors.New("donation request status changed concurrently")
	ErrNotPending     = errors.New("donation request is no longer pending")
	ErrInProgress     = errors.New("donation request is in progress")
)

// RequestFilter is a conjunction of equality matches; empty fields are
// omitted.
type RequestFilter struct {
	Status         models.DonationStatus
	RequesterEmail string
	BloodGroup     string
	District       string
	SubDistrict    string
}

// PageQuery selects one page of a createdAt-ordered listing.
type PageQuery struct {
	Page      int
	Size      int
	Ascending bool
}

// Skip is the number of records before the page.
func (q PageQuery) Skip() int64 {
	if q.Page < 1 {
		return 0
	}
	return int64(q.Page-1) * int64(q.Size)
}

// StatusChange is a compare-and-swap of donationStatus from From to To.
type StatusChange struct {
	From  models.DonationStatus
	To    models.DonationStatus
	Donor *models.DonorRef
	At    time.Time
}

// RequestRepository persists donation requests.
//
// UpdateStatus, UpdateIfPending and Delete are conditional writes evaluated
// atomically by the store. When the condition fails they report why:
// ErrNotFound if the record is gone, otherwise ErrStatusMismatch, ErrNotPending
// or ErrInProgress respectively.
type RequestRepository interface {
	Create(ctx context.Context, req *models.DonationRequest) error
	FindByID(ctx context.Context, id string) (*models.DonationRequest, error)
	List(ctx context.Context, filter RequestFilter, page PageQuery) ([]models.DonationRequest, int64, error)
	UpdateStatus(ctx context.Context, id string, change StatusChange) (*models.DonationRequest, error)
	UpdateIfPending(ctx context.Context, id string, patch models.RequestPatch, at time.Time) (*models.DonationRequest, error)
	Delete(ctx context.Context, id string, allowInProgress bool) error
}

// Matches reports whether r satisfies every set field of f.
func (f RequestFilter) Matches(r *models.DonationRequest) bool {
	if f.Status != "" && r.DonationStatus != f.Status {
		return false
	}
	if f.RequesterEmail != "" && !strings.EqualFold(r.RequesterEmail, f.RequesterEmail) {
		return false
	}
	if f.BloodGroup != "" && r.BloodGroup != f.BloodGroup {
		return false
	}
	if f.District != "" && r.District != f.District {
		return false
	}
	if f.SubDistrict != "" && r.SubDistrict != f.SubDistrict {
		return false
	}
	return true
}

// SortRequests orders by createdAt (descending unless asc) with id ascending
// as the tie-breaker.
func SortRequests(items []models.DonationRequest, asc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Paginate filters, sorts and slices items in memory. It is used by stores
// that cannot sort server side.
func Paginate(items []models.DonationRequest, filter RequestFilter, page PageQuery) ([]models.DonationRequest, int64) {
	matched := make([]models.DonationRequest, 0, len(items))
	for i := range items {
		if filter.Matches(&items[i]) {
			matched = append(matched, items[i])
		}
	}
	SortRequests(matched, page.Ascending)

	total := int64(len(matched))
	start := page.Skip()
	if start >= total {
		return []models.DonationRequest{}, total
	}
	end := start + int64(page.Size)
	if page.Size <= 0 || end > total {
		end = total
	}
	return matched[start:end], total
}

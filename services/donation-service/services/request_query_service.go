package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/common/logger"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/repository"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PageRequest is a validated page selection.
type PageRequest struct {
	Page      int
	Size      int
	Ascending bool
}

// ParsePageRequest reads raw query values. Missing, non-numeric or
// non-positive values fall back to the defaults; size is capped at
// MaxPageSize. Only sortOrder=asc flips the createdAt order.
func ParsePageRequest(page, size, sortOrder string) PageRequest {
	p := PageRequest{Page: DefaultPage, Size: DefaultPageSize}
	if n, err := strconv.Atoi(strings.TrimSpace(page)); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(size)); err == nil && n > 0 {
		p.Size = n
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	p.Ascending = strings.EqualFold(strings.TrimSpace(sortOrder), "asc")
	return p
}

// ListQuery holds raw filter values; "" and "all" mean no constraint.
type ListQuery struct {
	Status         string
	RequesterEmail string
	BloodGroup     string
	District       string
	SubDistrict    string
}

// Page is one page of a filtered listing. Total counts every match.
type Page struct {
	Total  int64                    `json:"total"`
	Result []models.DonationRequest `json:"result"`
	Page   int                      `json:"page"`
	Size   int                      `json:"size"`
}

type RequestQueryService interface {
	List(ctx context.Context, q ListQuery, p PageRequest) (*Page, error)
	ListPending(ctx context.Context, q ListQuery, p PageRequest) (*Page, error)
	ListByRequester(ctx context.Context, email string, q ListQuery, p PageRequest, actor models.Actor) (*Page, error)
	Get(ctx context.Context, id string) (*models.DonationRequest, error)
}

type requestQueryServiceImpl struct {
	repo   repository.RequestRepository
	logger *zap.Logger
}

func NewRequestQueryService(repo repository.RequestRepository, logger *zap.Logger) RequestQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &requestQueryServiceImpl{repo: repo, logger: logger}
}

func unlessAll(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "all") {
		return ""
	}
	return v
}

// BuildFilter turns raw query values into a repository filter.
func BuildFilter(q ListQuery) (repository.RequestFilter, error) {
	f := repository.RequestFilter{
		RequesterEmail: strings.ToLower(unlessAll(q.RequesterEmail)),
		District:       unlessAll(q.District),
		SubDistrict:    unlessAll(q.SubDistrict),
	}
	if s := unlessAll(q.Status); s != "" {
		status, ok := models.ParseStatus(s)
		if !ok {
			return f, apperrors.Newf(apperrors.KindInvalidStatus, "status %q is not one of pending, inprogress, done, canceled, all", q.Status)
		}
		f.Status = status
	}
	// The URL-decoded "+" of "A+" arrives as a space, so normalize before
	// checking for "all".
	if g := unlessAll(q.BloodGroup); g != "" {
		f.BloodGroup = models.NormalizeBloodGroup(q.BloodGroup)
	}
	return f, nil
}

func (s *requestQueryServiceImpl) List(ctx context.Context, q ListQuery, p PageRequest) (*Page, error) {
	filter, err := BuildFilter(q)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, filter, p)
}

func (s *requestQueryServiceImpl) ListPending(ctx context.Context, q ListQuery, p PageRequest) (*Page, error) {
	q.Status = ""
	filter, err := BuildFilter(q)
	if err != nil {
		return nil, err
	}
	filter.Status = models.StatusPending
	return s.list(ctx, filter, p)
}

func (s *requestQueryServiceImpl) ListByRequester(ctx context.Context, email string, q ListQuery, p PageRequest, actor models.Actor) (*Page, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "email is required")
	}
	if actor.Email == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if !actor.IsStaff() && !actor.Owns(email) {
		return nil, apperrors.Newf(apperrors.KindForbidden, "You may only list your own requests")
	}

	q.RequesterEmail = email
	filter, err := BuildFilter(q)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, filter, p)
}

func (s *requestQueryServiceImpl) Get(ctx context.Context, id string) (*models.DonationRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "Donation request not found", err)
		}
		logger.For(ctx, s.logger).Error("Failed to fetch request", zap.String("request_id", id), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, apperrors.ErrInternalServer.Message, err)
	}
	return req, nil
}

func (s *requestQueryServiceImpl) list(ctx context.Context, filter repository.RequestFilter, p PageRequest) (*Page, error) {
	items, total, err := s.repo.List(ctx, filter, repository.PageQuery{Page: p.Page, Size: p.Size, Ascending: p.Ascending})
	if err != nil {
		logger.For(ctx, s.logger).Error("Failed to list requests", zap.Any("filter", filter), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, apperrors.ErrInternalServer.Message, fmt.Errorf("list requests: %w", err))
	}
	if items == nil {
		items = []models.DonationRequest{}
	}
	return &Page{Total: total, Result: items, Page: p.Page, Size: p.Size}, nil
}

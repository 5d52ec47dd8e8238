package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/mamun007molla/blood-donation-server/pkg/aws"
	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/common/logger"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/events"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/repository"
)

// allowedTransitions lists every legal status change. Terminal states have no
// entry.
var allowedTransitions = map[models.DonationStatus]map[models.DonationStatus]bool{
	models.StatusPending: {
		models.StatusInProgress: true,
		models.StatusCanceled:   true,
	},
	models.StatusInProgress: {
		models.StatusDone:     true,
		models.StatusCanceled: true,
	},
}

// CanTransition reports whether the workflow permits from -> to. Same-state
// changes are not transitions and report false.
func CanTransition(from, to models.DonationStatus) bool {
	return allowedTransitions[from][to]
}

// TransitionResult carries the request after a transition. Changed is false
// when the request already had the requested status.
type TransitionResult struct {
	Request *models.DonationRequest `json:"request"`
	Changed bool                    `json:"changed"`
}

// LifecycleService owns every write to donation requests.
type LifecycleService interface {
	Create(ctx context.Context, in models.CreateDonationRequest, actor models.Actor) (*models.DonationRequest, error)
	Transition(ctx context.Context, id, status string, actor models.Actor) (*TransitionResult, error)
	Update(ctx context.Context, id string, patch models.RequestPatch, actor models.Actor) (*models.DonationRequest, error)
	Delete(ctx context.Context, id string, actor models.Actor, force bool) error
}

type lifecycleServiceImpl struct {
	repo      repository.RequestRepository
	publisher events.Publisher
	metrics   awspkg.MetricsRecorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewLifecycleService(
	repo repository.RequestRepository,
	publisher events.Publisher,
	metrics awspkg.MetricsRecorder,
	logger *zap.Logger,
) LifecycleService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &lifecycleServiceImpl{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *lifecycleServiceImpl) Create(ctx context.Context, in models.CreateDonationRequest, actor models.Actor) (*models.DonationRequest, error) {
	if actor.Email == "" {
		return nil, apperrors.ErrUnauthorized
	}

	group := models.NormalizeBloodGroup(in.BloodGroup)
	if !models.ValidBloodGroup(group) {
		return nil, apperrors.Newf(apperrors.KindValidation, "bloodGroup %q is not a valid blood group", in.BloodGroup)
	}

	name := strings.TrimSpace(in.RequesterName)
	if name == "" {
		name = actor.Name
	}

	now := s.now().UTC()
	req := &models.DonationRequest{
		RequesterName:  name,
		RequesterEmail: strings.ToLower(actor.Email),
		RecipientName:  strings.TrimSpace(in.RecipientName),
		BloodGroup:     group,
		District:       strings.TrimSpace(in.District),
		SubDistrict:    strings.TrimSpace(in.SubDistrict),
		HospitalName:   strings.TrimSpace(in.HospitalName),
		FullAddress:    strings.TrimSpace(in.FullAddress),
		DonationDate:   in.DonationDate,
		DonationTime:   in.DonationTime,
		RequestMessage: in.RequestMessage,
		DonationStatus: models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, s.internal(ctx, "create request", err)
	}

	logger.For(ctx, s.logger).Info("Donation request created",
		zap.String("request_id", req.ID),
		zap.String("requester", req.RequesterEmail),
	)
	s.count(ctx, awspkg.MetricRequestsCreated, nil)
	events.Emit(ctx, s.publisher, s.logger, models.Event{
		Type:    models.EventRequestCreated,
		Key:     req.ID,
		Payload: req,
	})
	return req, nil
}

// Transition moves a request to status. Checks run in a fixed order so the
// reported error is deterministic: unknown status, missing request, caller
// with no stake in the request, same-state no-op, illegal edge, caller
// lacking authority for the edge. The write is a compare-and-swap on the
// status that was read; losing a race reports Conflict.
func (s *lifecycleServiceImpl) Transition(ctx context.Context, id, status string, actor models.Actor) (*TransitionResult, error) {
	log := logger.For(ctx, s.logger).With(zap.String("request_id", id))

	to, ok := models.ParseStatus(status)
	if !ok {
		return nil, apperrors.Newf(apperrors.KindInvalidStatus, "donationStatus %q is not one of pending, inprogress, done, canceled", status)
	}
	if actor.Email == "" {
		return nil, apperrors.ErrUnauthorized
	}

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.IsStaff() && !actor.Owns(current.RequesterEmail) {
		return nil, apperrors.Newf(apperrors.KindForbidden, "Only the requester, volunteers or admins may change this request")
	}

	if current.DonationStatus == to {
		return &TransitionResult{Request: current, Changed: false}, nil
	}

	if !CanTransition(current.DonationStatus, to) {
		return nil, apperrors.Newf(apperrors.KindInvalidTransition,
			"Cannot move a %s request to %s", current.DonationStatus, to)
	}

	if !hasEdgeAuthority(actor, current, to) {
		return nil, apperrors.Newf(apperrors.KindForbidden,
			"Role %q may not move a %s request to %s", actor.Role, current.DonationStatus, to)
	}

	change := repository.StatusChange{From: current.DonationStatus, To: to, At: s.now().UTC()}
	if to == models.StatusInProgress {
		change.Donor = &models.DonorRef{Name: actor.Name, Email: strings.ToLower(actor.Email)}
	}

	updated, err := s.repo.UpdateStatus(ctx, id, change)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusMismatch):
			log.Info("Lost status race", zap.String("from", string(change.From)), zap.String("to", string(to)))
			s.count(ctx, awspkg.MetricTransitionConflicts, map[string]string{"To": string(to)})
			return nil, apperrors.New(apperrors.KindConflict, apperrors.ErrConflict.Message, err)
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.New(apperrors.KindNotFound, "Donation request not found", err)
		}
		return nil, s.internal(ctx, "update status", err)
	}

	log.Info("Donation request status changed",
		zap.String("from", string(change.From)),
		zap.String("to", string(to)),
		zap.String("actor", actor.Email),
	)
	s.count(ctx, awspkg.MetricRequestTransitions, map[string]string{"To": string(to)})
	events.Emit(ctx, s.publisher, log, models.Event{
		Type: models.EventRequestStatusChanged,
		Key:  id,
		Payload: models.StatusChangedPayload{
			RequestID: id,
			From:      change.From,
			To:        to,
			Actor:     actor.Email,
		},
	})
	return &TransitionResult{Request: updated, Changed: true}, nil
}

// hasEdgeAuthority: volunteers and admins run the donation itself; a
// requester may withdraw a pending request; only an admin may cancel one a
// donor has already picked up.
func hasEdgeAuthority(actor models.Actor, current *models.DonationRequest, to models.DonationStatus) bool {
	switch to {
	case models.StatusInProgress, models.StatusDone:
		return actor.IsStaff()
	case models.StatusCanceled:
		if actor.HasRole(models.RoleAdmin) {
			return true
		}
		return current.DonationStatus == models.StatusPending && actor.Owns(current.RequesterEmail)
	}
	return false
}

func (s *lifecycleServiceImpl) Update(ctx context.Context, id string, patch models.RequestPatch, actor models.Actor) (*models.DonationRequest, error) {
	if actor.Email == "" {
		return nil, apperrors.ErrUnauthorized
	}

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.HasRole(models.RoleAdmin) && !actor.Owns(current.RequesterEmail) {
		return nil, apperrors.Newf(apperrors.KindForbidden, "Only the requester or an admin may edit this request")
	}
	if current.DonationStatus != models.StatusPending {
		return nil, apperrors.Newf(apperrors.KindImmutableState, "Request is %s and can no longer be edited", current.DonationStatus)
	}

	if patch.BloodGroup != nil {
		group := models.NormalizeBloodGroup(*patch.BloodGroup)
		if !models.ValidBloodGroup(group) {
			return nil, apperrors.Newf(apperrors.KindValidation, "bloodGroup %q is not a valid blood group", *patch.BloodGroup)
		}
		patch.BloodGroup = &group
	}
	if len(patch.Fields()) == 0 {
		return nil, apperrors.Newf(apperrors.KindValidation, "No fields to update")
	}

	updated, err := s.repo.UpdateIfPending(ctx, id, patch, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotPending):
			return nil, apperrors.New(apperrors.KindImmutableState, apperrors.ErrImmutableState.Message, err)
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.New(apperrors.KindNotFound, "Donation request not found", err)
		}
		return nil, s.internal(ctx, "update request", err)
	}

	logger.For(ctx, s.logger).Info("Donation request updated", zap.String("request_id", id), zap.String("actor", actor.Email))
	return updated, nil
}

func (s *lifecycleServiceImpl) Delete(ctx context.Context, id string, actor models.Actor, force bool) error {
	if actor.Email == "" {
		return apperrors.ErrUnauthorized
	}
	if !actor.HasRole(models.RoleAdmin) {
		return apperrors.Newf(apperrors.KindForbidden, "Only admins may delete requests")
	}

	if err := s.repo.Delete(ctx, id, force); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return apperrors.New(apperrors.KindNotFound, "Donation request not found", err)
		case errors.Is(err, repository.ErrInProgress):
			return apperrors.New(apperrors.KindImmutableState, "Request is in progress; pass force=true to delete it anyway", err)
		}
		return s.internal(ctx, "delete request", err)
	}

	logger.For(ctx, s.logger).Info("Donation request deleted",
		zap.String("request_id", id),
		zap.String("actor", actor.Email),
		zap.Bool("force", force),
	)
	return nil
}

func (s *lifecycleServiceImpl) find(ctx context.Context, id string) (*models.DonationRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "Donation request not found", err)
		}
		return nil, s.internal(ctx, "find request", err)
	}
	return req, nil
}

func (s *lifecycleServiceImpl) internal(ctx context.Context, op string, err error) error {
	logger.For(ctx, s.logger).Error("Repository failure", zap.String("op", op), zap.Error(err))
	return apperrors.New(apperrors.KindInternal, apperrors.ErrInternalServer.Message, fmt.Errorf("%s: %w", op, err))
}

func (s *lifecycleServiceImpl) count(ctx context.Context, metric string, extra map[string]string) {
	if s.metrics == nil {
		return
	}
	dims := map[string]string{"Service": "donation-service"}
	for k, v := range extra {
		dims[k] = v
	}
	if err := s.metrics.RecordCount(ctx, metric, dims); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

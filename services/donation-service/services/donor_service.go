package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/repository"
)

// DonorService is the public donor directory.
type DonorService interface {
	Search(ctx context.Context, f models.DonorFilter) ([]models.Donor, error)
	// RoleOf returns the stored role for email, defaulting to donor.
	RoleOf(ctx context.Context, email string) (string, error)
}

type donorServiceImpl struct {
	repo   repository.DonorRepository
	logger *zap.Logger
}

func NewDonorService(repo repository.DonorRepository, logger *zap.Logger) DonorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &donorServiceImpl{repo: repo, logger: logger}
}

func (s *donorServiceImpl) Search(ctx context.Context, f models.DonorFilter) ([]models.Donor, error) {
	filter := models.DonorFilter{
		District:    unlessAll(f.District),
		SubDistrict: unlessAll(f.SubDistrict),
	}
	if g := unlessAll(f.BloodGroup); g != "" {
		filter.BloodGroup = models.NormalizeBloodGroup(f.BloodGroup)
	}

	donors, err := s.repo.Search(ctx, filter)
	if err != nil {
		s.logger.Error("Donor search failed", zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, apperrors.ErrInternalServer.Message, err)
	}
	return donors, nil
}

func (s *donorServiceImpl) RoleOf(ctx context.Context, email string) (string, error) {
	role, err := s.repo.RoleOf(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", err
	}
	switch role {
	case models.RoleAdmin, models.RoleVolunteer, models.RoleDonor:
		return role, nil
	}
	return models.RoleDonor, nil
}

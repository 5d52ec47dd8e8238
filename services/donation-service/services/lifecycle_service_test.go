package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	awspkg "github.com/mamun007molla/blood-donation-server/pkg/aws"
	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
)

var allStatuses = []models.DonationStatus{
	models.StatusPending, models.StatusInProgress, models.StatusDone, models.StatusCanceled,
}

func seedRequest(repo *memRequestRepo, status models.DonationStatus) string {
	return repo.seed(models.DonationRequest{
		RequesterName:  "Karim",
		RequesterEmail: "karim@example.com",
		BloodGroup:     "A+",
		District:       "Dhaka",
		DonationStatus: status,
		CreatedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func newLifecycle(repo *memRequestRepo) (services.LifecycleService, *recordingPublisher, *recordingMetrics) {
	pub := &recordingPublisher{}
	metrics := newRecordingMetrics()
	return services.NewLifecycleService(repo, pub, metrics, zap.NewNop()), pub, metrics
}

func TestTransition_EveryPair(t *testing.T) {
	allowed := map[[2]models.DonationStatus]bool{
		{models.StatusPending, models.StatusInProgress}:  true,
		{models.StatusPending, models.StatusCanceled}:    true,
		{models.StatusInProgress, models.StatusDone}:     true,
		{models.StatusInProgress, models.StatusCanceled}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				repo := newMemRequestRepo()
				svc, _, _ := newLifecycle(repo)
				id := seedRequest(repo, from)

				res, err := svc.Transition(context.Background(), id, string(to), admin)

				switch {
				case from == to:
					require.NoError(t, err)
					assert.False(t, res.Changed)
				case allowed[[2]models.DonationStatus{from, to}]:
					require.NoError(t, err)
					assert.True(t, res.Changed)
					assert.Equal(t, to, repo.status(id))
				default:
					assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
					assert.Equal(t, from, repo.status(id))
				}
				assert.Equal(t, allowed[[2]models.DonationStatus{from, to}], services.CanTransition(from, to))
			})
		}
	}
}

func TestTransition_Authority(t *testing.T) {
	tests := []struct {
		name    string
		from    models.DonationStatus
		to      models.DonationStatus
		actor   models.Actor
		wantErr error
	}{
		{"volunteer claims pending", models.StatusPending, models.StatusInProgress, volunteer, nil},
		{"volunteer completes", models.StatusInProgress, models.StatusDone, volunteer, nil},
		{"requester cancels pending", models.StatusPending, models.StatusCanceled, requester, nil},
		{"admin cancels in progress", models.StatusInProgress, models.StatusCanceled, admin, nil},
		{"requester cannot claim", models.StatusPending, models.StatusInProgress, requester, apperrors.ErrForbidden},
		{"requester cannot complete", models.StatusInProgress, models.StatusDone, requester, apperrors.ErrForbidden},
		{"requester cannot cancel in progress", models.StatusInProgress, models.StatusCanceled, requester, apperrors.ErrForbidden},
		{"volunteer cannot cancel in progress", models.StatusInProgress, models.StatusCanceled, volunteer, apperrors.ErrForbidden},
		{"volunteer cannot cancel pending", models.StatusPending, models.StatusCanceled, volunteer, apperrors.ErrForbidden},
		{"other donor rejected", models.StatusPending, models.StatusCanceled, stranger, apperrors.ErrForbidden},
		{"anonymous rejected", models.StatusPending, models.StatusInProgress, models.Actor{}, apperrors.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRequestRepo()
			svc, _, _ := newLifecycle(repo)
			id := seedRequest(repo, tt.from)

			_, err := svc.Transition(context.Background(), id, string(tt.to), tt.actor)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.to, repo.status(id))
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.from, repo.status(id))
		})
	}
}

func TestTransition_CheckOrder(t *testing.T) {
	repo := newMemRequestRepo()
	svc, _, _ := newLifecycle(repo)
	id := seedRequest(repo, models.StatusDone)

	_, err := svc.Transition(context.Background(), "missing", "approved", admin)
	assert.ErrorIs(t, err, apperrors.ErrInvalidStatus, "status is validated before lookup")

	_, err = svc.Transition(context.Background(), "missing", "done", admin)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Transition(context.Background(), id, "pending", stranger)
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "outsiders learn nothing about the workflow")

	res, err := svc.Transition(context.Background(), id, "done", requester)
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestTransition_ClaimRecordsDonorAndPublishes(t *testing.T) {
	repo := newMemRequestRepo()
	svc, pub, metrics := newLifecycle(repo)
	id := seedRequest(repo, models.StatusPending)

	res, err := svc.Transition(context.Background(), id, "InProgress", volunteer)
	require.NoError(t, err)
	require.NotNil(t, res.Request.Donor)
	assert.Equal(t, "vol@example.com", res.Request.Donor.Email)

	evts := pub.ofType(models.EventRequestStatusChanged)
	require.Len(t, evts, 1)
	payload := evts[0].Payload.(models.StatusChangedPayload)
	assert.Equal(t, models.StatusPending, payload.From)
	assert.Equal(t, models.StatusInProgress, payload.To)
	assert.Equal(t, 1, metrics.count(awspkg.MetricRequestTransitions))

	_, err = svc.Transition(context.Background(), id, "inprogress", volunteer)
	require.NoError(t, err)
	assert.Len(t, pub.ofType(models.EventRequestStatusChanged), 1, "no-op publishes nothing")
}

func TestTransition_ConcurrentCallersExactlyOneWins(t *testing.T) {
	const n = 12
	targets := []struct {
		status string
		actor  models.Actor
	}{
		{"inprogress", volunteer},
		{"canceled", admin},
		{"canceled", requester},
	}

	repo := newMemRequestRepo()
	svc, _, metrics := newLifecycle(repo)
	id := seedRequest(repo, models.StatusPending)

	barrier := &sync.WaitGroup{}
	barrier.Add(n)
	repo.readBarrier = barrier

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
		winning   models.DonationStatus
	)
	for i := 0; i < n; i++ {
		target := targets[i%len(targets)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Transition(context.Background(), id, target.status, target.actor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Changed:
				winners++
				winning = res.Request.DonationStatus
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected result: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, winning, repo.status(id))
	assert.Equal(t, n-1, metrics.count(awspkg.MetricTransitionConflicts))
}

func TestCreate(t *testing.T) {
	repo := newMemRequestRepo()
	svc, pub, _ := newLifecycle(repo)

	req, err := svc.Create(context.Background(), models.CreateDonationRequest{
		RecipientName: "Ayesha",
		BloodGroup:    "ab ",
		District:      "Dhaka",
		SubDistrict:   "Mirpur",
		HospitalName:  "DMC",
		FullAddress:   "Road 1",
		DonationDate:  "2025-02-01",
		DonationTime:  "10:00",
	}, models.Actor{Email: "Karim@Example.com", Name: "Karim", Role: models.RoleDonor})
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.StatusPending, req.DonationStatus)
	assert.Equal(t, "karim@example.com", req.RequesterEmail)
	assert.Equal(t, "Karim", req.RequesterName)
	assert.Equal(t, "AB+", req.BloodGroup)
	assert.False(t, req.CreatedAt.IsZero())
	assert.Len(t, pub.ofType(models.EventRequestCreated), 1)

	_, err = svc.Create(context.Background(), models.CreateDonationRequest{BloodGroup: "C+"}, requester)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Create(context.Background(), models.CreateDonationRequest{BloodGroup: "A+"}, models.Actor{})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestUpdate(t *testing.T) {
	hospital := "Square Hospital"

	t.Run("owner edits pending", func(t *testing.T) {
		repo := newMemRequestRepo()
		svc, _, _ := newLifecycle(repo)
		id := seedRequest(repo, models.StatusPending)

		got, err := svc.Update(context.Background(), id, models.RequestPatch{HospitalName: &hospital}, requester)
		require.NoError(t, err)
		assert.Equal(t, hospital, got.HospitalName)
		assert.Equal(t, "karim@example.com", got.RequesterEmail)
	})

	t.Run("admin edits and blood group is normalized", func(t *testing.T) {
		repo := newMemRequestRepo()
		svc, _, _ := newLifecycle(repo)
		id := seedRequest(repo, models.StatusPending)
		group := "o "

		got, err := svc.Update(context.Background(), id, models.RequestPatch{BloodGroup: &group}, admin)
		require.NoError(t, err)
		assert.Equal(t, "O+", got.BloodGroup)
	})

	t.Run("stranger forbidden", func(t *testing.T) {
		repo := newMemRequestRepo()
		svc, _, _ := newLifecycle(repo)
		id := seedRequest(repo, models.StatusPending)

		_, err := svc.Update(context.Background(), id, models.RequestPatch{HospitalName: &hospital}, stranger)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
		_, err = svc.Update(context.Background(), id, models.RequestPatch{HospitalName: &hospital}, volunteer)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("claimed request is immutable", func(t *testing.T) {
		for _, status := range []models.DonationStatus{models.StatusInProgress, models.StatusDone, models.StatusCanceled} {
			repo := newMemRequestRepo()
			svc, _, _ := newLifecycle(repo)
			id := seedRequest(repo, status)

			_, err := svc.Update(context.Background(), id, models.RequestPatch{HospitalName: &hospital}, requester)
			assert.ErrorIs(t, err, apperrors.ErrImmutableState, string(status))
		}
	})

	t.Run("empty patch", func(t *testing.T) {
		repo := newMemRequestRepo()
		svc, _, _ := newLifecycle(repo)
		id := seedRequest(repo, models.StatusPending)

		_, err := svc.Update(context.Background(), id, models.RequestPatch{}, requester)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("missing", func(t *testing.T) {
		svc, _, _ := newLifecycle(newMemRequestRepo())
		_, err := svc.Update(context.Background(), "nope", models.RequestPatch{HospitalName: &hospital}, admin)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	repo := newMemRequestRepo()
	svc, _, _ := newLifecycle(repo)
	pending := seedRequest(repo, models.StatusPending)
	claimed := seedRequest(repo, models.StatusInProgress)

	assert.ErrorIs(t, svc.Delete(context.Background(), pending, requester, false), apperrors.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(context.Background(), claimed, admin, false), apperrors.ErrImmutableState)
	assert.NoError(t, svc.Delete(context.Background(), pending, admin, false))
	assert.NoError(t, svc.Delete(context.Background(), claimed, admin, true))
	assert.ErrorIs(t, svc.Delete(context.Background(), pending, admin, false), apperrors.ErrNotFound)
}

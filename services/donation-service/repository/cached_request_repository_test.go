package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/repository"
)

// hookedRepo runs afterFind between the store read and the cache fill.
type hookedRepo struct {
	repository.RequestRepository
	afterFind func()
}

func (h *hookedRepo) FindByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	req, err := h.RequestRepository.FindByID(ctx, id)
	if hook := h.afterFind; hook != nil {
		h.afterFind = nil
		hook()
	}
	return req, err
}

func newCachedRepo(t *testing.T) (*repository.CachedRequestRepository, *hookedRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &hookedRepo{RequestRepository: repository.NewDynamoRequestRepository(newFakeDynamo(), "requests")}
	return repository.NewCachedRequestRepository(inner, client, time.Minute, nil), inner, mr
}

func createPending(t *testing.T, repo repository.RequestRepository) string {
	t.Helper()
	req := &models.DonationRequest{
		RequesterEmail: "karim@example.com",
		BloodGroup:     "O+",
		District:       "Dhaka",
		DonationStatus: models.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), req))
	return req.ID
}

func TestCachedRequestRepository_ServesRepeatReadsFromCache(t *testing.T) {
	repo, inner, mr := newCachedRepo(t)
	ctx := context.Background()
	id := createPending(t, repo)

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.DonationStatus)
	assert.True(t, mr.Exists(repository.RequestCachePrefix+id))
	assert.Equal(t, time.Minute, mr.TTL(repository.RequestCachePrefix+id))

	// a write behind the cache's back is invisible until the entry expires
	_, err = inner.RequestRepository.UpdateStatus(ctx, id, repository.StatusChange{
		From: models.StatusPending, To: models.StatusCanceled, At: time.Now(),
	})
	require.NoError(t, err)

	got, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.DonationStatus)

	mr.FastForward(time.Minute + time.Second)
	got, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, got.DonationStatus)
}

func TestCachedRequestRepository_WritesInvalidate(t *testing.T) {
	repo, _, mr := newCachedRepo(t)
	ctx := context.Background()
	id := createPending(t, repo)

	_, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	items, total, err := repo.List(ctx, repository.RequestFilter{Status: models.StatusPending}, repository.PageQuery{Page: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	listVersion, err := mr.Get(repository.RequestCacheVersionKey)
	require.NoError(t, err)

	donor := &models.DonorRef{Name: "Rahim", Email: "rahim@example.com"}
	_, err = repo.UpdateStatus(ctx, id, repository.StatusChange{
		From: models.StatusPending, To: models.StatusInProgress, Donor: donor, At: time.Now(),
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists(repository.RequestCachePrefix+id))
	bumped, err := mr.Get(repository.RequestCacheVersionKey)
	require.NoError(t, err)
	assert.NotEqual(t, listVersion, bumped)

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.DonationStatus)
	require.NotNil(t, got.Donor)
	assert.Equal(t, "rahim@example.com", got.Donor.Email)

	_, total, err = repo.List(ctx, repository.RequestFilter{Status: models.StatusPending}, repository.PageQuery{Page: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	require.NoError(t, repo.Delete(ctx, id, true))
	_, err = repo.FindByID(ctx, id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCachedRequestRepository_DropsFillThatRacedAWrite(t *testing.T) {
	repo, inner, mr := newCachedRepo(t)
	ctx := context.Background()
	id := createPending(t, repo)

	// the transition commits after the store read but before the fill
	inner.afterFind = func() {
		_, err := repo.UpdateStatus(ctx, id, repository.StatusChange{
			From:  models.StatusPending,
			To:    models.StatusInProgress,
			Donor: &models.DonorRef{Name: "Rahim", Email: "rahim@example.com"},
			At:    time.Now(),
		})
		require.NoError(t, err)
	}

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.DonationStatus)
	assert.False(t, mr.Exists(repository.RequestCachePrefix+id))

	got, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.DonationStatus)

	// the next transition reads the committed status
	done, err := repo.UpdateStatus(ctx, id, repository.StatusChange{
		From: got.DonationStatus, To: models.StatusDone, At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, done.DonationStatus)

	got, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.DonationStatus)
}

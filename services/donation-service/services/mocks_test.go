package services_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/providers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/repository"
)

// ---- in-memory request repository ----

type memRequestRepo struct {
	mu     sync.Mutex
	items  map[string]models.DonationRequest
	nextID int

	// readBarrier, when set, holds every FindByID caller until all of them
	// have read, forcing concurrent transitions to race on the write.
	readBarrier *sync.WaitGroup
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{items: map[string]models.DonationRequest{}}
}

func (m *memRequestRepo) seed(r models.DonationRequest) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		m.nextID++
		r.ID = fmt.Sprintf("req-%03d", m.nextID)
	}
	m.items[r.ID] = r
	return r.ID
}

func (m *memRequestRepo) Create(_ context.Context, req *models.DonationRequest) error {
	req.ID = m.seed(*req)
	return nil
}

func (m *memRequestRepo) FindByID(_ context.Context, id string) (*models.DonationRequest, error) {
	m.mu.Lock()
	r, ok := m.items[id]
	m.mu.Unlock()
	if m.readBarrier != nil {
		m.readBarrier.Done()
		m.readBarrier.Wait()
	}
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (m *memRequestRepo) List(_ context.Context, filter repository.RequestFilter, page repository.PageQuery) ([]models.DonationRequest, int64, error) {
	m.mu.Lock()
	all := make([]models.DonationRequest, 0, len(m.items))
	for _, r := range m.items {
		all = append(all, r)
	}
	m.mu.Unlock()
	items, total := repository.Paginate(all, filter, page)
	return items, total, nil
}

func (m *memRequestRepo) UpdateStatus(_ context.Context, id string, change repository.StatusChange) (*models.DonationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if r.DonationStatus != change.From {
		return nil, repository.ErrStatusMismatch
	}
	r.DonationStatus = change.To
	r.UpdatedAt = change.At
	if change.Donor != nil {
		r.Donor = change.Donor
	}
	m.items[id] = r
	return &r, nil
}

func (m *memRequestRepo) UpdateIfPending(_ context.Context, id string, patch models.RequestPatch, at time.Time) (*models.DonationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if r.DonationStatus != models.StatusPending {
		return nil, repository.ErrNotPending
	}
	patch.Apply(&r)
	r.UpdatedAt = at
	m.items[id] = r
	return &r, nil
}

func (m *memRequestRepo) Delete(_ context.Context, id string, allowInProgress bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	if r.DonationStatus == models.StatusInProgress && !allowInProgress {
		return repository.ErrInProgress
	}
	delete(m.items, id)
	return nil
}

func (m *memRequestRepo) status(id string) models.DonationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].DonationStatus
}

// ---- in-memory ledger ----

type memLedger struct {
	mu      sync.Mutex
	byTx    map[string]models.Payment
	inserts int
	err     error
}

func newMemLedger() *memLedger {
	return &memLedger{byTx: map[string]models.Payment{}}
}

func (l *memLedger) Record(_ context.Context, p *models.Payment) (*models.Payment, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if existing, ok := l.byTx[p.TransactionID]; ok {
		return &existing, false, nil
	}
	fresh := *p
	fresh.ID = fmt.Sprintf("pay-%d", len(l.byTx)+1)
	// like Mongo and Postgres, the stored copy keeps millisecond precision
	// while the insert path hands back the caller's value
	stored := fresh
	stored.PaidAt = stored.PaidAt.Truncate(time.Millisecond)
	stored.CreatedAt = stored.CreatedAt.Truncate(time.Millisecond)
	l.byTx[p.TransactionID] = stored
	l.inserts++
	return &fresh, true, nil
}

func (l *memLedger) FindByTransactionID(_ context.Context, tx string) (*models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byTx[tx]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inserts
}

// ---- gateway ----

type mockGateway struct {
	createFn   func(ctx context.Context, intent providers.CheckoutIntent) (providers.CheckoutSession, error)
	retrieveFn func(ctx context.Context, sessionID string) (providers.SessionStatus, error)

	mu         sync.Mutex
	lastIntent providers.CheckoutIntent
}

func (g *mockGateway) CreateCheckoutSession(ctx context.Context, intent providers.CheckoutIntent) (providers.CheckoutSession, error) {
	g.mu.Lock()
	g.lastIntent = intent
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, intent)
	}
	return providers.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.test/cs_test_1"}, nil
}

func (g *mockGateway) RetrieveSession(ctx context.Context, sessionID string) (providers.SessionStatus, error) {
	return g.retrieveFn(ctx, sessionID)
}

func paidSession(sessionID, tx string, minor int64) providers.SessionStatus {
	return providers.SessionStatus{
		SessionID:     sessionID,
		PaymentStatus: "paid",
		TransactionID: tx,
		AmountMinor:   minor,
		Currency:      "USD",
		DonorEmail:    "rahim@example.com",
		DonorName:     "Rahim",
		PaidAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ---- publisher / metrics ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) ofType(t string) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: map[string]int{}}
}

func (m *recordingMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return nil
}

func (m *recordingMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// ---- donor repository ----

type mockDonorRepo struct {
	lastFilter models.DonorFilter
	donors     []models.Donor
	role       string
	err        error
}

func (m *mockDonorRepo) Search(_ context.Context, f models.DonorFilter) ([]models.Donor, error) {
	m.lastFilter = f
	return m.donors, m.err
}

func (m *mockDonorRepo) RoleOf(_ context.Context, _ string) (string, error) {
	return m.role, m.err
}

// ---- actors ----

var (
	admin     = models.Actor{Email: "admin@example.com", Name: "Admin", Role: models.RoleAdmin}
	volunteer = models.Actor{Email: "vol@example.com", Name: "Vol", Role: models.RoleVolunteer}
	requester = models.Actor{Email: "karim@example.com", Name: "Karim", Role: models.RoleDonor}
	stranger  = models.Actor{Email: "other@example.com", Name: "Other", Role: models.RoleDonor}
)

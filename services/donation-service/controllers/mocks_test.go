package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/middleware"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- lifecycle ----

type mockLifecycle struct {
	createFn     func(in models.CreateDonationRequest, actor models.Actor) (*models.DonationRequest, error)
	transitionFn func(id, status string, actor models.Actor) (*services.TransitionResult, error)
	updateFn     func(id string, patch models.RequestPatch, actor models.Actor) (*models.DonationRequest, error)
	deleteFn     func(id string, actor models.Actor, force bool) error
}

func (m *mockLifecycle) Create(_ context.Context, in models.CreateDonationRequest, actor models.Actor) (*models.DonationRequest, error) {
	return m.createFn(in, actor)
}

func (m *mockLifecycle) Transition(_ context.Context, id, status string, actor models.Actor) (*services.TransitionResult, error) {
	return m.transitionFn(id, status, actor)
}

func (m *mockLifecycle) Update(_ context.Context, id string, patch models.RequestPatch, actor models.Actor) (*models.DonationRequest, error) {
	return m.updateFn(id, patch, actor)
}

func (m *mockLifecycle) Delete(_ context.Context, id string, actor models.Actor, force bool) error {
	return m.deleteFn(id, actor, force)
}

// ---- queries ----

type mockQueries struct {
	lastQuery services.ListQuery
	lastPage  services.PageRequest
	page      *services.Page
	req       *models.DonationRequest
	err       error
}

func (m *mockQueries) List(_ context.Context, q services.ListQuery, p services.PageRequest) (*services.Page, error) {
	m.lastQuery, m.lastPage = q, p
	return m.page, m.err
}

func (m *mockQueries) ListPending(_ context.Context, q services.ListQuery, p services.PageRequest) (*services.Page, error) {
	m.lastQuery, m.lastPage = q, p
	return m.page, m.err
}

func (m *mockQueries) ListByRequester(_ context.Context, email string, q services.ListQuery, p services.PageRequest, _ models.Actor) (*services.Page, error) {
	q.RequesterEmail = email
	m.lastQuery, m.lastPage = q, p
	return m.page, m.err
}

func (m *mockQueries) Get(context.Context, string) (*models.DonationRequest, error) {
	return m.req, m.err
}

// ---- reconciliation ----

type mockReconciler struct {
	lastInput services.CheckoutInput
	checkout  *services.CheckoutResult
	confirm   *services.ConfirmResult
	err       error
	confirmed []string
}

func (m *mockReconciler) InitiateCheckout(_ context.Context, in services.CheckoutInput) (*services.CheckoutResult, error) {
	m.lastInput = in
	return m.checkout, m.err
}

func (m *mockReconciler) ConfirmPayment(_ context.Context, sessionID string) (*services.ConfirmResult, error) {
	m.confirmed = append(m.confirmed, sessionID)
	return m.confirm, m.err
}

type stubWebhooks struct {
	enabled bool
	event   stripe.Event
	err     error
}

func (s stubWebhooks) WebhookEnabled() bool { return s.enabled }

func (s stubWebhooks) ParseWebhook([]byte, string) (stripe.Event, error) { return s.event, s.err }

// ---- donors ----

type mockDonors struct {
	lastFilter models.DonorFilter
	donors     []models.Donor
	err        error
}

func (m *mockDonors) Search(_ context.Context, f models.DonorFilter) ([]models.Donor, error) {
	m.lastFilter = f
	return m.donors, m.err
}

func (m *mockDonors) RoleOf(context.Context, string) (string, error) { return models.RoleDonor, nil }

// ---- helpers ----

func testAuth() gin.HandlerFunc {
	return middleware.Authenticate(middleware.AuthConfig{TrustGatewayHeaders: true})
}

func as(email, role string) map[string]string {
	return map[string]string{
		middleware.HeaderUserEmail: email,
		middleware.HeaderUserRole:  role,
		middleware.HeaderUserName:  "Test User",
	}
}

func perform(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

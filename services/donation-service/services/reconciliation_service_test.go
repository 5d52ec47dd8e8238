package services_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	awspkg "github.com/mamun007molla/blood-donation-server/pkg/aws"
	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/providers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func newReconciliation(gw providers.PaymentGateway, ledger *memLedger) (services.ReconciliationService, *recordingPublisher, *recordingMetrics) {
	pub := &recordingPublisher{}
	metrics := newRecordingMetrics()
	svc := services.NewReconciliationService(gw, ledger, pub, metrics,
		services.ReconciliationConfig{Currency: "usd", SiteDomain: "https://blood.example.org/"},
		zap.NewNop())
	return svc, pub, metrics
}

func TestInitiateCheckout(t *testing.T) {
	gw := &mockGateway{}
	ledger := newMemLedger()
	svc, _, metrics := newReconciliation(gw, ledger)

	res, err := svc.InitiateCheckout(context.Background(), services.CheckoutInput{
		DonorName:  "Rahim",
		DonorEmail: "rahim@example.com",
		Amount:     decimal.RequireFromString("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/cs_test_1", res.URL)
	assert.Equal(t, "cs_test_1", res.SessionID)

	assert.Equal(t, int64(5000), gw.lastIntent.AmountMinor)
	assert.Equal(t, "usd", gw.lastIntent.Currency)
	assert.Equal(t, "https://blood.example.org/donation-success?session_id={CHECKOUT_SESSION_ID}", gw.lastIntent.SuccessURL)
	assert.Equal(t, "https://blood.example.org/donation-cancel", gw.lastIntent.CancelURL)
	assert.Equal(t, 0, ledger.count(), "opening a checkout writes nothing")
	assert.Equal(t, 1, metrics.count(awspkg.MetricCheckoutsCreated))
}

func TestInitiateCheckout_RejectsBadAmounts(t *testing.T) {
	gw := &mockGateway{createFn: func(context.Context, providers.CheckoutIntent) (providers.CheckoutSession, error) {
		t.Fatal("gateway must not be called")
		return providers.CheckoutSession{}, nil
	}}
	svc, _, _ := newReconciliation(gw, newMemLedger())

	for _, amount := range []string{"0", "-5", "10.005", "0.001"} {
		_, err := svc.InitiateCheckout(context.Background(), services.CheckoutInput{Amount: decimal.RequireFromString(amount)})
		assert.ErrorIs(t, err, apperrors.ErrValidation, amount)
	}
}

func TestInitiateCheckout_GatewayDown(t *testing.T) {
	gw := &mockGateway{createFn: func(context.Context, providers.CheckoutIntent) (providers.CheckoutSession, error) {
		return providers.CheckoutSession{}, timeoutErr{}
	}}
	svc, _, metrics := newReconciliation(gw, newMemLedger())

	_, err := svc.InitiateCheckout(context.Background(), services.CheckoutInput{Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, apperrors.ErrGatewayUnavailable)
	assert.Equal(t, 1, metrics.count(awspkg.MetricGatewayUnavailable))
}

func TestConfirmPayment_NotPaidWritesNothing(t *testing.T) {
	ledger := newMemLedger()
	gw := &mockGateway{retrieveFn: func(context.Context, string) (providers.SessionStatus, error) {
		return providers.SessionStatus{SessionID: "cs_1", PaymentStatus: "unpaid", AmountMinor: 5000, Currency: "USD"}, nil
	}}
	svc, pub, _ := newReconciliation(gw, ledger)

	res, err := svc.ConfirmPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeNotPaid, res.Outcome)
	assert.Nil(t, res.Payment)
	assert.False(t, res.Fresh())
	assert.Equal(t, 0, ledger.count())
	assert.Empty(t, pub.ofType(models.EventPaymentRecorded))
}

func TestConfirmPayment_TimeoutIsIndeterminate(t *testing.T) {
	ledger := newMemLedger()
	gw := &mockGateway{retrieveFn: func(context.Context, string) (providers.SessionStatus, error) {
		return providers.SessionStatus{}, timeoutErr{}
	}}
	svc, _, _ := newReconciliation(gw, ledger)

	res, err := svc.ConfirmPayment(context.Background(), "cs_1")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrIndeterminate)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 0, ledger.count())
}

func TestConfirmPayment_UnknownSession(t *testing.T) {
	gw := &mockGateway{retrieveFn: func(context.Context, string) (providers.SessionStatus, error) {
		return providers.SessionStatus{}, providers.ErrSessionNotFound
	}}
	svc, _, _ := newReconciliation(gw, newMemLedger())

	_, err := svc.ConfirmPayment(context.Background(), "cs_nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.ConfirmPayment(context.Background(), "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestConfirmPayment_UsesGatewayFigures(t *testing.T) {
	ledger := newMemLedger()
	gw := &mockGateway{retrieveFn: func(_ context.Context, id string) (providers.SessionStatus, error) {
		st := paidSession(id, "pi_777", 2550)
		st.Currency = "usd"
		return st, nil
	}}
	svc, _, _ := newReconciliation(gw, ledger)

	res, err := svc.ConfirmPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	assert.Equal(t, "pi_777", res.Payment.TransactionID)
	assert.Equal(t, "cs_1", res.Payment.SessionID)
	assert.True(t, decimal.RequireFromString("25.50").Equal(res.Payment.Amount))
	assert.Equal(t, "USD", res.Payment.Currency)
	assert.Equal(t, "rahim@example.com", res.Payment.DonorEmail)
	assert.Equal(t, models.PaymentStatusPaid, res.Payment.PaymentStatus)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	ledger := newMemLedger()
	gw := &mockGateway{retrieveFn: func(_ context.Context, id string) (providers.SessionStatus, error) {
		return paidSession(id, "pi_1", 5000), nil
	}}
	svc, pub, metrics := newReconciliation(gw, ledger)

	first, err := svc.ConfirmPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeSettled, first.Outcome)
	assert.True(t, first.Fresh())

	second, err := svc.ConfirmPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeDuplicate, second.Outcome)
	assert.False(t, second.Fresh())
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	assert.Equal(t, 1, ledger.count())
	assert.Len(t, pub.ofType(models.EventPaymentRecorded), 1)
	assert.Equal(t, 1, metrics.count(awspkg.MetricPaymentSucceeded))
	assert.Equal(t, 1, metrics.count(awspkg.MetricPaymentDuplicate))
}

func TestConfirmPayment_DuplicateReturnsIdenticalPayment(t *testing.T) {
	ledger := newMemLedger()
	gw := &mockGateway{retrieveFn: func(_ context.Context, id string) (providers.SessionStatus, error) {
		st := paidSession(id, "pi_clock", 1250)
		st.PaidAt = time.Time{}
		return st, nil
	}}
	svc, _, _ := newReconciliation(gw, ledger)

	first, err := svc.ConfirmPayment(context.Background(), "cs_clock")
	require.NoError(t, err)
	require.True(t, first.Fresh())

	second, err := svc.ConfirmPayment(context.Background(), "cs_clock")
	require.NoError(t, err)
	require.Equal(t, services.OutcomeDuplicate, second.Outcome)

	assert.Equal(t, *first.Payment, *second.Payment)
	assert.True(t, first.Payment.CreatedAt.Equal(first.Payment.CreatedAt.Truncate(time.Millisecond)))
	assert.True(t, first.Payment.PaidAt.Equal(first.Payment.CreatedAt))
}

func TestConfirmPayment_ConcurrentConfirmsInsertOnce(t *testing.T) {
	const n = 20
	ledger := newMemLedger()
	gw := &mockGateway{retrieveFn: func(_ context.Context, id string) (providers.SessionStatus, error) {
		return paidSession(id, "pi_race", 1000), nil
	}}
	svc, pub, _ := newReconciliation(gw, ledger)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		ids      = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ConfirmPayment(context.Background(), "cs_race")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Inserted {
				inserted++
			}
			ids[res.Payment.ID] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Len(t, ids, 1, "every caller sees the same ledger entry")
	assert.Equal(t, 1, ledger.count())
	assert.Len(t, pub.ofType(models.EventPaymentRecorded), 1)
}

func TestConfirmPayment_LedgerFailureIsInternal(t *testing.T) {
	ledger := newMemLedger()
	ledger.err = errors.New("connection reset")
	gw := &mockGateway{retrieveFn: func(_ context.Context, id string) (providers.SessionStatus, error) {
		return paidSession(id, "pi_1", 5000), nil
	}}
	svc, pub, _ := newReconciliation(gw, ledger)

	_, err := svc.ConfirmPayment(context.Background(), "cs_1")
	assert.ErrorIs(t, err, apperrors.ErrInternalServer)
	assert.Empty(t, pub.ofType(models.EventPaymentRecorded))
}

func TestMinorUnits(t *testing.T) {
	minor, err := services.ToMinorUnits(decimal.RequireFromString("12.34"), "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), minor)

	minor, err = services.ToMinorUnits(decimal.RequireFromString("500"), "JPY")
	require.NoError(t, err)
	assert.Equal(t, int64(500), minor)

	_, err = services.ToMinorUnits(decimal.RequireFromString("500.5"), "jpy")
	assert.Error(t, err)

	assert.Equal(t, "12.34", services.FromMinorUnits(1234, "USD").StringFixed(2))
	assert.Equal(t, "500", services.FromMinorUnits(500, "JPY").String())
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	awspkg "github.com/mamun007molla/blood-donation-server/pkg/aws"
	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/common/logger"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/events"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/providers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/repository"
)

// Confirmation outcomes.
const (
	OutcomeSettled   = "settled"
	OutcomeDuplicate = "duplicate"
	OutcomeNotPaid   = "not_paid"
)

// CheckoutInput is a donor's request to open a checkout. Amount is in major
// units of the configured currency.
type CheckoutInput struct {
	DonorName  string
	DonorEmail string
	Amount     decimal.Decimal
	RequestID  string
}

type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// ConfirmResult reports what ConfirmPayment did. Inserted is true only for
// the call that wrote the ledger entry.
type ConfirmResult struct {
	Outcome  string          `json:"outcome"`
	Payment  *models.Payment `json:"payment,omitempty"`
	Inserted bool            `json:"inserted"`
}

// Fresh reports whether this confirmation recorded a new settlement.
func (r ConfirmResult) Fresh() bool { return r.Inserted }

type ReconciliationConfig struct {
	Currency   string
	SiteDomain string
}

// ReconciliationService opens checkouts and records their settlement exactly
// once per gateway transaction.
type ReconciliationService interface {
	InitiateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)
	ConfirmPayment(ctx context.Context, sessionID string) (*ConfirmResult, error)
}

type reconciliationServiceImpl struct {
	gateway   providers.PaymentGateway
	ledger    repository.PaymentLedger
	publisher events.Publisher
	metrics   awspkg.MetricsRecorder
	cfg       ReconciliationConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciliationService(
	gateway providers.PaymentGateway,
	ledger repository.PaymentLedger,
	publisher events.Publisher,
	metrics awspkg.MetricsRecorder,
	cfg ReconciliationConfig,
	logger *zap.Logger,
) ReconciliationService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reconciliationServiceImpl{
		gateway:   gateway,
		ledger:    ledger,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *reconciliationServiceImpl) InitiateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	log := logger.For(ctx, s.logger)

	minor, err := ToMinorUnits(in.Amount, s.cfg.Currency)
	if err != nil {
		return nil, apperrors.Newf(apperrors.KindValidation, "donateAmount: %v", err)
	}

	site := strings.TrimRight(s.cfg.SiteDomain, "/")
	intent := providers.CheckoutIntent{
		AmountMinor: minor,
		Currency:    s.cfg.Currency,
		DonorName:   in.DonorName,
		DonorEmail:  in.DonorEmail,
		RequestID:   in.RequestID,
		SuccessURL:  site + "/donation-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   site + "/donation-cancel",
	}

	start := time.Now()
	sess, err := s.gateway.CreateCheckoutSession(ctx, intent)
	s.latency(ctx, "create_checkout", time.Since(start))
	if err != nil {
		if errors.Is(err, providers.ErrGatewayRejected) {
			return nil, apperrors.New(apperrors.KindValidation, "Payment provider rejected the checkout", err)
		}
		log.Warn("Checkout session creation failed", zap.Error(err))
		s.count(ctx, awspkg.MetricGatewayUnavailable, "create_checkout")
		return nil, apperrors.New(apperrors.KindGatewayUnavailable, apperrors.ErrGatewayUnavailable.Message, err)
	}

	s.count(ctx, awspkg.MetricCheckoutsCreated, "")
	log.Info("Checkout session created",
		zap.String("session_id", sess.ID),
		zap.Int64("amount_minor", minor),
		zap.String("currency", s.cfg.Currency),
	)
	return &CheckoutResult{URL: sess.URL, SessionID: sess.ID}, nil
}

func (s *reconciliationServiceImpl) ConfirmPayment(ctx context.Context, sessionID string) (*ConfirmResult, error) {
	log := logger.For(ctx, s.logger).With(zap.String("session_id", sessionID))

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "session_id is required")
	}

	start := time.Now()
	st, err := s.gateway.RetrieveSession(ctx, sessionID)
	s.latency(ctx, "retrieve_session", time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrSessionNotFound):
			return nil, apperrors.New(apperrors.KindNotFound, "Checkout session not found", err)
		case errors.Is(err, providers.ErrGatewayRejected):
			return nil, apperrors.New(apperrors.KindValidation, "Invalid checkout session", err)
		}
		// Unknown is not unpaid: the donor may well have been charged.
		log.Warn("Settlement status unknown", zap.Error(err))
		s.count(ctx, awspkg.MetricGatewayUnavailable, "retrieve_session")
		return nil, apperrors.New(apperrors.KindIndeterminate, apperrors.ErrIndeterminate.Message, err)
	}

	if !st.Paid() {
		log.Info("Checkout session not paid", zap.String("payment_status", st.PaymentStatus))
		s.count(ctx, awspkg.MetricPaymentNotPaid, "")
		return &ConfirmResult{Outcome: OutcomeNotPaid}, nil
	}

	// stores keep millisecond precision
	now := s.now().UTC().Truncate(time.Millisecond)
	paidAt := st.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	payment := &models.Payment{
		TransactionID: st.TransactionID,
		SessionID:     st.SessionID,
		Amount:        FromMinorUnits(st.AmountMinor, st.Currency),
		Currency:      strings.ToUpper(st.Currency),
		DonorEmail:    st.DonorEmail,
		DonorName:     st.DonorName,
		RequestID:     st.RequestID,
		PaymentStatus: models.PaymentStatusPaid,
		PaidAt:        paidAt,
		CreatedAt:     now,
	}

	stored, inserted, err := s.ledger.Record(ctx, payment)
	if err != nil {
		log.Error("Failed to record payment", zap.String("transaction_id", st.TransactionID), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, apperrors.ErrInternalServer.Message, fmt.Errorf("record payment: %w", err))
	}

	if !inserted {
		log.Info("Payment already recorded", zap.String("transaction_id", stored.TransactionID))
		s.count(ctx, awspkg.MetricPaymentDuplicate, "")
		return &ConfirmResult{Outcome: OutcomeDuplicate, Payment: stored}, nil
	}

	log.Info("Payment recorded",
		zap.String("transaction_id", stored.TransactionID),
		zap.String("amount", stored.Amount.String()),
		zap.String("currency", stored.Currency),
	)
	s.count(ctx, awspkg.MetricPaymentSucceeded, "")
	events.Emit(ctx, s.publisher, log, models.Event{
		Type:    models.EventPaymentRecorded,
		Key:     stored.TransactionID,
		Payload: stored,
	})
	return &ConfirmResult{Outcome: OutcomeSettled, Payment: stored, Inserted: true}, nil
}

func (s *reconciliationServiceImpl) count(ctx context.Context, metric, operation string) {
	if s.metrics == nil {
		return
	}
	dims := map[string]string{"Service": "donation-service"}
	if operation != "" {
		dims["Operation"] = operation
	}
	if err := s.metrics.RecordCount(ctx, metric, dims); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

func (s *reconciliationServiceImpl) latency(ctx context.Context, operation string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	dims := map[string]string{"Service": "donation-service", "Operation": operation}
	if err := s.metrics.RecordLatency(ctx, awspkg.MetricGatewayLatency, d, dims); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", awspkg.MetricGatewayLatency), zap.Error(err))
	}
}

package workers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"

	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/providers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
)

// snsEnvelope unwraps the SNS to SQS message wrapper.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// CheckoutEventHandler settles checkout sessions announced by queued gateway
// events. It is an awspkg.MessageHandler: a returned error leaves the message
// on the queue for redelivery.
type CheckoutEventHandler struct {
	reconciler services.ReconciliationService
	logger     *zap.Logger
}

func NewCheckoutEventHandler(reconciler services.ReconciliationService, logger *zap.Logger) *CheckoutEventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutEventHandler{reconciler: reconciler, logger: logger}
}

// Handle processes one message body. Bodies are either a raw gateway event or
// an SNS notification wrapping one.
func (h *CheckoutEventHandler) Handle(ctx context.Context, body string) error {
	raw := []byte(body)

	var envelope snsEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Type == "Notification" && envelope.Message != "" {
		raw = []byte(envelope.Message)
	}

	var event stripe.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		// unparseable, ack so it does not loop
		h.logger.Error("Failed to decode queued gateway event", zap.Error(err))
		return nil
	}

	sessionID, err := providers.CheckoutSessionIDFromEvent(event)
	if err != nil {
		if errors.Is(err, providers.ErrUnsupportedEvent) {
			h.logger.Debug("Ignoring gateway event", zap.String("event_type", string(event.Type)))
		} else {
			h.logger.Warn("Malformed checkout event", zap.String("event_id", event.ID), zap.Error(err))
		}
		return nil
	}

	res, err := h.reconciler.ConfirmPayment(ctx, sessionID)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindIndeterminate, apperrors.KindInternal:
			h.logger.Warn("Checkout confirmation deferred",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			return err
		}
		h.logger.Error("Checkout confirmation rejected",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil
	}

	h.logger.Info("Checkout event processed",
		zap.String("event_id", event.ID),
		zap.String("session_id", sessionID),
		zap.String("outcome", res.Outcome),
	)
	return nil
}

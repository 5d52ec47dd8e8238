package controllers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"

	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/common/logger"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/providers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
)

const maxWebhookBytes = 64 << 10

// WebhookVerifier authenticates gateway webhook deliveries.
type WebhookVerifier interface {
	WebhookEnabled() bool
	ParseWebhook(payload []byte, signature string) (stripe.Event, error)
}

// PaymentController serves checkout and settlement endpoints.
type PaymentController struct {
	reconciler services.ReconciliationService
	webhooks   WebhookVerifier
	logger     *zap.Logger
}

func NewPaymentController(reconciler services.ReconciliationService, webhooks WebhookVerifier, logger *zap.Logger) *PaymentController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentController{reconciler: reconciler, webhooks: webhooks, logger: logger}
}

// CreateCheckout handles POST /create-payment-checkout
func (pc *PaymentController) CreateCheckout(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var body models.CheckoutRequest
	if err := bindStrict(c, &body); err != nil {
		respondError(c, err)
		return
	}

	name := strings.TrimSpace(body.DonorName)
	if name == "" {
		name = actor.Name
	}
	res, err := pc.reconciler.InitiateCheckout(c.Request.Context(), services.CheckoutInput{
		DonorName:  name,
		DonorEmail: actor.Email,
		Amount:     body.DonateAmount,
		RequestID:  strings.TrimSpace(body.RequestID),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ConfirmPayment handles GET and POST /payment-success?session_id=
func (pc *PaymentController) ConfirmPayment(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		respondError(c, apperrors.Newf(apperrors.KindValidation, "session_id is required"))
		return
	}

	res, err := pc.reconciler.ConfirmPayment(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StripeWebhook handles POST /stripe/webhook
func (pc *PaymentController) StripeWebhook(c *gin.Context) {
	log := logger.For(c.Request.Context(), pc.logger)
	if pc.webhooks == nil || !pc.webhooks.WebhookEnabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not configured"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}
	event, err := pc.webhooks.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	sessionID, err := providers.CheckoutSessionIDFromEvent(event)
	if err != nil {
		if !errors.Is(err, providers.ErrUnsupportedEvent) {
			log.Warn("Malformed checkout webhook", zap.String("event_id", event.ID), zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	res, err := pc.reconciler.ConfirmPayment(c.Request.Context(), sessionID)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindIndeterminate, apperrors.KindInternal:
			// non-2xx makes Stripe redeliver
			log.Warn("Webhook settlement deferred", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "retry"})
		default:
			log.Error("Webhook settlement rejected", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "rejected"})
		}
		return
	}

	log.Info("Processed Stripe webhook",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("outcome", res.Outcome),
	)
	c.JSON(http.StatusOK, gin.H{"status": res.Outcome})
}

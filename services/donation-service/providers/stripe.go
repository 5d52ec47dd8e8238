package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

const (
	metaDonorName  = "donorName"
	metaDonorEmail = "donorEmail"
	metaRequestID  = "requestId"

	donationProductName = "Blood donation support"
)

// StripeConfig configures StripeGateway. BaseURL overrides the API host and is
// only set in tests.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int64
	BaseURL       string
}

// StripeGateway implements PaymentGateway with Stripe Checkout. It owns its
// client instance and never touches the package-level stripe.Key.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, intent CheckoutIntent) (CheckoutSession, error) {
	description := "Donation"
	if intent.DonorName != "" || intent.DonorEmail != "" {
		description = fmt.Sprintf("Donation from %s (%s)", intent.DonorName, intent.DonorEmail)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(intent.Currency)),
					UnitAmount: stripe.Int64(intent.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(donationProductName),
						Description: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(intent.SuccessURL),
		CancelURL:  stripe.String(intent.CancelURL),
	}
	if intent.DonorEmail != "" {
		params.CustomerEmail = stripe.String(intent.DonorEmail)
	}
	params.AddMetadata(metaDonorName, intent.DonorName)
	params.AddMetadata(metaDonorEmail, intent.DonorEmail)
	if intent.RequestID != "" {
		params.AddMetadata(metaRequestID, intent.RequestID)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, classifyStripeError(err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("payment_intent.latest_charge")
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return SessionStatus{}, classifyStripeError(err)
	}
	return sessionStatusFrom(sess), nil
}

func sessionStatusFrom(sess *stripe.CheckoutSession) SessionStatus {
	st := SessionStatus{
		SessionID:     sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		AmountMinor:   sess.AmountTotal,
		Currency:      strings.ToUpper(string(sess.Currency)),
		DonorEmail:    sess.CustomerEmail,
		DonorName:     sess.Metadata[metaDonorName],
		RequestID:     sess.Metadata[metaRequestID],
	}
	if st.DonorEmail == "" && sess.CustomerDetails != nil {
		st.DonorEmail = sess.CustomerDetails.Email
	}
	if st.DonorEmail == "" {
		st.DonorEmail = sess.Metadata[metaDonorEmail]
	}
	if pi := sess.PaymentIntent; pi != nil {
		st.TransactionID = pi.ID
		switch {
		case pi.LatestCharge != nil && pi.LatestCharge.Created > 0:
			st.PaidAt = time.Unix(pi.LatestCharge.Created, 0).UTC()
		case pi.Created > 0:
			st.PaidAt = time.Unix(pi.Created, 0).UTC()
		}
	}
	return st
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe unreachable: %w", err)
	}
	switch {
	case stripeErr.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, stripeErr.Msg)
	case stripeErr.Type == stripe.ErrorTypeInvalidRequest, stripeErr.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("%w: %s", ErrGatewayRejected, stripeErr.Msg)
	}
	return fmt.Errorf("stripe error (%s): %w", stripeErr.Type, err)
}

// ErrUnsupportedEvent is returned for webhook events that do not settle a
// checkout session.
var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// WebhookEnabled reports whether a signing secret is configured.
func (g *StripeGateway) WebhookEnabled() bool {
	return g.webhookSecret != ""
}

// CheckoutSessionIDFromEvent returns the session id carried by a settling
// checkout event, or ErrUnsupportedEvent.
func CheckoutSessionIDFromEvent(event stripe.Event) (string, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
	if event.Data == nil {
		return "", fmt.Errorf("event %s has no data", event.ID)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}
	if sess.ID == "" {
		return "", fmt.Errorf("event %s carries no session id", event.ID)
	}
	return sess.ID, nil
}

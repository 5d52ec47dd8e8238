package providers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/providers"
)

func newGateway(t *testing.T, handler http.HandlerFunc) *providers.StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return providers.NewStripeGateway(providers.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		Timeout:       200 * time.Millisecond,
		BaseURL:       srv.URL,
	})
}

func TestStripeGateway_CreateCheckoutSession(t *testing.T) {
	var form url.Values
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "cs_test_1", "object": "checkout.session", "url": "https://checkout.stripe.com/c/pay/cs_test_1",
		})
	})

	sess, err := gw.CreateCheckoutSession(context.Background(), providers.CheckoutIntent{
		AmountMinor: 5000,
		Currency:    "USD",
		DonorName:   "Rahim",
		DonorEmail:  "rahim@example.com",
		SuccessURL:  "https://site.test/donation-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   "https://site.test/donation-cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.URL)
	assert.Equal(t, "5000", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "Rahim", form.Get("metadata[donorName]"))
	assert.Equal(t, "rahim@example.com", form.Get("customer_email"))
}

func TestStripeGateway_RetrieveSession_Paid(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_paid", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "cs_paid",
			"object":         "checkout.session",
			"payment_status": "paid",
			"amount_total":   2550,
			"currency":       "usd",
			"customer_email": "rahim@example.com",
			"metadata":       map[string]string{"donorName": "Rahim"},
			"payment_intent": map[string]interface{}{
				"id":            "pi_123",
				"object":        "payment_intent",
				"created":       1735689600,
				"latest_charge": map[string]interface{}{"id": "ch_1", "object": "charge", "created": 1735693200},
			},
		})
	})

	st, err := gw.RetrieveSession(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, st.Paid())
	assert.Equal(t, "pi_123", st.TransactionID)
	assert.Equal(t, int64(2550), st.AmountMinor)
	assert.Equal(t, "USD", st.Currency)
	assert.Equal(t, "Rahim", st.DonorName)
	assert.Equal(t, time.Unix(1735693200, 0).UTC(), st.PaidAt)
}

func TestStripeGateway_RetrieveSession_Errors(t *testing.T) {
	t.Run("missing session", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
		})
		_, err := gw.RetrieveSession(context.Background(), "cs_missing")
		assert.ErrorIs(t, err, providers.ErrSessionNotFound)
	})

	t.Run("timeout is not a rejection", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		})
		_, err := gw.RetrieveSession(context.Background(), "cs_slow")
		require.Error(t, err)
		assert.NotErrorIs(t, err, providers.ErrSessionNotFound)
		assert.NotErrorIs(t, err, providers.ErrGatewayRejected)
	})

	t.Run("invalid request", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid currency"}}`))
		})
		_, err := gw.CreateCheckoutSession(context.Background(), providers.CheckoutIntent{AmountMinor: 1, Currency: "zzz"})
		assert.ErrorIs(t, err, providers.ErrGatewayRejected)
	})
}

func TestParseWebhook(t *testing.T) {
	gw := providers.NewStripeGateway(providers.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_test"})
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_hook","object":"checkout.session"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := gw.ParseWebhook(payload, signed.Header)
	require.NoError(t, err)
	id, err := providers.CheckoutSessionIDFromEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "cs_hook", id)

	_, err = gw.ParseWebhook(payload, "t=1,v1=bad")
	assert.Error(t, err)
}

func TestCheckoutSessionIDFromEvent_Unsupported(t *testing.T) {
	_, err := providers.CheckoutSessionIDFromEvent(stripe.Event{Type: "charge.refunded"})
	assert.ErrorIs(t, err, providers.ErrUnsupportedEvent)
}

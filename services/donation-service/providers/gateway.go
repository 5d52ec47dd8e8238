package providers

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound means the gateway has no checkout session with that id.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrGatewayRejected means the gateway refused the request as invalid.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
)

// CheckoutIntent describes a hosted checkout to open. AmountMinor is in the
// currency's minor units.
type CheckoutIntent struct {
	AmountMinor int64
	Currency    string
	DonorName   string
	DonorEmail  string
	RequestID   string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the gateway's handle for an opened checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// SessionStatus is the gateway's authoritative view of a checkout session.
// TransactionID is the settlement reference and is empty until paid.
type SessionStatus struct {
	SessionID     string
	PaymentStatus string
	TransactionID string
	AmountMinor   int64
	Currency      string
	DonorEmail    string
	DonorName     string
	RequestID     string
	PaidAt        time.Time
}

// Paid reports whether the gateway considers the session settled.
func (s SessionStatus) Paid() bool {
	return s.PaymentStatus == "paid" && s.TransactionID != ""
}

// PaymentGateway is a hosted-checkout payment provider. Errors other than
// ErrSessionNotFound and ErrGatewayRejected mean the provider could not be
// reached or did not answer in time.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, intent CheckoutIntent) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (SessionStatus, error)
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts render as JSON numbers, matching what the dashboard expects
	decimal.MarshalJSONWithoutQuotes = true
}

const PaymentStatusPaid = "paid"

// Payment is a settled donation recorded in the ledger. TransactionID is the
// gateway's settlement reference and is unique across the ledger.
type Payment struct {
	ID            string          `json:"_id"`
	TransactionID string          `json:"transactionId"`
	SessionID     string          `json:"sessionId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DonorEmail    string          `json:"donorEmail"`
	DonorName     string          `json:"donorName"`
	RequestID     string          `json:"requestId,omitempty"`
	PaymentStatus string          `json:"payment_status"`
	PaidAt        time.Time       `json:"paidAt"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// CheckoutRequest is the body of POST /create-payment-checkout.
type CheckoutRequest struct {
	DonorName    string          `json:"donorName" binding:"omitempty,max=120"`
	DonorEmail   string          `json:"donorEmail" binding:"omitempty,email"`
	DonateAmount decimal.Decimal `json:"donateAmount"`
	RequestID    string          `json:"requestId" binding:"omitempty,max=64"`
}

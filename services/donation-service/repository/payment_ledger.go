package repository

import (
	"context"
	"errors"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

var ErrPaymentNotFound = errors.New("payment not found")

// PaymentLedger is the append-only record of settled payments.
//
// Record inserts p unless a payment with the same TransactionID already exists,
// in which case the existing record is returned with inserted=false. The
// check and insert are a single atomic operation in the store.
type PaymentLedger interface {
	Record(ctx context.Context, p *models.Payment) (stored *models.Payment, inserted bool, err error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
}

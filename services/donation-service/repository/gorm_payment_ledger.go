package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

type paymentRow struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	TransactionID string          `gorm:"column:transaction_id;uniqueIndex;not null"`
	SessionID     string          `gorm:"column:session_id;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      string          `gorm:"column:currency;size:3;not null"`
	DonorEmail    string          `gorm:"column:donor_email"`
	DonorName     string          `gorm:"column:donor_name"`
	RequestID     string          `gorm:"column:request_id"`
	PaymentStatus string          `gorm:"column:payment_status;not null"`
	PaidAt        time.Time       `gorm:"column:paid_at"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (paymentRow) TableName() string { return "payments" }

func (r paymentRow) toModel() *models.Payment {
	return &models.Payment{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		SessionID:     r.SessionID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		DonorEmail:    r.DonorEmail,
		DonorName:     r.DonorName,
		RequestID:     r.RequestID,
		PaymentStatus: r.PaymentStatus,
		PaidAt:        r.PaidAt,
		CreatedAt:     r.CreatedAt,
	}
}

// GormPaymentLedger stores payments in PostgreSQL with a unique constraint on
// transaction_id.
type GormPaymentLedger struct {
	db *gorm.DB
}

func NewGormPaymentLedger(db *gorm.DB) *GormPaymentLedger {
	return &GormPaymentLedger{db: db}
}

// Migrate creates or updates the payments table.
func (l *GormPaymentLedger) Migrate() error {
	return l.db.AutoMigrate(&paymentRow{})
}

func (l *GormPaymentLedger) Record(ctx context.Context, p *models.Payment) (*models.Payment, bool, error) {
	row := paymentRow{
		ID:            uuid.NewString(),
		TransactionID: p.TransactionID,
		SessionID:     p.SessionID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		DonorEmail:    p.DonorEmail,
		DonorName:     p.DonorName,
		RequestID:     p.RequestID,
		PaymentStatus: p.PaymentStatus,
		PaidAt:        p.PaidAt,
		CreatedAt:     p.CreatedAt,
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "transaction_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := l.FindByTransactionID(ctx, p.TransactionID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return row.toModel(), true, nil
}

func (l *GormPaymentLedger) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var row paymentRow
	if err := l.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment %s: %w", transactionID, err)
	}
	return row.toModel(), nil
}

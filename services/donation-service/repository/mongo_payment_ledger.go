package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

const PaymentsCollection = "payments"

type MongoPaymentLedger struct {
	coll *mongo.Collection
}

func NewMongoPaymentLedger(db *mongo.Database) *MongoPaymentLedger {
	return &MongoPaymentLedger{coll: db.Collection(PaymentsCollection)}
}

type mongoPayment struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty"`
	TransactionID string               `bson:"transactionId"`
	SessionID     string               `bson:"sessionId"`
	Amount        primitive.Decimal128 `bson:"amount"`
	Currency      string               `bson:"currency"`
	DonorEmail    string               `bson:"donorEmail"`
	DonorName     string               `bson:"donorName"`
	RequestID     string               `bson:"requestId,omitempty"`
	PaymentStatus string               `bson:"payment_status"`
	PaidAt        time.Time            `bson:"paidAt"`
	CreatedAt     time.Time            `bson:"createdAt"`
}

func (d mongoPayment) toModel() (*models.Payment, error) {
	amount, err := decimal.NewFromString(d.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", d.Amount.String(), err)
	}
	return &models.Payment{
		ID:            d.ID.Hex(),
		TransactionID: d.TransactionID,
		SessionID:     d.SessionID,
		Amount:        amount,
		Currency:      d.Currency,
		DonorEmail:    d.DonorEmail,
		DonorName:     d.DonorName,
		RequestID:     d.RequestID,
		PaymentStatus: d.PaymentStatus,
		PaidAt:        d.PaidAt,
		CreatedAt:     d.CreatedAt,
	}, nil
}

// EnsureIndexes creates the unique transactionId index that Record relies on.
func (l *MongoPaymentLedger) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "transactionId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_transaction_id"),
	})
	if err != nil {
		return fmt.Errorf("create payment indexes: %w", err)
	}
	return nil
}

func (l *MongoPaymentLedger) Record(ctx context.Context, p *models.Payment) (*models.Payment, bool, error) {
	amount, err := primitive.ParseDecimal128(p.Amount.String())
	if err != nil {
		return nil, false, fmt.Errorf("encode amount: %w", err)
	}

	doc := mongoPayment{
		ID:            primitive.NewObjectID(),
		TransactionID: p.TransactionID,
		SessionID:     p.SessionID,
		Amount:        amount,
		Currency:      p.Currency,
		DonorEmail:    p.DonorEmail,
		DonorName:     p.DonorName,
		RequestID:     p.RequestID,
		PaymentStatus: p.PaymentStatus,
		PaidAt:        p.PaidAt,
		CreatedAt:     p.CreatedAt,
	}

	if _, err := l.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, ferr := l.FindByTransactionID(ctx, p.TransactionID)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert payment: %w", err)
	}

	stored := *p
	stored.ID = doc.ID.Hex()
	return &stored, true, nil
}

func (l *MongoPaymentLedger) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var doc mongoPayment
	if err := l.coll.FindOne(ctx, bson.M{"transactionId": transactionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment %s: %w", transactionID, err)
	}
	return doc.toModel()
}

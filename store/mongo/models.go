package mongo

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
	"github.com/xraph/settle/voucher"
)

type paymentRequestModel struct {
	ID            int64           `bson:"_id"`
	ReferenceID   string          `bson:"reference_id"`
	CustomerPhone string          `bson:"customer_phone"`
	Amount        bson.Decimal128 `bson:"amount"`
	Status        string          `bson:"status"`
	CreatedAt     time.Time       `bson:"created_at"`
	UpdatedAt     *time.Time      `bson:"updated_at,omitempty"`
}

type transactionModel struct {
	ID               int64           `bson:"_id"`
	PaymentReference string          `bson:"payment_reference"`
	CustomerPhone    string          `bson:"customer_phone"`
	Amount           bson.Decimal128 `bson:"amount"`
	Status           string          `bson:"status"`
	BundleID         int64           `bson:"bundle_id,omitempty"`
	VoucherID        *int64          `bson:"voucher_id,omitempty"`
	CreatedAt        time.Time       `bson:"created_at"`
	UpdatedAt        *time.Time      `bson:"updated_at,omitempty"`
}

type voucherModel struct {
	ID       int64  `bson:"_id"`
	BundleID int64  `bson:"bundle_id"`
	Status   string `bson:"status"`
}

// ==================== Converters ====================

func toAmount(d decimal.Decimal) (bson.Decimal128, error) {
	return bson.ParseDecimal128(d.String())
}

func fromAmount(d bson.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}

func toPaymentRequestModel(id int64, r *payment.Record) (*paymentRequestModel, error) {
	amount, err := toAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	return &paymentRequestModel{
		ID:            id,
		ReferenceID:   r.ReferenceID,
		CustomerPhone: r.CustomerPhone,
		Amount:        amount,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func toTransactionModel(id int64, t *transaction.Transaction) (*transactionModel, error) {
	amount, err := toAmount(t.Amount)
	if err != nil {
		return nil, err
	}
	return &transactionModel{
		ID:               id,
		PaymentReference: t.PaymentReference,
		CustomerPhone:    t.CustomerPhone,
		Amount:           amount,
		Status:           string(t.Status),
		BundleID:         t.BundleID,
		VoucherID:        t.VoucherID,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}, nil
}

func toVoucherModel(id int64, v *voucher.Voucher) *voucherModel {
	return &voucherModel{ID: id, BundleID: v.BundleID, Status: string(v.Status)}
}

func fromPaymentRequestModel(m *paymentRequestModel) (*payment.Record, error) {
	amount, err := fromAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	return &payment.Record{
		Timestamps:    types.Timestamps{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            m.ID,
		Table:         payment.TablePaymentRequests,
		ReferenceID:   m.ReferenceID,
		CustomerPhone: m.CustomerPhone,
		Amount:        amount,
		Status:        payment.Status(m.Status),
	}, nil
}

func fromTransactionModel(m *transactionModel) (*payment.Record, error) {
	amount, err := fromAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	return &payment.Record{
		Timestamps:    types.Timestamps{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            m.ID,
		Table:         payment.TableTransactions,
		ReferenceID:   m.PaymentReference,
		CustomerPhone: m.CustomerPhone,
		Amount:        amount,
		Status:        payment.Status(m.Status),
	}, nil
}

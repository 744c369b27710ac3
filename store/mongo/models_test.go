package mongo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

func TestPaymentRequestModelRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &payment.Record{
		Timestamps:    types.NewTimestamps(now),
		ReferenceID:   "REF1",
		CustomerPhone: "256700000001",
		Amount:        decimal.RequireFromString("1500.50"),
		Status:        payment.StatusPending,
	}

	m, err := toPaymentRequestModel(42, in)
	if err != nil {
		t.Fatalf("toPaymentRequestModel: %v", err)
	}
	out, err := fromPaymentRequestModel(m)
	if err != nil {
		t.Fatalf("fromPaymentRequestModel: %v", err)
	}

	if out.ID != 42 || out.Table != payment.TablePaymentRequests {
		t.Errorf("identity: got %d/%s", out.ID, out.Table)
	}
	if !out.Amount.Equal(in.Amount) {
		t.Errorf("Amount: got %s, want %s", out.Amount, in.Amount)
	}
	if out.ReferenceID != "REF1" || out.Status != payment.StatusPending {
		t.Errorf("fields: got %+v", out)
	}
	if out.UpdatedAt != nil {
		t.Errorf("UpdatedAt: got %v, want nil", out.UpdatedAt)
	}
}

func TestTransactionModelUsesPaymentReference(t *testing.T) {
	voucherID := int64(7)
	in := &transaction.Transaction{
		PaymentReference: "REF9",
		Amount:           decimal.NewFromInt(5000),
		Status:           payment.StatusCompleted,
		BundleID:         3,
		VoucherID:        &voucherID,
	}

	m, err := toTransactionModel(5, in)
	if err != nil {
		t.Fatalf("toTransactionModel: %v", err)
	}
	if m.VoucherID == nil || *m.VoucherID != 7 || m.BundleID != 3 {
		t.Errorf("model: got %+v", m)
	}

	rec, err := fromTransactionModel(m)
	if err != nil {
		t.Fatalf("fromTransactionModel: %v", err)
	}
	if rec.Table != payment.TableTransactions || rec.ReferenceID != "REF9" {
		t.Errorf("record: got %s %q", rec.Table, rec.ReferenceID)
	}
}

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/store/storetest"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/voucher"
)

type harness struct {
	*memory.Store
}

func (h harness) SeedPaymentRequest(_ context.Context, r payment.Record) (int64, error) {
	return h.AddPaymentRequest(r), nil
}

func (h harness) SeedTransaction(_ context.Context, t transaction.Transaction) (int64, error) {
	return h.AddTransaction(t), nil
}

func (h harness) SeedVoucher(_ context.Context, v voucher.Voucher) (int64, error) {
	return h.AddVoucher(v), nil
}

func (h harness) PaymentStatus(_ context.Context, table payment.Table, id int64) (payment.Status, *time.Time, error) {
	switch table {
	case payment.TablePaymentRequests:
		if r, ok := h.PaymentRequest(id); ok {
			return r.Status, r.UpdatedAt, nil
		}
	case payment.TableTransactions:
		if t, ok := h.Transaction(id); ok {
			return t.Status, t.UpdatedAt, nil
		}
	}
	return "", nil, settle.ErrPaymentNotFound
}

func (h harness) TransactionVoucher(_ context.Context, id int64) (*int64, error) {
	t, ok := h.Transaction(id)
	if !ok {
		return nil, settle.ErrTransactionNotFound
	}
	return t.VoucherID, nil
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) storetest.Harness {
		return harness{memory.New()}
	})
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); err != settle.ErrStoreClosed {
		t.Errorf("Ping after close: got %v, want %v", err, settle.ErrStoreClosed)
	}
	if _, err := s.FindUnsettled(context.Background(), payment.UnsettledQuery{Now: time.Now()}); err != settle.ErrStoreClosed {
		t.Errorf("FindUnsettled after close: got %v, want %v", err, settle.ErrStoreClosed)
	}
}

func TestSeedingAssignsIDs(t *testing.T) {
	s := memory.New()
	a := s.AddVoucher(voucher.Voucher{ID: 2, BundleID: 1, Status: voucher.StatusActive})
	b := s.AddVoucher(voucher.Voucher{BundleID: 1, Status: voucher.StatusActive})
	c := s.AddVoucher(voucher.Voucher{BundleID: 1, Status: voucher.StatusActive})

	if a != 2 || b != 1 || c != 3 {
		t.Errorf("ids: got %d, %d, %d, want 2, 1, 3", a, b, c)
	}
}

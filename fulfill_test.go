package settle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/voucher"
)

func TestFulfillAtMostOncePerTransaction(t *testing.T) {
	s := memory.New()
	seedREF1(s)
	for id := int64(12); id < 16; id++ {
		s.AddVoucher(voucher.Voucher{ID: id, BundleID: 5, Status: voucher.StatusActive})
	}
	out := &outbox{}
	f := settle.NewFulfiller(s, out, settle.Env{Now: fixedClock})

	rec := &payment.Record{ID: 3, Table: payment.TableTransactions, ReferenceID: "REF1"}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		allocs []*voucher.Allocation
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.Fulfill(context.Background(), rec)
			if err != nil {
				t.Errorf("Fulfill: %v", err)
				return
			}
			if a != nil {
				mu.Lock()
				allocs = append(allocs, a)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(allocs) != 1 {
		t.Fatalf("allocations: got %d, want 1", len(allocs))
	}
	if allocs[0].VoucherID != 11 {
		t.Errorf("voucher: got %d, want lowest id 11", allocs[0].VoucherID)
	}
	if n := len(out.Messages()); n != 1 {
		t.Errorf("notifications: got %d, want 1", n)
	}
}

func TestFulfillDistinctVouchersPerBundle(t *testing.T) {
	s := memory.New()
	for i := int64(1); i <= 5; i++ {
		s.AddTransaction(transaction.Transaction{
			Timestamps:       createdAgo(time.Minute),
			ID:               100 + i,
			PaymentReference: "REF",
			CustomerPhone:    "2567000000",
			Status:           payment.StatusCompleted,
			BundleID:         5,
		})
		s.AddVoucher(voucher.Voucher{ID: 200 + i, BundleID: 5, Status: voucher.StatusActive})
	}
	f := settle.NewFulfiller(s, nil, settle.Env{})

	var wg sync.WaitGroup
	for i := int64(1); i <= 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &payment.Record{ID: 100 + i, Table: payment.TableTransactions}
			if _, err := f.Fulfill(context.Background(), rec); err != nil {
				t.Errorf("Fulfill: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := int64(1); i <= 5; i++ {
		txn, _ := s.Transaction(100 + i)
		if txn.VoucherID == nil {
			t.Fatalf("transaction %d has no voucher", txn.ID)
		}
		if seen[*txn.VoucherID] {
			t.Errorf("voucher %d assigned twice", *txn.VoucherID)
		}
		seen[*txn.VoucherID] = true
	}
}

func TestFulfillSkips(t *testing.T) {
	tests := []struct {
		name string
		seed func(*memory.Store)
		rec  payment.Record
	}{
		{
			name: "unknown transaction",
			seed: func(*memory.Store) {},
			rec:  payment.Record{ID: 1, Table: payment.TablePaymentRequests, ReferenceID: "NOPE"},
		},
		{
			name: "no bundle",
			seed: func(s *memory.Store) {
				s.AddTransaction(transaction.Transaction{ID: 3, PaymentReference: "REF1"})
			},
			rec: payment.Record{ID: 3, Table: payment.TableTransactions, ReferenceID: "REF1"},
		},
		{
			name: "bundle exhausted",
			seed: func(s *memory.Store) {
				s.AddTransaction(transaction.Transaction{ID: 3, PaymentReference: "REF1", BundleID: 5})
				s.AddVoucher(voucher.Voucher{ID: 11, BundleID: 5, Status: voucher.StatusDisabled})
			},
			rec: payment.Record{ID: 3, Table: payment.TableTransactions, ReferenceID: "REF1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			tt.seed(s)
			out := &outbox{}
			f := settle.NewFulfiller(s, out, settle.Env{})

			a, err := f.Fulfill(context.Background(), &tt.rec)
			if err != nil {
				t.Fatalf("Fulfill: %v", err)
			}
			if a != nil {
				t.Errorf("allocation: got %+v, want nil", a)
			}
			if n := len(out.Messages()); n != 0 {
				t.Errorf("notifications: got %d, want 0", n)
			}
		})
	}
}

func TestFulfillResolvesFromPaymentRequest(t *testing.T) {
	s := memory.New()
	seedREF1(s)
	f := settle.NewFulfiller(s, nil, settle.Env{Now: fixedClock})

	a, err := f.Fulfill(context.Background(), &payment.Record{
		ID:          1,
		Table:       payment.TablePaymentRequests,
		ReferenceID: "REF1",
	})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if a == nil {
		t.Fatal("expected an allocation")
	}
	if a.TransactionID != 3 || a.BundleID != 5 || a.VoucherID != 11 {
		t.Errorf("allocation: got %+v", a)
	}
	if !a.AllocatedAt.Equal(testNow) {
		t.Errorf("AllocatedAt: got %v, want %v", a.AllocatedAt, testNow)
	}
}

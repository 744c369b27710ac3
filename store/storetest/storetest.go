// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
	"github.com/xraph/settle/voucher"
)

// Harness is a migrated, empty store plus the seeding and inspection hooks
// the suite needs. Backends implement it in their _test files.
type Harness interface {
	store.Store

	SeedPaymentRequest(ctx context.Context, r payment.Record) (int64, error)
	SeedTransaction(ctx context.Context, t transaction.Transaction) (int64, error)
	SeedVoucher(ctx context.Context, v voucher.Voucher) (int64, error)

	PaymentStatus(ctx context.Context, table payment.Table, id int64) (payment.Status, *time.Time, error)
	TransactionVoucher(ctx context.Context, id int64) (*int64, error)
}

// Run executes the suite. newHarness must return an isolated harness per call.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()

	t.Run("FindUnsettled", func(t *testing.T) { testFindUnsettled(t, newHarness(t)) })
	t.Run("UpdateStatusPropagates", func(t *testing.T) { testUpdateStatusPropagates(t, newHarness(t)) })
	t.Run("UpdateStatusIdempotent", func(t *testing.T) { testUpdateStatusIdempotent(t, newHarness(t)) })
	t.Run("ResolveTransaction", func(t *testing.T) { testResolveTransaction(t, newHarness(t)) })
	t.Run("AllocateVoucher", func(t *testing.T) { testAllocateVoucher(t, newHarness(t)) })
	t.Run("AllocateVoucherGuard", func(t *testing.T) { testAllocateVoucherGuard(t, newHarness(t)) })
	t.Run("AllocateVoucherConcurrent", func(t *testing.T) { testAllocateVoucherConcurrent(t, newHarness(t)) })
	t.Run("CustomerPhone", func(t *testing.T) { testCustomerPhone(t, newHarness(t)) })
}

// base is the suite's reference "now", truncated so every backend stores it
// without losing precision.
func base() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func query(now time.Time) payment.UnsettledQuery {
	return payment.UnsettledQuery{Now: now, Lookback: 10 * time.Minute, SettleGuard: 5 * time.Second}
}

func pendingRequest(ref string, created time.Time) payment.Record {
	return payment.Record{
		ReferenceID:   ref,
		CustomerPhone: "256700000001",
		Amount:        decimal.RequireFromString("5000"),
		Status:        payment.StatusPending,
		Timestamps:    types.NewTimestamps(created),
	}
}

func pendingTransaction(ref string, created time.Time, bundle int64) transaction.Transaction {
	return transaction.Transaction{
		PaymentReference: ref,
		CustomerPhone:    "256700000002",
		Amount:           decimal.RequireFromString("5000"),
		Status:           payment.StatusPending,
		BundleID:         bundle,
		Timestamps:       types.NewTimestamps(created),
	}
}

// must fails the test on a seed error. Use as must(h.SeedX(ctx, ...))(t).
func must[T any](v T, err error) func(*testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		return v
	}
}

func testFindUnsettled(t *testing.T, h Harness) {
	ctx := context.Background()
	now := base()

	newer := must(h.SeedPaymentRequest(ctx, pendingRequest("REF-B", now.Add(-time.Minute))))(t)
	older := must(h.SeedPaymentRequest(ctx, pendingRequest("REF-A", now.Add(-2*time.Minute))))(t)
	must(h.SeedPaymentRequest(ctx, pendingRequest("REF-OLD", now.Add(-11*time.Minute))))(t)

	done := pendingRequest("REF-DONE", now.Add(-time.Minute))
	done.Status = payment.StatusCompleted
	must(h.SeedPaymentRequest(ctx, done))(t)

	touched := pendingRequest("REF-BUSY", now.Add(-time.Minute))
	touched.Touch(now.Add(-2 * time.Second))
	must(h.SeedPaymentRequest(ctx, touched))(t)

	stale := pendingRequest("REF-STALE", now.Add(-3*time.Minute))
	stale.Touch(now.Add(-time.Minute))
	staleID := must(h.SeedPaymentRequest(ctx, stale))(t)

	txnID := must(h.SeedTransaction(ctx, pendingTransaction("REF-A", now.Add(-90*time.Second), 5)))(t)

	got, err := h.FindUnsettled(ctx, query(now))
	if err != nil {
		t.Fatalf("FindUnsettled: %v", err)
	}

	want := []struct {
		table payment.Table
		id    int64
		ref   string
	}{
		{payment.TablePaymentRequests, staleID, "REF-STALE"},
		{payment.TablePaymentRequests, older, "REF-A"},
		{payment.TablePaymentRequests, newer, "REF-B"},
		{payment.TableTransactions, txnID, "REF-A"},
	}
	if len(got) != len(want) {
		for _, r := range got {
			t.Logf("got %s/%d %s", r.Table, r.ID, r.ReferenceID)
		}
		t.Fatalf("FindUnsettled: got %d records, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Table != w.table || got[i].ID != w.id || got[i].ReferenceID != w.ref {
			t.Errorf("record %d: got %s/%d %s, want %s/%d %s",
				i, got[i].Table, got[i].ID, got[i].ReferenceID, w.table, w.id, w.ref)
		}
		if got[i].Status != payment.StatusPending {
			t.Errorf("record %d: status %q", i, got[i].Status)
		}
	}
	if !got[1].Amount.Equal(decimal.RequireFromString("5000")) {
		t.Errorf("Amount: got %s, want 5000", got[1].Amount)
	}
}

func testUpdateStatusPropagates(t *testing.T, h Harness) {
	ctx := context.Background()
	now := base()

	reqID := must(h.SeedPaymentRequest(ctx, pendingRequest("REF1", now.Add(-time.Minute))))(t)
	txnID := must(h.SeedTransaction(ctx, pendingTransaction("REF1", now.Add(-time.Minute), 5)))(t)
	otherID := must(h.SeedTransaction(ctx, pendingTransaction("REF2", now.Add(-time.Minute), 5)))(t)

	res, err := h.UpdateStatus(ctx, payment.StatusUpdate{
		PaymentID:   reqID,
		Table:       payment.TablePaymentRequests,
		ReferenceID: "REF1",
		Status:      payment.StatusCompleted,
		At:          now,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if res.PrimaryRows != 1 || res.MirrorRows != 1 {
		t.Errorf("UpdateResult: got %+v, want 1/1", res)
	}

	assertStatus(t, h, payment.TablePaymentRequests, reqID, payment.StatusCompleted)
	assertStatus(t, h, payment.TableTransactions, txnID, payment.StatusCompleted)
	assertStatus(t, h, payment.TableTransactions, otherID, payment.StatusPending)

	// Updating from the transactions side mirrors back to payment_requests.
	if _, err := h.UpdateStatus(ctx, payment.StatusUpdate{
		PaymentID:   txnID,
		Table:       payment.TableTransactions,
		ReferenceID: "REF1",
		Status:      payment.StatusFailed,
		At:          now,
	}); err != nil {
		t.Fatalf("UpdateStatus from transactions: %v", err)
	}
	assertStatus(t, h, payment.TablePaymentRequests, reqID, payment.StatusFailed)
	assertStatus(t, h, payment.TableTransactions, txnID, payment.StatusFailed)

	// The updated rows drop out of the unsettled set.
	got, err := h.FindUnsettled(ctx, query(now.Add(time.Minute)))
	if err != nil {
		t.Fatalf("FindUnsettled: %v", err)
	}
	for _, r := range got {
		if r.ReferenceID == "REF1" {
			t.Errorf("REF1 still unsettled in %s", r.Table)
		}
	}
}

func testUpdateStatusIdempotent(t *testing.T, h Harness) {
	ctx := context.Background()
	now := base()

	reqID := must(h.SeedPaymentRequest(ctx, pendingRequest("REF1", now.Add(-time.Minute))))(t)
	txnID := must(h.SeedTransaction(ctx, pendingTransaction("REF1", now.Add(-time.Minute), 5)))(t)

	u := payment.StatusUpdate{
		PaymentID:   reqID,
		Table:       payment.TablePaymentRequests,
		ReferenceID: "REF1",
		Status:      payment.StatusCompleted,
		At:          now,
	}
	for i := 0; i < 2; i++ {
		if _, err := h.UpdateStatus(ctx, u); err != nil {
			t.Fatalf("UpdateStatus #%d: %v", i+1, err)
		}
	}

	assertStatus(t, h, payment.TablePaymentRequests, reqID, payment.StatusCompleted)
	assertStatus(t, h, payment.TableTransactions, txnID, payment.StatusCompleted)

	_, updated, err := h.PaymentStatus(ctx, payment.TablePaymentRequests, reqID)
	if err != nil {
		t.Fatalf("PaymentStatus: %v", err)
	}
	if updated == nil || !updated.Equal(now) {
		t.Errorf("updated_at: got %v, want %v", updated, now)
	}

	if _, err := h.UpdateStatus(ctx, payment.StatusUpdate{Table: "vouchers", ReferenceID: "REF1", Status: payment.StatusCompleted}); err == nil {
		t.Error("expected error for unknown table")
	}
}

func testResolveTransaction(t *testing.T, h Harness) {
	ctx := context.Background()
	now := base()

	reqID := must(h.SeedPaymentRequest(ctx, pendingRequest("REF1", now)))(t)
	txnID := must(h.SeedTransaction(ctx, pendingTransaction("REF1", now, 5)))(t)

	byRef, err := h.ResolveTransaction(ctx, payment.TablePaymentRequests, reqID, "REF1")
	if err != nil {
		t.Fatalf("ResolveTransaction by reference: %v", err)
	}
	if byRef.TransactionID != txnID || byRef.BundleID != 5 || byRef.Fulfilled() {
		t.Errorf("by reference: got %+v", byRef)
	}

	byID, err := h.ResolveTransaction(ctx, payment.TableTransactions, txnID, "ignored")
	if err != nil {
		t.Fatalf("ResolveTransaction by id: %v", err)
	}
	if byID.TransactionID != txnID {
		t.Errorf("by id: got %d, want %d", byID.TransactionID, txnID)
	}

	if _, err := h.ResolveTransaction(ctx, payment.TablePaymentRequests, reqID, "REF-MISSING"); !errors.Is(err, settle.ErrTransactionNotFound) {
		t.Errorf("missing reference: got %v, want %v", err, settle.ErrTransactionNotFound)
	}
	if _, err := h.ResolveTransaction(ctx, payment.TableTransactions, txnID+1000, ""); !errors.Is(err, settle.ErrTransactionNotFound) {
		t.Errorf("missing id: got %v, want %v", err, settle.ErrTransactionNotFound)
	}
}

func testAllocateVoucher(t *testing.T, h Harness) {
	ctx := context.Background()
	now := base()

	must(h.SeedVoucher(ctx, voucher.Voucher{BundleID: 9, Status: voucher.StatusActive}))(t)
	must(h.SeedVoucher(ctx, voucher.Voucher{BundleID: 5, Status: voucher.StatusDisabled}))(t)
	taken := must(h.SeedVoucher(ctx, voucher.Voucher{BundleID: 5, Status: voucher.StatusActive}))(t)
	free := must(h.SeedVoucher(ctx, voucher.Voucher{BundleID: 5, Status: voucher.StatusActive}))(t)

	holder := pendingTransaction("REF-HOLDER", now, 5)
	holder.VoucherID = &taken
	must(h.SeedTransaction(ctx, holder))(t)

	txnID := must(h.SeedTransaction(ctx, pendingTransaction("REF1", now, 5)))(t)

	got, err := h.AllocateVoucher(ctx, 5, txnID)
	if err != nil {
		t.Fatalf("AllocateVoucher: %v", err)
	}
	if got != free {
		t.Errorf("AllocateVoucher: got voucher %d, want %d", got, free)
	}

	vid, err := h.TransactionVoucher(ctx, txnID)
	if err != nil {
		t.Fatalf("TransactionVoucher: %v", err)
	}
	if vid == nil || *vid != free {
		t.Errorf("transaction voucher: got %v, want %d", vid, free)
	}

	// Bundle 5 is now exhausted.
	next := must(h.SeedTransaction(ctx, pendingTransaction("REF2", now, 5)))(t)
	if _, err := h.AllocateVoucher(ctx, 5, next); !errors.Is(err, settle.ErrNoVoucherAvailable) {
		t.Errorf("exhausted bundle: got %v, want %v", err, settle.ErrNoVoucherAvailable)
	}
}

func testAllocateVoucherGuard(t *testing.T, h Harness) {
	ctx := context.Background()
	now := base()

	must(h.SeedVoucher(ctx, voucher.Voucher{BundleID: 5, Status: voucher.StatusActive}))(t)
	must(h.SeedVoucher(ctx, voucher.Voucher{BundleID: 5, Status: voucher.StatusActive}))(t)
	txnID := must(h.SeedTransaction(ctx, pendingTransaction("REF1", now, 5)))(t)

	first, err := h.AllocateVoucher(ctx, 5, txnID)
	if err != nil {
		t.Fatalf("AllocateVoucher: %v", err)
	}

	if _, err := h.AllocateVoucher(ctx, 5, txnID); !errors.Is(err, settle.ErrVoucherAlreadyAssigned) {
		t.Errorf("second allocation: got %v, want %v", err, settle.ErrVoucherAlreadyAssigned)
	}

	vid, err := h.TransactionVoucher(ctx, txnID)
	if err != nil {
		t.Fatalf("TransactionVoucher: %v", err)
	}
	if vid == nil || *vid != first {
		t.Errorf("voucher changed after guarded allocation: got %v, want %d", vid, first)
	}

	if _, err := h.AllocateVoucher(ctx, 5, txnID+1000); !errors.Is(err, settle.ErrTransactionNotFound) {
		t.Errorf("missing transaction: got %v, want %v", err, settle.ErrTransactionNotFound)
	}
}

func testAllocateVoucherConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	now := base()

	const vouchers = 3
	const txns = 5

	for i := 0; i < vouchers; i++ {
		must(h.SeedVoucher(ctx, voucher.Voucher{BundleID: 7, Status: voucher.StatusActive}))(t)
	}
	ids := make([]int64, txns)
	for i := range ids {
		ids[i] = must(h.SeedTransaction(ctx, pendingTransaction("REF-C", now, 7)))(t)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		assigned = make(map[int64]int64)
		failures int
	)
	for _, txnID := range ids {
		wg.Add(1)
		go func(txnID int64) {
			defer wg.Done()
			vid, err := h.AllocateVoucher(ctx, 7, txnID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, settle.ErrNoVoucherAvailable) {
					t.Errorf("AllocateVoucher(%d): %v", txnID, err)
				}
				failures++
				return
			}
			if other, dup := assigned[vid]; dup {
				t.Errorf("voucher %d assigned to both %d and %d", vid, other, txnID)
			}
			assigned[vid] = txnID
		}(txnID)
	}
	wg.Wait()

	if len(assigned) != vouchers {
		t.Errorf("assigned: got %d vouchers, want %d", len(assigned), vouchers)
	}
	if failures != txns-vouchers {
		t.Errorf("failures: got %d, want %d", failures, txns-vouchers)
	}
}

func testCustomerPhone(t *testing.T, h Harness) {
	ctx := context.Background()

	txnID := must(h.SeedTransaction(ctx, pendingTransaction("REF1", base(), 5)))(t)

	phone, err := h.CustomerPhone(ctx, txnID)
	if err != nil {
		t.Fatalf("CustomerPhone: %v", err)
	}
	if phone != "256700000002" {
		t.Errorf("CustomerPhone: got %q", phone)
	}

	if _, err := h.CustomerPhone(ctx, txnID+1000); !errors.Is(err, settle.ErrTransactionNotFound) {
		t.Errorf("missing transaction: got %v, want %v", err, settle.ErrTransactionNotFound)
	}
}

func assertStatus(t *testing.T, h Harness, table payment.Table, id int64, want payment.Status) {
	t.Helper()
	got, _, err := h.PaymentStatus(context.Background(), table, id)
	if err != nil {
		t.Fatalf("PaymentStatus(%s, %d): %v", table, id, err)
	}
	if got != want {
		t.Errorf("%s/%d status: got %q, want %q", table, id, got, want)
	}
}

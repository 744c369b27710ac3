package settle_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
	"github.com/xraph/settle/voucher"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fakeGateway answers Status from a code table and counts calls per reference.
type fakeGateway struct {
	mu    sync.Mutex
	codes map[string]string
	errs  map[string]error
	calls map[string]int
	block chan struct{}
}

func newFakeGateway(codes map[string]string) *fakeGateway {
	return &fakeGateway{codes: codes, errs: map[string]error{}, calls: map[string]int{}}
}

func (g *fakeGateway) Status(ctx context.Context, ref string) (string, error) {
	g.mu.Lock()
	g.calls[ref]++
	block := g.block
	err := g.errs[ref]
	code, ok := g.codes[ref]
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "pending", nil
	}
	return code, nil
}

func (g *fakeGateway) Calls(ref string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[ref]
}

func (g *fakeGateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

// outbox records every notification.
type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (o *outbox) Notify(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return o.err
}

func (o *outbox) Messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.sent...)
}

// mirrorFailing fails every sibling write after applying the primary one.
type mirrorFailing struct {
	*memory.Store
}

func (s mirrorFailing) UpdateStatus(ctx context.Context, u payment.StatusUpdate) (payment.UpdateResult, error) {
	res, err := s.Store.UpdateStatus(ctx, u)
	if err != nil {
		return res, err
	}
	return payment.UpdateResult{PrimaryRows: res.PrimaryRows}, &payment.MirrorError{
		Table:       u.Table.Sibling(),
		ReferenceID: u.ReferenceID,
		Err:         errors.New("sibling table locked"),
	}
}

func createdAgo(d time.Duration) types.Timestamps {
	return types.NewTimestamps(testNow.Add(-d))
}

// seedREF1 stores payment request 1 and transaction 3 for REF1, with
// voucher 11 free in bundle 5.
func seedREF1(s *memory.Store) {
	s.AddPaymentRequest(payment.Record{
		Timestamps:    createdAgo(2 * time.Minute),
		ID:            1,
		ReferenceID:   "REF1",
		CustomerPhone: "256700000001",
		Amount:        decimal.NewFromInt(5000),
		Status:        payment.StatusPending,
	})
	s.AddTransaction(transaction.Transaction{
		Timestamps:       createdAgo(2 * time.Minute),
		ID:               3,
		PaymentReference: "REF1",
		CustomerPhone:    "256700000002",
		Amount:           decimal.NewFromInt(5000),
		Status:           payment.StatusPending,
		BundleID:         5,
	})
	s.AddVoucher(voucher.Voucher{ID: 11, BundleID: 5, Status: voucher.StatusActive})
}

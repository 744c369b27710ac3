package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/voucher"
)

// Env carries the dependencies every engine component shares.
type Env struct {
	Logger  *slog.Logger
	Plugins *plugin.Registry
	Now     func() time.Time
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Plugins == nil {
		e.Plugins = plugin.NewRegistry().WithLogger(e.Logger)
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// Fulfiller assigns a voucher to the transaction behind a completed payment
// and notifies the customer.
type Fulfiller struct {
	store    store.Store
	notifier notify.Notifier
	env      Env
	locks    bundleLocks
}

// NewFulfiller creates a Fulfiller. A nil notifier drops every message.
func NewFulfiller(s store.Store, n notify.Notifier, env Env) *Fulfiller {
	if n == nil {
		n = notify.Discard
	}
	return &Fulfiller{
		store:    s,
		notifier: n,
		env:      env.withDefaults(),
		locks:    bundleLocks{held: make(map[int64]*bundleLock)},
	}
}

// Fulfill allocates a voucher for rec, which must have completed. It returns
// nil without error whenever there is nothing to allocate: the transaction is
// unknown, already holds a voucher, names no bundle, or the bundle is empty.
// A failed notification never fails fulfillment.
func (f *Fulfiller) Fulfill(ctx context.Context, rec *payment.Record) (*voucher.Allocation, error) {
	logger := f.env.Logger.With("reference_id", rec.ReferenceID)

	res, err := f.store.ResolveTransaction(ctx, rec.Table, rec.ID, rec.ReferenceID)
	if IsNotFound(err) {
		logger.Warn("could not find transaction for voucher assignment",
			"table", rec.Table,
			"payment_id", rec.ID,
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settle: resolve transaction: %w", err)
	}

	if res.Fulfilled() {
		logger.Info("transaction already fulfilled",
			"transaction_id", res.TransactionID,
			"voucher_id", *res.VoucherID,
		)
		return nil, nil
	}
	if !res.HasBundle() {
		logger.Warn("transaction has no bundle", "transaction_id", res.TransactionID)
		return nil, nil
	}

	unlock := f.locks.lock(res.BundleID)
	voucherID, err := f.store.AllocateVoucher(ctx, res.BundleID, res.TransactionID)
	unlock()

	switch {
	case errors.Is(err, ErrNoVoucherAvailable):
		logger.Warn("no available voucher for bundle",
			"bundle_id", res.BundleID,
			"transaction_id", res.TransactionID,
		)
		f.env.Plugins.EmitVoucherUnavailable(ctx, res.TransactionID, res.BundleID, rec.ReferenceID)
		return nil, nil
	case errors.Is(err, ErrVoucherAlreadyAssigned):
		logger.Info("voucher assigned concurrently", "transaction_id", res.TransactionID)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("settle: allocate voucher: %w", err)
	}

	alloc := &voucher.Allocation{
		ID:            id.NewAllocationID(),
		TransactionID: res.TransactionID,
		BundleID:      res.BundleID,
		VoucherID:     voucherID,
		ReferenceID:   rec.ReferenceID,
		AllocatedAt:   f.env.Now(),
	}
	logger.Info("voucher assigned",
		"voucher_id", voucherID,
		"transaction_id", res.TransactionID,
		"bundle_id", res.BundleID,
	)
	f.env.Plugins.EmitVoucherAllocated(ctx, alloc)

	f.notify(ctx, alloc)
	return alloc, nil
}

func (f *Fulfiller) notify(ctx context.Context, alloc *voucher.Allocation) {
	msg := &notify.Message{
		ID:            id.NewNotificationID(),
		VoucherID:     alloc.VoucherID,
		TransactionID: alloc.TransactionID,
		ReferenceID:   alloc.ReferenceID,
	}

	phone, err := f.store.CustomerPhone(ctx, alloc.TransactionID)
	if err == nil && phone == "" {
		err = errors.New("customer phone is empty")
	}
	if err != nil {
		f.env.Logger.Warn("no customer phone for voucher notification",
			"transaction_id", alloc.TransactionID,
			"error", err,
		)
		f.env.Plugins.EmitNotificationFailed(ctx, msg, err)
		return
	}
	msg.CustomerPhone = phone

	if err := f.notifier.Notify(ctx, *msg); err != nil {
		f.env.Logger.Error("voucher notification failed",
			"transaction_id", alloc.TransactionID,
			"voucher_id", alloc.VoucherID,
			"error", err,
		)
		f.env.Plugins.EmitNotificationFailed(ctx, msg, err)
		return
	}

	f.env.Logger.Info("voucher notification sent",
		"transaction_id", alloc.TransactionID,
		"voucher_id", alloc.VoucherID,
	)
	f.env.Plugins.EmitNotificationSent(ctx, msg)
}

// bundleLocks serialises allocation per bundle. Entries are dropped once no
// caller holds or waits on them.
type bundleLocks struct {
	mu   sync.Mutex
	held map[int64]*bundleLock
}

type bundleLock struct {
	mu   sync.Mutex
	refs int
}

func (b *bundleLocks) lock(bundleID int64) func() {
	b.mu.Lock()
	l, ok := b.held[bundleID]
	if !ok {
		l = &bundleLock{}
		b.held[bundleID] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.held, bundleID)
		}
		b.mu.Unlock()
	}
}

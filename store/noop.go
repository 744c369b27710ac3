package store

import (
	"context"
	"errors"

	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/voucher"
)

// ErrDegraded is reported by health checks while the real store is unavailable.
var ErrDegraded = errors.New("store: running degraded, database unavailable")

// Compile-time checks that the unified interface covers each entity store.
var (
	_ payment.Store     = Store(nil)
	_ transaction.Store = Store(nil)
	_ voucher.Store     = Store(nil)
	_ Store             = Noop{}
)

// Noop is the store used while the database cannot be reached. Reads return
// nothing and writes are dropped, so ticks run as idle heartbeats.
type Noop struct{}

func (Noop) FindUnsettled(context.Context, payment.UnsettledQuery) ([]*payment.Record, error) {
	return nil, nil
}

func (Noop) UpdateStatus(context.Context, payment.StatusUpdate) (payment.UpdateResult, error) {
	return payment.UpdateResult{}, ErrDegraded
}

func (Noop) ResolveTransaction(context.Context, payment.Table, int64, string) (*transaction.Resolution, error) {
	return nil, ErrDegraded
}

func (Noop) CustomerPhone(context.Context, int64) (string, error) {
	return "", ErrDegraded
}

func (Noop) AllocateVoucher(context.Context, int64, int64) (int64, error) {
	return 0, ErrDegraded
}

func (Noop) Migrate(context.Context) error { return nil }

func (Noop) Ping(context.Context) error { return ErrDegraded }

func (Noop) Close() error { return nil }

package store

import (
	"context"

	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/transaction"
)

// Store is the unified storage interface over the payments tables.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Payment methods
	FindUnsettled(ctx context.Context, q payment.UnsettledQuery) ([]*payment.Record, error)
	UpdateStatus(ctx context.Context, u payment.StatusUpdate) (payment.UpdateResult, error)

	// Transaction methods
	ResolveTransaction(ctx context.Context, table payment.Table, paymentID int64, referenceID string) (*transaction.Resolution, error)
	CustomerPhone(ctx context.Context, transactionID int64) (string, error)

	// Voucher methods
	AllocateVoucher(ctx context.Context, bundleID, transactionID int64) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

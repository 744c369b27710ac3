package transaction

import (
	"context"

	"github.com/xraph/settle/payment"
)

type Store interface {
	// ResolveTransaction finds the canonical transaction for a payment row.
	// Rows from the transactions table resolve by id, payment_requests rows
	// by reference.
	ResolveTransaction(ctx context.Context, table payment.Table, paymentID int64, referenceID string) (*Resolution, error)
	CustomerPhone(ctx context.Context, transactionID int64) (string, error)
}

package voucher

import "context"

type Store interface {
	// AllocateVoucher assigns one available voucher from bundleID to the
	// transaction and returns its id. The assignment only lands while the
	// transaction has no voucher.
	AllocateVoucher(ctx context.Context, bundleID, transactionID int64) (int64, error)
}

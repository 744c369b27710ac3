package voucher

import (
	"time"

	"github.com/xraph/settle/id"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Voucher is one unit of bundle inventory. A voucher is available while it
// is active and no transaction references it.
type Voucher struct {
	ID       int64  `json:"id"`
	BundleID int64  `json:"bundle_id"`
	Status   Status `json:"status"`
}

// Allocation records a voucher assigned to a transaction.
type Allocation struct {
	ID            id.AllocationID `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	BundleID      int64           `json:"bundle_id"`
	VoucherID     int64           `json:"voucher_id"`
	ReferenceID   string          `json:"reference_id"`
	AllocatedAt   time.Time       `json:"allocated_at"`
}

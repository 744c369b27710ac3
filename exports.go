package settle

import (
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/tick"
	"github.com/xraph/settle/types"
	"github.com/xraph/settle/voucher"
)

// Re-export common types so callers don't have to import the record packages.

// Timestamps is re-exported from types package.
type Timestamps = types.Timestamps

// Status is re-exported from payment package.
type Status = payment.Status

// Report is re-exported from tick package.
type Report = tick.Report

// Allocation is re-exported from voucher package.
type Allocation = voucher.Allocation

// Re-export payment statuses
const (
	StatusPending   = payment.StatusPending
	StatusCompleted = payment.StatusCompleted
	StatusFailed    = payment.StatusFailed
)

// Re-export constructors
var (
	MapStatus     = payment.MapStatus
	NewTimestamps = types.NewTimestamps
)

package transaction

import (
	"github.com/shopspring/decimal"

	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/types"
)

// Transaction is the canonical fulfillment record. VoucherID is set at most
// once, when the payment behind it completes.
type Transaction struct {
	types.Timestamps
	ID               int64           `json:"id"`
	PaymentReference string          `json:"payment_reference"`
	CustomerPhone    string          `json:"customer_phone"`
	Amount           decimal.Decimal `json:"amount"`
	Status           payment.Status  `json:"status"`
	BundleID         int64           `json:"bundle_id,omitempty"`
	VoucherID        *int64          `json:"voucher_id,omitempty"`
}

// Resolution is the slice of a transaction the fulfiller needs.
type Resolution struct {
	TransactionID int64  `json:"transaction_id"`
	BundleID      int64  `json:"bundle_id,omitempty"`
	VoucherID     *int64 `json:"voucher_id,omitempty"`
}

// Fulfilled reports whether a voucher is already attached.
func (r *Resolution) Fulfilled() bool {
	return r.VoucherID != nil
}

// HasBundle reports whether the transaction names a bundle to allocate from.
func (r *Resolution) HasBundle() bool {
	return r.BundleID != 0
}

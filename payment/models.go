package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/settle/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the internal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s ends reconciliation for a record.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Table names one of the two physical tables a payment can live in.
type Table string

const (
	TablePaymentRequests Table = "payment_requests"
	TableTransactions    Table = "transactions"
)

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	return t == TablePaymentRequests || t == TableTransactions
}

// Sibling returns the table that mirrors t.
func (t Table) Sibling() Table {
	if t == TableTransactions {
		return TablePaymentRequests
	}
	return TableTransactions
}

// ReferenceColumn is the column holding the gateway reference in t.
func (t Table) ReferenceColumn() string {
	if t == TableTransactions {
		return "payment_reference"
	}
	return "reference_id"
}

// Record is one payment row as seen by the reconciler. The same payment
// can appear once per table, correlated by ReferenceID.
type Record struct {
	types.Timestamps
	ID            int64           `json:"id"`
	Table         Table           `json:"table"`
	ReferenceID   string          `json:"reference_id"`
	CustomerPhone string          `json:"customer_phone"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
}

// UnsettledQuery selects pending records worth re-checking.
type UnsettledQuery struct {
	// Now anchors both windows.
	Now time.Time
	// Lookback excludes records created at or before Now-Lookback.
	Lookback time.Duration
	// SettleGuard excludes records updated at or after Now-SettleGuard.
	SettleGuard time.Duration
}

// CreatedAfter is the exclusive lower bound on created_at.
func (q UnsettledQuery) CreatedAfter() time.Time { return q.Now.Add(-q.Lookback) }

// UpdatedBefore is the exclusive upper bound on a non-null updated_at.
func (q UnsettledQuery) UpdatedBefore() time.Time { return q.Now.Add(-q.SettleGuard) }

// Matches applies the query to an in-memory record.
func (q UnsettledQuery) Matches(r *Record) bool {
	return r.Status == StatusPending &&
		r.CreatedWithin(q.Now, q.Lookback) &&
		r.SettledFor(q.Now, q.SettleGuard)
}

// StatusUpdate moves one record, and its mirror in the sibling table, to Status.
type StatusUpdate struct {
	PaymentID   int64
	Table       Table
	ReferenceID string
	Status      Status
	At          time.Time
}

// Validate checks the update before it reaches a store.
func (u StatusUpdate) Validate() error {
	if !u.Table.Valid() {
		return fmt.Errorf("payment: unknown table %q", u.Table)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("payment: invalid status %q", u.Status)
	}
	if u.ReferenceID == "" {
		return errors.New("payment: reference id is required")
	}
	return nil
}

// UpdateResult reports how many rows each half of a status update touched.
type UpdateResult struct {
	PrimaryRows int64 `json:"primary_rows"`
	MirrorRows  int64 `json:"mirror_rows"`
}

// MirrorError is returned when the primary row was updated but the sibling
// table could not be. The two tables disagree until a later update lands.
type MirrorError struct {
	Table       Table
	ReferenceID string
	Err         error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("payment: mirror update of %s for reference %q failed: %v", e.Table, e.ReferenceID, e.Err)
}

func (e *MirrorError) Unwrap() error { return e.Err }

// StatusChange is the event emitted after a successful status update.
type StatusChange struct {
	PaymentID   int64        `json:"payment_id"`
	Table       Table        `json:"table"`
	ReferenceID string       `json:"reference_id"`
	Status      Status       `json:"status"`
	Result      UpdateResult `json:"result"`
	At          time.Time    `json:"at"`
}

// Package plugin provides the hook system for settle. Plugins implement any
// subset of the hook interfaces below and are dispatched by a Registry.
package plugin

import (
	"context"

	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/tick"
	"github.com/xraph/settle/voucher"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called once the reconciler has started.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, r interface{}) error
}

// OnShutdown is called when the reconciler stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTickCompleted is called after every reconciliation tick.
type OnTickCompleted interface {
	Plugin
	OnTickCompleted(ctx context.Context, report *tick.Report) error
}

// OnStatusChanged is called after a record and its mirror were updated.
type OnStatusChanged interface {
	Plugin
	OnStatusChanged(ctx context.Context, change *payment.StatusChange) error
}

// OnMirrorFailed is called when the primary row was updated but the sibling
// table could not be.
type OnMirrorFailed interface {
	Plugin
	OnMirrorFailed(ctx context.Context, change *payment.StatusChange, err error) error
}

// OnStatusCheckFailed is called when the gateway lookup or the status write
// for a reference fails.
type OnStatusCheckFailed interface {
	Plugin
	OnStatusCheckFailed(ctx context.Context, referenceID string, err error) error
}

// ──────────────────────────────────────────────────
// Fulfillment hooks
// ──────────────────────────────────────────────────

// OnVoucherAllocated is called after a voucher is assigned to a transaction.
type OnVoucherAllocated interface {
	Plugin
	OnVoucherAllocated(ctx context.Context, alloc *voucher.Allocation) error
}

// OnVoucherUnavailable is called when a completed payment's bundle has no
// free voucher.
type OnVoucherUnavailable interface {
	Plugin
	OnVoucherUnavailable(ctx context.Context, transactionID, bundleID int64, referenceID string) error
}

// OnNotificationSent is called after a voucher notification was delivered.
type OnNotificationSent interface {
	Plugin
	OnNotificationSent(ctx context.Context, msg *notify.Message) error
}

// OnNotificationFailed is called when a voucher notification could not be
// delivered. It is not retried.
type OnNotificationFailed interface {
	Plugin
	OnNotificationFailed(ctx context.Context, msg *notify.Message, err error) error
}

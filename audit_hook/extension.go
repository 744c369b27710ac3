// Package audithook bridges settle reconciliation events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on a
// particular audit store. Callers inject a RecorderFunc adapter, or the
// bundled KafkaRecorder, at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/tick"
	"github.com/xraph/settle/voucher"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnTickCompleted      = (*Extension)(nil)
	_ plugin.OnStatusChanged      = (*Extension)(nil)
	_ plugin.OnMirrorFailed       = (*Extension)(nil)
	_ plugin.OnStatusCheckFailed  = (*Extension)(nil)
	_ plugin.OnVoucherAllocated   = (*Extension)(nil)
	_ plugin.OnVoucherUnavailable = (*Extension)(nil)
	_ plugin.OnNotificationSent   = (*Extension)(nil)
	_ plugin.OnNotificationFailed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges reconciliation events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTickCompleted implements plugin.OnTickCompleted. Idle ticks are not
// audited.
func (e *Extension) OnTickCompleted(ctx context.Context, report *tick.Report) error {
	if report.Idle() {
		return nil
	}
	outcome := OutcomeSuccess
	severity := SeverityInfo
	if report.HasErrors() {
		outcome = OutcomePartial
		severity = SeverityWarning
	}
	return e.record(ctx, ActionTickCompleted, severity, outcome,
		ResourceTick, report.ID.String(), CategoryReconciliation, nil,
		"fetched", report.Fetched,
		"checked", report.Checked,
		"updated", report.Updated,
		"fulfilled", report.Fulfilled,
		"errors", len(report.Errors),
		"duration_ms", report.Duration.Milliseconds(),
	)
}

// OnStatusChanged implements plugin.OnStatusChanged.
func (e *Extension) OnStatusChanged(ctx context.Context, change *payment.StatusChange) error {
	action := ActionPaymentCompleted
	if change.Status == payment.StatusFailed {
		action = ActionPaymentFailed
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourcePayment, change.ReferenceID, CategoryPayment, nil,
		"table", string(change.Table),
		"payment_id", change.PaymentID,
		"status", string(change.Status),
		"mirror_rows", change.Result.MirrorRows,
	)
}

// OnMirrorFailed implements plugin.OnMirrorFailed.
func (e *Extension) OnMirrorFailed(ctx context.Context, change *payment.StatusChange, err error) error {
	return e.record(ctx, ActionMirrorFailed, SeverityWarning, OutcomePartial,
		ResourcePayment, change.ReferenceID, CategoryPayment, err,
		"table", string(change.Table),
		"mirror_table", string(change.Table.Sibling()),
		"status", string(change.Status),
	)
}

// OnStatusCheckFailed implements plugin.OnStatusCheckFailed.
func (e *Extension) OnStatusCheckFailed(ctx context.Context, referenceID string, err error) error {
	return e.record(ctx, ActionStatusCheckFailed, SeverityError, OutcomeFailure,
		ResourcePayment, referenceID, CategoryIntegration, err,
	)
}

// ──────────────────────────────────────────────────
// Fulfillment hooks
// ──────────────────────────────────────────────────

// OnVoucherAllocated implements plugin.OnVoucherAllocated.
func (e *Extension) OnVoucherAllocated(ctx context.Context, alloc *voucher.Allocation) error {
	return e.record(ctx, ActionVoucherAllocated, SeverityInfo, OutcomeSuccess,
		ResourceVoucher, strconv.FormatInt(alloc.VoucherID, 10), CategoryFulfillment, nil,
		"allocation_id", alloc.ID.String(),
		"transaction_id", alloc.TransactionID,
		"bundle_id", alloc.BundleID,
		"reference_id", alloc.ReferenceID,
	)
}

// OnVoucherUnavailable implements plugin.OnVoucherUnavailable.
func (e *Extension) OnVoucherUnavailable(ctx context.Context, transactionID, bundleID int64, referenceID string) error {
	return e.record(ctx, ActionVoucherUnavailable, SeverityWarning, OutcomeFailure,
		ResourceTransaction, strconv.FormatInt(transactionID, 10), CategoryFulfillment, nil,
		"bundle_id", bundleID,
		"reference_id", referenceID,
	)
}

// OnNotificationSent implements plugin.OnNotificationSent.
func (e *Extension) OnNotificationSent(ctx context.Context, msg *notify.Message) error {
	return e.record(ctx, ActionNotificationSent, SeverityInfo, OutcomeSuccess,
		ResourceNotification, msg.ID.String(), CategoryFulfillment, nil,
		"transaction_id", msg.TransactionID,
		"voucher_id", msg.VoucherID,
	)
}

// OnNotificationFailed implements plugin.OnNotificationFailed.
func (e *Extension) OnNotificationFailed(ctx context.Context, msg *notify.Message, err error) error {
	return e.record(ctx, ActionNotificationFailed, SeverityError, OutcomeFailure,
		ResourceNotification, msg.ID.String(), CategoryFulfillment, err,
		"transaction_id", msg.TransactionID,
		"voucher_id", msg.VoucherID,
	)
}

// record builds an AuditEvent and sends it through the recorder.
// Recorder failures are logged and never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

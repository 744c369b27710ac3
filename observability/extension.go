// Package observability provides a metrics extension for settle that records
// reconciliation event counts via a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/xraph/settle/gateway"
	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/tick"
	"github.com/xraph/settle/voucher"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnTickCompleted      = (*MetricsExtension)(nil)
	_ plugin.OnStatusChanged      = (*MetricsExtension)(nil)
	_ plugin.OnMirrorFailed       = (*MetricsExtension)(nil)
	_ plugin.OnStatusCheckFailed  = (*MetricsExtension)(nil)
	_ plugin.OnVoucherAllocated   = (*MetricsExtension)(nil)
	_ plugin.OnVoucherUnavailable = (*MetricsExtension)(nil)
	_ plugin.OnNotificationSent   = (*MetricsExtension)(nil)
	_ plugin.OnNotificationFailed = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records reconciliation metrics.
// Register it as a Reconciler plugin to track ticks and fulfillment.
type MetricsExtension struct {
	factory MetricFactory

	// Tick metrics
	TicksCompleted  Counter
	TicksIdle       Counter
	TickDuration    Histogram
	PaymentsFetched Counter
	DuplicateRefs   Counter

	// Status metrics
	StatusCompleted   Counter
	StatusFailed      Counter
	MirrorFailures    Counter
	StatusCheckErrors Counter
	GatewayAuthErrors Counter

	// Fulfillment metrics
	VouchersAllocated   Counter
	VouchersUnavailable Counter

	// Notification metrics
	NotificationsSent   Counter
	NotificationsFailed Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Tick metrics
		TicksCompleted:  factory.Counter("settle.tick.completed"),
		TicksIdle:       factory.Counter("settle.tick.idle"),
		TickDuration:    factory.Histogram("settle.tick.duration_ms"),
		PaymentsFetched: factory.Counter("settle.payment.fetched"),
		DuplicateRefs:   factory.Counter("settle.payment.duplicates"),

		// Status metrics
		StatusCompleted:   factory.Counter("settle.status.completed"),
		StatusFailed:      factory.Counter("settle.status.failed"),
		MirrorFailures:    factory.Counter("settle.status.mirror_failures"),
		StatusCheckErrors: factory.Counter("settle.status.check_errors"),
		GatewayAuthErrors: factory.Counter("settle.gateway.auth_errors"),

		// Fulfillment metrics
		VouchersAllocated:   factory.Counter("settle.voucher.allocated"),
		VouchersUnavailable: factory.Counter("settle.voucher.unavailable"),

		// Notification metrics
		NotificationsSent:   factory.Counter("settle.notification.sent"),
		NotificationsFailed: factory.Counter("settle.notification.failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTickCompleted implements plugin.OnTickCompleted.
func (m *MetricsExtension) OnTickCompleted(_ context.Context, report *tick.Report) error {
	m.TicksCompleted.Inc()
	if report.Idle() {
		m.TicksIdle.Inc()
	}
	m.PaymentsFetched.Add(float64(report.Fetched))
	m.DuplicateRefs.Add(float64(report.Duplicates))
	m.TickDuration.Observe(float64(report.Duration.Milliseconds()))
	return nil
}

// OnStatusChanged implements plugin.OnStatusChanged.
func (m *MetricsExtension) OnStatusChanged(_ context.Context, change *payment.StatusChange) error {
	switch change.Status {
	case payment.StatusCompleted:
		m.StatusCompleted.Inc()
	case payment.StatusFailed:
		m.StatusFailed.Inc()
	}
	return nil
}

// OnMirrorFailed implements plugin.OnMirrorFailed.
func (m *MetricsExtension) OnMirrorFailed(_ context.Context, _ *payment.StatusChange, _ error) error {
	m.MirrorFailures.Inc()
	return nil
}

// OnStatusCheckFailed implements plugin.OnStatusCheckFailed.
func (m *MetricsExtension) OnStatusCheckFailed(_ context.Context, _ string, err error) error {
	m.StatusCheckErrors.Inc()
	if errors.Is(err, gateway.ErrAuth) {
		m.GatewayAuthErrors.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Fulfillment hooks
// ──────────────────────────────────────────────────

// OnVoucherAllocated implements plugin.OnVoucherAllocated.
func (m *MetricsExtension) OnVoucherAllocated(_ context.Context, _ *voucher.Allocation) error {
	m.VouchersAllocated.Inc()
	return nil
}

// OnVoucherUnavailable implements plugin.OnVoucherUnavailable.
func (m *MetricsExtension) OnVoucherUnavailable(_ context.Context, _, _ int64, _ string) error {
	m.VouchersUnavailable.Inc()
	return nil
}

// OnNotificationSent implements plugin.OnNotificationSent.
func (m *MetricsExtension) OnNotificationSent(_ context.Context, _ *notify.Message) error {
	m.NotificationsSent.Inc()
	return nil
}

// OnNotificationFailed implements plugin.OnNotificationFailed.
func (m *MetricsExtension) OnNotificationFailed(_ context.Context, _ *notify.Message, _ error) error {
	m.NotificationsFailed.Inc()
	return nil
}

package observability_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/settle/gateway"
	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/observability"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/tick"
	"github.com/xraph/settle/voucher"
)

func TestMetricsExtensionCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	ctx := context.Background()

	_ = m.OnTickCompleted(ctx, &tick.Report{Fetched: 3, Duplicates: 1, Duration: 20 * time.Millisecond})
	_ = m.OnTickCompleted(ctx, &tick.Report{})
	_ = m.OnStatusChanged(ctx, &payment.StatusChange{Status: payment.StatusCompleted})
	_ = m.OnStatusChanged(ctx, &payment.StatusChange{Status: payment.StatusCompleted})
	_ = m.OnStatusChanged(ctx, &payment.StatusChange{Status: payment.StatusFailed})
	_ = m.OnMirrorFailed(ctx, &payment.StatusChange{}, errors.New("locked"))
	_ = m.OnStatusCheckFailed(ctx, "REF1", fmt.Errorf("%w: invalid_client", gateway.ErrAuth))
	_ = m.OnStatusCheckFailed(ctx, "REF2", errors.New("timeout"))
	_ = m.OnVoucherAllocated(ctx, &voucher.Allocation{})
	_ = m.OnVoucherUnavailable(ctx, 3, 5, "REF1")
	_ = m.OnNotificationSent(ctx, &notify.Message{})
	_ = m.OnNotificationFailed(ctx, &notify.Message{}, errors.New("sms down"))

	tests := []struct {
		name string
		c    observability.Counter
		want float64
	}{
		{"ticks", m.TicksCompleted, 2},
		{"idle", m.TicksIdle, 1},
		{"fetched", m.PaymentsFetched, 3},
		{"duplicates", m.DuplicateRefs, 1},
		{"completed", m.StatusCompleted, 2},
		{"failed", m.StatusFailed, 1},
		{"mirror", m.MirrorFailures, 1},
		{"check errors", m.StatusCheckErrors, 2},
		{"auth errors", m.GatewayAuthErrors, 1},
		{"allocated", m.VouchersAllocated, 1},
		{"unavailable", m.VouchersUnavailable, 1},
		{"sent", m.NotificationsSent, 1},
		{"notify failed", m.NotificationsFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testutil.ToFloat64(tt.c.(prometheus.Counter))
			if got != tt.want {
				t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("settle.voucher.allocated")
	if again := f.Counter("settle.voucher.allocated"); again != c {
		t.Error("Counter should return the cached collector")
	}
	c.Inc()
	f.Histogram("settle.tick.duration_ms").Observe(12)

	n, err := testutil.GatherAndCount(reg, "settle_voucher_allocated_total", "settle_tick_duration_ms")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("metrics gathered: got %d, want 2", n)
	}
}

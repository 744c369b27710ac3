package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/settle"
	"github.com/xraph/settle/api"
	"github.com/xraph/settle/tick"
)

type fakeEngine struct {
	healthErr error
	tickErr   error
	report    *tick.Report
	running   bool
}

func (f *fakeEngine) Health(context.Context) error { return f.healthErr }

func (f *fakeEngine) Tick(context.Context) (*tick.Report, error) {
	if f.tickErr != nil {
		return nil, f.tickErr
	}
	return f.report, nil
}

func (f *fakeEngine) LastReport() *tick.Report { return f.report }
func (f *fakeEngine) Running() bool            { return f.running }
func (f *fakeEngine) Started() bool            { return true }

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"degraded", settle.ErrStoreNotReady, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := api.NewServer(&fakeEngine{healthErr: tt.err}).Handler()
			rec := do(t, h, http.MethodGet, "/health")
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStatusReturnsLastReport(t *testing.T) {
	eng := &fakeEngine{report: &tick.Report{Fetched: 4, Fulfilled: 1}, running: true}
	rec := do(t, api.NewServer(eng).Handler(), http.MethodGet, "/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body struct {
		Running    bool         `json:"running"`
		LastReport *tick.Report `json:"last_report"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Running || body.LastReport == nil || body.LastReport.Fetched != 4 {
		t.Errorf("body: got %+v", body)
	}
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ran", nil, http.StatusOK},
		{"busy", settle.ErrTickInProgress, http.StatusConflict},
		{"degraded", fmt.Errorf("find unsettled: %w", settle.ErrStoreNotReady), http.StatusServiceUnavailable},
		{"stopping", settle.ErrNotStarted, http.StatusServiceUnavailable},
		{"failed", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{tickErr: tt.err, report: &tick.Report{Checked: 2}}
			rec := do(t, api.NewServer(eng).Handler(), http.MethodPost, "/ticks")
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "settle_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := api.NewServer(&fakeEngine{}, api.WithGatherer(reg)).Handler()
	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "settle_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}

	// Not mounted without a gatherer.
	rec = do(t, api.NewServer(&fakeEngine{}).Handler(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics without gatherer: got %d, want 404", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := api.NewServer(&fakeEngine{}).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("missing Access-Control-Allow-Origin on preflight")
	}
}

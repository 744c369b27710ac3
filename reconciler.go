package settle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/tick"
)

// Verifier is implemented by gateways that can check their credentials up
// front. Start fails when verification fails.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Reconciler is the payment reconciliation engine. It polls unsettled
// payments, mirrors their gateway status into storage and fulfills completed
// ones with a voucher.
type Reconciler struct {
	store    store.Store
	gateway  StatusChecker
	notifier notify.Notifier
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time

	fulfiller *Fulfiller
	cycle     *Cycle
	scheduler *Scheduler

	mu   sync.RWMutex
	last *tick.Report

	// Configuration
	pollInterval time.Duration
	cycleConfig  CycleConfig
	skipMigrate  bool
}

// New creates a new Reconciler instance.
func New(s store.Store, gw StatusChecker, n notify.Notifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        s,
		gateway:      gw,
		notifier:     n,
		plugins:      plugin.NewRegistry(),
		logger:       slog.Default(),
		now:          time.Now,
		pollInterval: DefaultPollInterval,
		cycleConfig: CycleConfig{
			Lookback:    DefaultLookback,
			SettleGuard: DefaultSettleGuard,
			Concurrency: DefaultConcurrency,
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	env := Env{Logger: r.logger, Plugins: r.plugins, Now: r.now}
	r.fulfiller = NewFulfiller(s, n, env)
	r.cycle = NewCycle(s, gw, r.fulfiller, r.cycleConfig, env)
	r.scheduler = NewScheduler(r.pollInterval, r.runTick, r.logger)

	return r
}

// Option configures a Reconciler instance.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
		r.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(r *Reconciler) {
		_ = r.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithSkipMigrate leaves the schema alone on Start.
func WithSkipMigrate() Option {
	return func(r *Reconciler) {
		r.skipMigrate = true
	}
}

// WithClock overrides the time source used for windows and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithPollInterval sets the time between scheduled ticks.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.pollInterval = d
	}
}

// WithLookback sets how far back unsettled payments are considered.
func WithLookback(d time.Duration) Option {
	return func(r *Reconciler) {
		r.cycleConfig.Lookback = d
	}
}

// WithSettleGuard sets how long a touched payment is left alone.
func WithSettleGuard(d time.Duration) Option {
	return func(r *Reconciler) {
		r.cycleConfig.SettleGuard = d
	}
}

// WithConcurrency bounds the references reconciled in parallel per tick.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		r.cycleConfig.Concurrency = n
	}
}

// Start migrates storage unless WithSkipMigrate is set, verifies gateway
// credentials and begins polling.
func (r *Reconciler) Start(ctx context.Context) error {
	// Migrate database
	if !r.skipMigrate {
		if err := r.store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Fail fast on bad gateway credentials
	if v, ok := r.gateway.(Verifier); ok {
		if err := v.Verify(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrGatewayAuth, err)
		}
	}

	// Initialize plugins
	r.plugins.EmitInit(ctx, r)

	if err := r.scheduler.Start(ctx); err != nil {
		return err
	}

	r.logger.Info("reconciler started",
		"poll_interval", r.scheduler.Interval(),
		"lookback", r.cycleConfig.Lookback,
		"settle_guard", r.cycleConfig.SettleGuard,
		"concurrency", r.cycleConfig.Concurrency,
	)

	return nil
}

// Stop shuts down the Reconciler, waiting for an in-flight tick.
func (r *Reconciler) Stop() error {
	if err := r.scheduler.Stop(); err != nil {
		return err
	}

	ctx := context.Background()
	r.plugins.EmitShutdown(ctx)

	return r.store.Close()
}

// Tick runs one reconciliation pass now. It returns ErrTickInProgress when a
// scheduled tick is already running.
func (r *Reconciler) Tick(ctx context.Context) (*tick.Report, error) {
	return r.scheduler.Trigger(ctx)
}

// LastReport returns the report of the most recent successful tick, or nil.
func (r *Reconciler) LastReport() *tick.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Running reports whether a tick is in progress.
func (r *Reconciler) Running() bool { return r.scheduler.Running() }

// Started reports whether the polling loop is active.
func (r *Reconciler) Started() bool { return r.scheduler.Started() }

// Health checks the store.
func (r *Reconciler) Health(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreNotReady, err)
	}
	return nil
}

// Store returns the underlying store.
func (r *Reconciler) Store() store.Store { return r.store }

// Plugins returns the plugin registry.
func (r *Reconciler) Plugins() *plugin.Registry { return r.plugins }

func (r *Reconciler) runTick(ctx context.Context) (*tick.Report, error) {
	report, err := r.cycle.Run(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	if report.HasErrors() {
		r.logger.Warn("tick completed with errors",
			"tick_id", report.ID.String(),
			"errors", len(report.Errors),
		)
	} else if !report.Idle() {
		r.logger.Info("tick completed",
			"tick_id", report.ID.String(),
			"checked", report.Checked,
			"updated", report.Updated,
			"fulfilled", report.Fulfilled,
			"duration", report.Duration,
		)
	}

	r.plugins.EmitTickCompleted(ctx, report)
	return report, nil
}

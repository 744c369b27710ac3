package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/transaction"
)

// Connector opens a ready-to-use store.
type Connector func(ctx context.Context) (Store, error)

// ResilientOption configures a Resilient store.
type ResilientOption func(*Resilient)

// WithRetryInterval sets the pause between reconnect attempts (default 60s).
func WithRetryInterval(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.interval = d }
}

// WithTransient sets the classifier for connection errors that allow
// degraded start. Errors it rejects fail OpenResilient.
func WithTransient(fn func(error) bool) ResilientOption {
	return func(r *Resilient) { r.transient = fn }
}

// WithResilientLogger sets the logger.
func WithResilientLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) { r.logger = logger }
}

// WithOnRecover registers a callback run once the real store is connected
// after a degraded start.
func WithOnRecover(fn func(ctx context.Context, s Store)) ResilientOption {
	return func(r *Resilient) { r.onRecover = fn }
}

// Resilient delegates to the connected store, or to Noop while the first
// connection attempt failed with a transient error. A background loop keeps
// reconnecting until it succeeds or the store is closed.
type Resilient struct {
	mu       sync.RWMutex
	current  Store
	degraded bool

	connect   Connector
	transient func(error) bool
	interval  time.Duration
	logger    *slog.Logger
	onRecover func(ctx context.Context, s Store)

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Store = (*Resilient)(nil)

// OpenResilient connects once. On a transient failure it returns a degraded
// store and keeps retrying in the background; any other failure is returned.
func OpenResilient(ctx context.Context, connect Connector, opts ...ResilientOption) (*Resilient, error) {
	r := &Resilient{
		connect:   connect,
		transient: func(error) bool { return false },
		interval:  time.Minute,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	s, err := connect(ctx)
	if err == nil {
		r.current = s
		close(r.done)
		return r, nil
	}
	if !r.transient(err) {
		close(r.done)
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	r.logger.Warn("database connection limit reached, starting degraded",
		"error", err,
		"retry_interval", r.interval,
	)
	r.current = Noop{}
	r.degraded = true

	retryCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	go r.reconnect(retryCtx)

	return r, nil
}

func (r *Resilient) reconnect(ctx context.Context) {
	defer close(r.done)

	// The failed attempt in OpenResilient counts as the first one.
	wait := time.NewTimer(r.interval)
	select {
	case <-ctx.Done():
		wait.Stop()
		r.logger.Debug("database reconnect abandoned", "error", ctx.Err())
		return
	case <-wait.C:
	}

	s, err := backoff.Retry(ctx, func() (Store, error) {
		return r.connect(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.interval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Info("still waiting for database", "error", err, "next_attempt", next)
		}),
	)
	if err != nil {
		r.logger.Debug("database reconnect abandoned", "error", err)
		return
	}

	r.mu.Lock()
	r.current = s
	r.degraded = false
	r.mu.Unlock()

	r.logger.Info("database reconnected")
	if r.onRecover != nil {
		r.onRecover(ctx, s)
	}
}

// Degraded reports whether calls are currently served by Noop.
func (r *Resilient) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

func (r *Resilient) get() Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Resilient) FindUnsettled(ctx context.Context, q payment.UnsettledQuery) ([]*payment.Record, error) {
	return r.get().FindUnsettled(ctx, q)
}

func (r *Resilient) UpdateStatus(ctx context.Context, u payment.StatusUpdate) (payment.UpdateResult, error) {
	return r.get().UpdateStatus(ctx, u)
}

func (r *Resilient) ResolveTransaction(ctx context.Context, table payment.Table, paymentID int64, referenceID string) (*transaction.Resolution, error) {
	return r.get().ResolveTransaction(ctx, table, paymentID, referenceID)
}

func (r *Resilient) CustomerPhone(ctx context.Context, transactionID int64) (string, error) {
	return r.get().CustomerPhone(ctx, transactionID)
}

func (r *Resilient) AllocateVoucher(ctx context.Context, bundleID, transactionID int64) (int64, error) {
	return r.get().AllocateVoucher(ctx, bundleID, transactionID)
}

func (r *Resilient) Migrate(ctx context.Context) error {
	return r.get().Migrate(ctx)
}

func (r *Resilient) Ping(ctx context.Context) error {
	return r.get().Ping(ctx)
}

// Close stops any reconnect loop and closes the underlying store.
func (r *Resilient) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
	return r.get().Close()
}

package settle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/settle/tick"
)

// DefaultPollInterval is the time between scheduled ticks.
const DefaultPollInterval = 5 * time.Second

// TickFunc runs one reconciliation pass.
type TickFunc func(ctx context.Context) (*tick.Report, error)

// Scheduler runs a TickFunc periodically. At most one tick runs at a time,
// whether it was started by the ticker or by Trigger.
type Scheduler struct {
	interval time.Duration
	run      TickFunc
	logger   *slog.Logger

	running atomic.Bool
	started atomic.Bool

	// mu guards stop, stopping and onTick, and orders wg.Add before
	// Stop's wg.Wait.
	mu       sync.Mutex
	stop     chan struct{}
	stopping bool
	wg       sync.WaitGroup
	onTick   func(*tick.Report, error)
}

// NewScheduler creates a Scheduler. A non-positive interval uses
// DefaultPollInterval.
func NewScheduler(interval time.Duration, run TickFunc, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		run:      run,
		logger:   logger,
	}
}

// OnTick sets a callback invoked after every tick with its outcome.
func (s *Scheduler) OnTick(fn func(*tick.Report, error)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

// Interval returns the polling interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start launches the worker. The first tick runs immediately. Ticks run on a
// context detached from ctx's cancellation; use Stop to end the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.mu.Lock()
	s.stop = make(chan struct{})
	s.stopping = false
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(context.WithoutCancel(ctx), stop)

	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop signals the worker and waits for the tick in flight to finish,
// whether the ticker or Trigger started it. Trigger fails with ErrNotStarted
// from the moment Stop is called.
func (s *Scheduler) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return ErrNotStarted
	}

	s.mu.Lock()
	s.stopping = true
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

// Running reports whether a tick is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Started reports whether the worker loop is active.
func (s *Scheduler) Started() bool { return s.started.Load() }

// Trigger runs a tick now and returns its report. It fails with
// ErrTickInProgress when another tick is running and with ErrNotStarted once
// Stop has been called. Triggering before Start is allowed. Cancelling ctx
// does not abort the tick.
func (s *Scheduler) Trigger(ctx context.Context) (*tick.Report, error) {
	return s.tryTick(context.WithoutCancel(ctx))
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scheduled(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.scheduled(ctx)
		}
	}
}

func (s *Scheduler) scheduled(ctx context.Context) {
	if _, err := s.tryTick(ctx); errors.Is(err, ErrTickInProgress) {
		s.logger.Debug("skipping tick, previous one still running")
	}
}

func (s *Scheduler) tryTick(ctx context.Context) (*tick.Report, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil, ErrTickInProgress
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer s.running.Store(false)

	report, err := s.run(ctx)
	if err != nil {
		s.logger.Error("reconciliation tick failed", "error", err)
	}

	s.mu.Lock()
	fn := s.onTick
	s.mu.Unlock()
	if fn != nil {
		fn(report, err)
	}
	return report, err
}

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/tick"
	"github.com/xraph/settle/voucher"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onTickCompleted      []OnTickCompleted
	onStatusChanged      []OnStatusChanged
	onMirrorFailed       []OnMirrorFailed
	onStatusCheckFailed  []OnStatusCheckFailed
	onVoucherAllocated   []OnVoucherAllocated
	onVoucherUnavailable []OnVoucherUnavailable
	onNotificationSent   []OnNotificationSent
	onNotificationFailed []OnNotificationFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnTickCompleted); ok {
		r.onTickCompleted = append(r.onTickCompleted, v)
		hooks = append(hooks, "OnTickCompleted")
	}
	if v, ok := p.(OnStatusChanged); ok {
		r.onStatusChanged = append(r.onStatusChanged, v)
		hooks = append(hooks, "OnStatusChanged")
	}
	if v, ok := p.(OnMirrorFailed); ok {
		r.onMirrorFailed = append(r.onMirrorFailed, v)
		hooks = append(hooks, "OnMirrorFailed")
	}
	if v, ok := p.(OnStatusCheckFailed); ok {
		r.onStatusCheckFailed = append(r.onStatusCheckFailed, v)
		hooks = append(hooks, "OnStatusCheckFailed")
	}
	if v, ok := p.(OnVoucherAllocated); ok {
		r.onVoucherAllocated = append(r.onVoucherAllocated, v)
		hooks = append(hooks, "OnVoucherAllocated")
	}
	if v, ok := p.(OnVoucherUnavailable); ok {
		r.onVoucherUnavailable = append(r.onVoucherUnavailable, v)
		hooks = append(hooks, "OnVoucherUnavailable")
	}
	if v, ok := p.(OnNotificationSent); ok {
		r.onNotificationSent = append(r.onNotificationSent, v)
		hooks = append(hooks, "OnNotificationSent")
	}
	if v, ok := p.(OnNotificationFailed); ok {
		r.onNotificationFailed = append(r.onNotificationFailed, v)
		hooks = append(hooks, "OnNotificationFailed")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, reconciler interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	emit(ctx, r, "OnInit", plugins, func(p OnInit) error {
		return p.OnInit(ctx, reconciler)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	emit(ctx, r, "OnShutdown", plugins, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitTickCompleted emits a tick completed event.
func (r *Registry) EmitTickCompleted(ctx context.Context, report *tick.Report) {
	r.mu.RLock()
	plugins := r.onTickCompleted
	r.mu.RUnlock()

	emit(ctx, r, "OnTickCompleted", plugins, func(p OnTickCompleted) error {
		return p.OnTickCompleted(ctx, report)
	})
}

// EmitStatusChanged emits a status changed event.
func (r *Registry) EmitStatusChanged(ctx context.Context, change *payment.StatusChange) {
	r.mu.RLock()
	plugins := r.onStatusChanged
	r.mu.RUnlock()

	emit(ctx, r, "OnStatusChanged", plugins, func(p OnStatusChanged) error {
		return p.OnStatusChanged(ctx, change)
	})
}

// EmitMirrorFailed emits a mirror failed event.
func (r *Registry) EmitMirrorFailed(ctx context.Context, change *payment.StatusChange, err error) {
	r.mu.RLock()
	plugins := r.onMirrorFailed
	r.mu.RUnlock()

	emit(ctx, r, "OnMirrorFailed", plugins, func(p OnMirrorFailed) error {
		return p.OnMirrorFailed(ctx, change, err)
	})
}

// EmitStatusCheckFailed emits a status check failed event.
func (r *Registry) EmitStatusCheckFailed(ctx context.Context, referenceID string, err error) {
	r.mu.RLock()
	plugins := r.onStatusCheckFailed
	r.mu.RUnlock()

	emit(ctx, r, "OnStatusCheckFailed", plugins, func(p OnStatusCheckFailed) error {
		return p.OnStatusCheckFailed(ctx, referenceID, err)
	})
}

// EmitVoucherAllocated emits a voucher allocated event.
func (r *Registry) EmitVoucherAllocated(ctx context.Context, alloc *voucher.Allocation) {
	r.mu.RLock()
	plugins := r.onVoucherAllocated
	r.mu.RUnlock()

	emit(ctx, r, "OnVoucherAllocated", plugins, func(p OnVoucherAllocated) error {
		return p.OnVoucherAllocated(ctx, alloc)
	})
}

// EmitVoucherUnavailable emits a voucher unavailable event.
func (r *Registry) EmitVoucherUnavailable(ctx context.Context, transactionID, bundleID int64, referenceID string) {
	r.mu.RLock()
	plugins := r.onVoucherUnavailable
	r.mu.RUnlock()

	emit(ctx, r, "OnVoucherUnavailable", plugins, func(p OnVoucherUnavailable) error {
		return p.OnVoucherUnavailable(ctx, transactionID, bundleID, referenceID)
	})
}

// EmitNotificationSent emits a notification sent event.
func (r *Registry) EmitNotificationSent(ctx context.Context, msg *notify.Message) {
	r.mu.RLock()
	plugins := r.onNotificationSent
	r.mu.RUnlock()

	emit(ctx, r, "OnNotificationSent", plugins, func(p OnNotificationSent) error {
		return p.OnNotificationSent(ctx, msg)
	})
}

// EmitNotificationFailed emits a notification failed event.
func (r *Registry) EmitNotificationFailed(ctx context.Context, msg *notify.Message, err error) {
	r.mu.RLock()
	plugins := r.onNotificationFailed
	r.mu.RUnlock()

	emit(ctx, r, "OnNotificationFailed", plugins, func(p OnNotificationFailed) error {
		return p.OnNotificationFailed(ctx, msg, err)
	})
}

// emit calls fn for every plugin, logging failures. Hooks never fail the
// reconciliation pipeline.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

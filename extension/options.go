package extension

import (
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/store"
)

// Option configures the settle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the reconciler.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGateway sets the payment gateway the reconciler polls.
func WithGateway(gw settle.StatusChecker) Option {
	return func(e *Extension) {
		e.gateway = gw
	}
}

// WithNotifier sets the voucher notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Extension) {
		e.notifier = n
	}
}

// WithSettleOption passes a settle.Option through to the underlying engine.
func WithSettleOption(opt settle.Option) Option {
	return func(e *Extension) {
		e.settleOpts = append(e.settleOpts, opt)
	}
}

// WithPlugin registers a settle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.settleOpts = append(e.settleOpts, settle.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents the admin API from being provided.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate skips schema migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableAutoStart leaves the polling loop stopped on start.
func WithDisableAutoStart() Option {
	return func(e *Extension) { e.config.DisableAutoStart = true }
}

// WithBasePath sets the URL prefix for admin routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPollInterval sets the time between reconciliation ticks.
func WithPollInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.PollInterval = d }
}

// WithLookback sets how far back unsettled payments are considered.
func WithLookback(d time.Duration) Option {
	return func(e *Extension) { e.config.Lookback = d }
}

// WithSettleGuard sets how long a touched payment is left alone.
func WithSettleGuard(d time.Duration) Option {
	return func(e *Extension) { e.config.SettleGuard = d }
}

// WithConcurrency bounds references reconciled in parallel.
func WithConcurrency(n int) Option {
	return func(e *Extension) { e.config.Concurrency = n }
}

package extension

import (
	"time"

	"github.com/xraph/settle"
)

// Config holds the settle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.settle" or "settle" keys).
type Config struct {
	// DisableRoutes prevents the admin API from being provided.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate skips schema migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableAutoStart leaves the polling loop stopped on start. The engine
	// stays available for manual ticks.
	DisableAutoStart bool `json:"disable_auto_start" mapstructure:"disable_auto_start" yaml:"disable_auto_start"`

	// BasePath is the URL prefix for admin routes (default: "/settle").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// PollInterval is the time between reconciliation ticks (default: 5s).
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`

	// Lookback excludes payments created longer ago than this (default: 10m).
	Lookback time.Duration `json:"lookback" mapstructure:"lookback" yaml:"lookback"`

	// SettleGuard skips payments touched more recently than this
	// (default: 5s).
	SettleGuard time.Duration `json:"settle_guard" mapstructure:"settle_guard" yaml:"settle_guard"`

	// Concurrency bounds references reconciled in parallel (default: 8).
	Concurrency int `json:"concurrency" mapstructure:"concurrency" yaml:"concurrency"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:     "/settle",
		PollInterval: settle.DefaultPollInterval,
		Lookback:     settle.DefaultLookback,
		SettleGuard:  settle.DefaultSettleGuard,
		Concurrency:  settle.DefaultConcurrency,
	}
}

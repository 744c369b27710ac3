// Package extension provides the Forge extension adapter for settle.
//
// It implements the forge.Extension interface to integrate the reconciler
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.settle" or "settle" keys.
package extension

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/settle"
	"github.com/xraph/settle/api"
	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "settle"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Payment reconciliation and voucher fulfillment engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the settle reconciler as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *settle.Reconciler
	store      store.Store
	gateway    settle.StatusChecker
	notifier   notify.Notifier
	settleOpts []settle.Option
}

// New creates a new settle Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Reconciler.
// This is nil until Register is called.
func (e *Extension) Engine() *settle.Reconciler { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the reconciler, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.gateway == nil {
		return errors.New("settle: extension requires a gateway (use WithGateway)")
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = settle.New(e.store, e.gateway, e.notifier, e.buildSettleOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*settle.Reconciler, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}
	return vessel.Provide(fapp.Container(), func() (*api.Server, error) {
		return api.NewServer(e.engine), nil
	})
}

// Handler returns the admin API mounted under BasePath, or nil when routes
// are disabled or Register has not run.
func (e *Extension) Handler() http.Handler {
	if e.engine == nil || e.config.DisableRoutes {
		return nil
	}
	prefix := strings.TrimRight(e.config.BasePath, "/")
	return http.StripPrefix(prefix, api.NewServer(e.engine).Handler())
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("settle: extension not initialized")
	}

	if !e.config.DisableAutoStart {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil && e.engine.Started() {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("settle: extension not initialized")
	}
	return e.engine.Health(ctx)
}

// buildSettleOpts constructs settle.Option values from the resolved config.
func (e *Extension) buildSettleOpts() []settle.Option {
	opts := make([]settle.Option, 0, len(e.settleOpts)+5)

	// Apply config-derived options.
	opts = append(opts,
		settle.WithPollInterval(e.config.PollInterval),
		settle.WithLookback(e.config.Lookback),
		settle.WithSettleGuard(e.config.SettleGuard),
		settle.WithConcurrency(e.config.Concurrency),
	)
	if e.config.DisableMigrate {
		opts = append(opts, settle.WithSkipMigrate())
	}

	// Append any pass-through settle options.
	opts = append(opts, e.settleOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("settle: configuration is required but not found in config files; " +
				"ensure 'extensions.settle' or 'settle' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("settle: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_auto_start", e.config.DisableAutoStart),
		forge.F("base_path", e.config.BasePath),
		forge.F("poll_interval", e.config.PollInterval),
		forge.F("lookback", e.config.Lookback),
		forge.F("settle_guard", e.config.SettleGuard),
		forge.F("concurrency", e.config.Concurrency),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.settle", "settle"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("settle: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("settle: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = defaults.Lookback
	}
	if cfg.SettleGuard == 0 {
		cfg.SettleGuard = defaults.SettleGuard
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableAutoStart {
		yamlConfig.DisableAutoStart = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.PollInterval == 0 && programmaticConfig.PollInterval != 0 {
		yamlConfig.PollInterval = programmaticConfig.PollInterval
	}
	if yamlConfig.Lookback == 0 && programmaticConfig.Lookback != 0 {
		yamlConfig.Lookback = programmaticConfig.Lookback
	}
	if yamlConfig.SettleGuard == 0 && programmaticConfig.SettleGuard != 0 {
		yamlConfig.SettleGuard = programmaticConfig.SettleGuard
	}
	if yamlConfig.Concurrency == 0 && programmaticConfig.Concurrency != 0 {
		yamlConfig.Concurrency = programmaticConfig.Concurrency
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

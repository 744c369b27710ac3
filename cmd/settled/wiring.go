package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/xraph/settle"
	audithook "github.com/xraph/settle/audit_hook"
	"github.com/xraph/settle/config"
	"github.com/xraph/settle/gateway"
	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/observability"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/store/mongo"
	"github.com/xraph/settle/store/mysql"
	"github.com/xraph/settle/store/postgres"
	"github.com/xraph/settle/store/sqlite"
)

// app bundles everything a command needs.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.Store
	engine   *settle.Reconciler
	registry *prometheus.Registry
	closers  []func() error
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config") //nolint:errcheck // flag is always registered
	return config.Load(path)
}

func newLogger(c config.Log) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// connector returns a store connector for the configured driver.
func connector(c config.Database) (store.Connector, func(error) bool, error) {
	never := func(error) bool { return false }
	switch c.Driver {
	case "mysql":
		dsn := c.DSN
		if dsn == "" {
			dsn = mysql.DSN(net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.User, c.Password, c.Name)
		}
		var opts []mysql.Option
		if c.EngineClock {
			opts = append(opts, mysql.WithEngineClock())
		}
		return func(ctx context.Context) (store.Store, error) {
			return mysql.Open(ctx, dsn, opts...)
		}, mysql.IsConnectionLimit, nil
	case "postgres":
		return func(ctx context.Context) (store.Store, error) {
			return postgres.Open(ctx, c.DSN)
		}, postgres.IsConnectionLimit, nil
	case "sqlite":
		return func(ctx context.Context) (store.Store, error) {
			return sqlite.Open(ctx, c.DSN)
		}, never, nil
	case "mongo":
		return func(ctx context.Context) (store.Store, error) {
			return mongo.Open(ctx, c.DSN, c.Name)
		}, never, nil
	case "memory":
		return func(context.Context) (store.Store, error) {
			return memory.New(), nil
		}, never, nil
	default:
		return nil, nil, fmt.Errorf("settled: unknown database driver %q", c.Driver)
	}
}

// buildApp opens storage and assembles the reconciler with its plugins.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg.Log),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	connect, transient, err := connector(cfg.DB)
	if err != nil {
		return nil, err
	}
	s, err := store.OpenResilient(ctx, connect,
		store.WithTransient(transient),
		store.WithRetryInterval(cfg.DB.RetryInterval),
		store.WithResilientLogger(a.logger),
		store.WithOnRecover(func(ctx context.Context, s store.Store) {
			if err := s.Migrate(ctx); err != nil {
				a.logger.Error("migrate after reconnect failed", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	a.store = s

	gw := gateway.New(gateway.Config{
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		AuthURL:      cfg.Gateway.AuthURL,
		APIURL:       cfg.Gateway.APIURL,
	},
		gateway.WithLogger(a.logger),
		gateway.WithRateLimit(rate.Limit(cfg.Gateway.RateLimit), cfg.Gateway.RateBurst),
	)

	sms := notify.NewSMS(cfg.SMS.URL, notify.WithLogger(a.logger))

	opts := []settle.Option{
		settle.WithLogger(a.logger),
		settle.WithPollInterval(cfg.Reconcile.PollInterval),
		settle.WithLookback(cfg.Reconcile.Lookback),
		settle.WithSettleGuard(cfg.Reconcile.SettleGuard),
		settle.WithConcurrency(cfg.Reconcile.Concurrency),
		settle.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(a.registry))),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		rec := audithook.NewKafkaRecorder(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, rec.Close)
		opts = append(opts, settle.WithPlugin(audithook.New(rec, audithook.WithLogger(a.logger))))
	}

	a.engine = settle.New(a.store, gw, sms, opts...)
	return a, nil
}

// close releases resources the engine does not own.
func (a *app) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

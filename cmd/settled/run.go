package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/settle/api"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the reconciliation loop and the admin server",
		Long: `Start the reconciliation daemon.

The loop polls the gateway every poll interval until SIGINT or SIGTERM.
When http.addr is set the admin API serves /health, /status, /ticks and
/metrics on it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.Start(ctx); err != nil {
				_ = a.store.Close() //nolint:errcheck // already failing
				return err
			}

			var srv *http.Server
			if cfg.HTTP.Addr != "" {
				srv = &http.Server{
					Addr: cfg.HTTP.Addr,
					Handler: api.NewServer(a.engine,
						api.WithGatherer(a.registry),
						api.WithLogger(a.logger),
						api.WithVersion(Version),
					).Handler(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() {
					a.logger.Info("admin server listening", "addr", cfg.HTTP.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("admin server failed", "error", err)
						stop()
					}
				}()
			}

			<-ctx.Done()
			a.logger.Info("shutting down")

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("admin server shutdown", "error", err)
				}
			}
			return a.engine.Stop()
		},
	}
}

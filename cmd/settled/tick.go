package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single reconciliation pass and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.store.Close() //nolint:errcheck // process exits next

			if err := a.store.Migrate(ctx); err != nil {
				return err
			}
			report, err := a.engine.Tick(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.store.Close() //nolint:errcheck // process exits next

			if err := a.store.Migrate(ctx); err != nil {
				return err
			}
			a.logger.Info("migrations applied", "driver", cfg.DB.Driver)
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration and print the resolved values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.DB.Password = redact(cfg.DB.Password)
			cfg.Gateway.ClientSecret = redact(cfg.Gateway.ClientSecret)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

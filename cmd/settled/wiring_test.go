package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/xraph/settle/config"
)

func TestConnectorDrivers(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite", "mongo", "memory"} {
		t.Run(driver, func(t *testing.T) {
			connect, transient, err := connector(config.Database{Driver: driver, DSN: "x", Name: "settle"})
			if err != nil {
				t.Fatalf("connector: %v", err)
			}
			if connect == nil || transient == nil {
				t.Fatal("nil connector or classifier")
			}
		})
	}

	if _, _, err := connector(config.Database{Driver: "oracle"}); err == nil {
		t.Error("unknown driver: expected error")
	}
}

func TestBuildAppMemory(t *testing.T) {
	cfg := config.Default()
	cfg.DB.Driver = "memory"
	cfg.Gateway.ClientID = "id"
	cfg.Gateway.ClientSecret = "secret"

	a, err := buildApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()

	if err := a.store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := a.engine.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
	if a.engine.Plugins().Count() != 1 {
		t.Errorf("plugins: got %d, want 1 without kafka", a.engine.Plugins().Count())
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := newLogger(config.Log{Level: tt.level, Format: "json"})
			if !l.Enabled(context.Background(), tt.want) {
				t.Errorf("level %s not enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-4) {
				t.Errorf("level below %s enabled", tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	if redact("") != "" || redact("pw") != "****" {
		t.Error("redact")
	}
}

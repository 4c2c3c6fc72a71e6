package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.OracleBaseURL != "http://localhost:8080" {
		t.Errorf("OracleBaseURL = %s", cfg.OracleBaseURL)
	}
	if cfg.StreamBaseURL != "ws://localhost:8080" {
		t.Errorf("StreamBaseURL = %s", cfg.StreamBaseURL)
	}
	if cfg.OracleCountPath != "$.total_count" {
		t.Errorf("OracleCountPath = %s", cfg.OracleCountPath)
	}
	if cfg.AuthTokenVar != "ARENA_TOKEN" {
		t.Errorf("AuthTokenVar = %s", cfg.AuthTokenVar)
	}
	if cfg.KeepAliveInterval != 30*time.Second {
		t.Errorf("KeepAliveInterval = %s", cfg.KeepAliveInterval)
	}
	if cfg.ReconcileInterval != 2*time.Second {
		t.Errorf("ReconcileInterval = %s", cfg.ReconcileInterval)
	}
	if cfg.ResyncSchedule != "" {
		t.Errorf("ResyncSchedule = %s", cfg.ResyncSchedule)
	}
	if cfg.HTTPPort != "8181" {
		t.Errorf("HTTPPort = %s", cfg.HTTPPort)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ORACLE_BASE_URL", "https://review.example.com")
	t.Setenv("STREAM_BASE_URL", "wss://review.example.com")
	t.Setenv("RECONNECT_DELAY_SEC", "7")
	t.Setenv("RESYNC_SCHEDULE", "@every 5m")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")
	t.Setenv("CORS_MAX_AGE", "120")

	cfg := Load()

	if cfg.OracleBaseURL != "https://review.example.com" {
		t.Errorf("OracleBaseURL = %s", cfg.OracleBaseURL)
	}
	if cfg.StreamBaseURL != "wss://review.example.com" {
		t.Errorf("StreamBaseURL = %s", cfg.StreamBaseURL)
	}
	if cfg.ReconnectDelay != 7*time.Second {
		t.Errorf("ReconnectDelay = %s", cfg.ReconnectDelay)
	}
	if cfg.ResyncSchedule != "@every 5m" {
		t.Errorf("ResyncSchedule = %s", cfg.ResyncSchedule)
	}
	if cfg.CORSAllowCredentials {
		t.Error("CORSAllowCredentials = true")
	}
	if cfg.CORSMaxAge != 120 {
		t.Errorf("CORSMaxAge = %d", cfg.CORSMaxAge)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("RECONCILE_INTERVAL_SEC", "not-a-number")
	t.Setenv("CORS_MAX_AGE", "forever")

	cfg := Load()

	if cfg.ReconcileInterval != 2*time.Second {
		t.Errorf("ReconcileInterval = %s, want default", cfg.ReconcileInterval)
	}
	if cfg.CORSMaxAge != 3600 {
		t.Errorf("CORSMaxAge = %d, want default", cfg.CORSMaxAge)
	}
}

func TestLoadWatchlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	content := "jobs:\n  - \"42\"\n  - \" pr-917 \"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write watchlist: %v", err)
	}

	list, err := LoadWatchlist(path)
	if err != nil {
		t.Fatalf("LoadWatchlist failed: %v", err)
	}
	if len(list.Jobs) != 2 || list.Jobs[0] != "42" || list.Jobs[1] != "pr-917" {
		t.Fatalf("jobs = %v", list.Jobs)
	}
}

func TestLoadWatchlistEmptyPath(t *testing.T) {
	list, err := LoadWatchlist("")
	if err != nil {
		t.Fatalf("LoadWatchlist failed: %v", err)
	}
	if len(list.Jobs) != 0 {
		t.Fatalf("expected empty watchlist, got %v", list.Jobs)
	}
}

func TestLoadWatchlistRejectsBlankJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  - \"42\"\n  - \"  \"\n"), 0o644); err != nil {
		t.Fatalf("write watchlist: %v", err)
	}
	if _, err := LoadWatchlist(path); err == nil {
		t.Fatal("expected error for blank job id")
	}
}

func TestLoadWatchlistMissingFile(t *testing.T) {
	if _, err := LoadWatchlist(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLogLevel(tc.name); got != tc.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

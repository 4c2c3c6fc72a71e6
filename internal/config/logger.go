package config

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger installs the process-wide structured logger from LOG_LEVEL and
// LOG_FORMAT. Every line carries the service name so watcher output stays
// attributable when interleaved with the review runner's own logs.
func (c *Config) InitLogger() {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	switch strings.ToLower(c.LogFormat) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", "arena-watcher"))
	slog.Debug("Logger initialized",
		"level", c.LogLevel,
		"format", c.LogFormat,
	)
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

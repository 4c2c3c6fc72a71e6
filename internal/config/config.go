package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Review API endpoints
	OracleBaseURL   string
	StreamBaseURL   string
	OracleTimeout   time.Duration
	OracleCountPath string

	// Auth
	AuthTokenVar string

	// Push transport
	KeepAliveInterval time.Duration
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration

	// Reconciliation
	ReconcileInterval time.Duration
	ResyncSchedule    string

	// Status HTTP server
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// CORS
	CORSAllowedOrigins   string
	CORSAllowedMethods   string
	CORSAllowedHeaders   string
	CORSAllowCredentials bool
	CORSMaxAge           int

	// Watchlist
	WatchlistPath string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// Review API
		OracleBaseURL:   getEnv("ORACLE_BASE_URL", "http://localhost:8080"),
		StreamBaseURL:   getEnv("STREAM_BASE_URL", "ws://localhost:8080"),
		OracleTimeout:   getDurationEnv("ORACLE_TIMEOUT_SEC", 10) * time.Second,
		OracleCountPath: getEnv("ORACLE_COUNT_PATH", "$.total_count"),

		// Auth
		AuthTokenVar: getEnv("AUTH_TOKEN_VAR", "ARENA_TOKEN"),

		// Push transport
		KeepAliveInterval: getDurationEnv("KEEPALIVE_INTERVAL_SEC", 30) * time.Second,
		ReconnectDelay:    getDurationEnv("RECONNECT_DELAY_SEC", 3) * time.Second,
		DialTimeout:       getDurationEnv("DIAL_TIMEOUT_SEC", 10) * time.Second,

		// Reconciliation
		ReconcileInterval: getDurationEnv("RECONCILE_INTERVAL_SEC", 2) * time.Second,
		ResyncSchedule:    getEnv("RESYNC_SCHEDULE", ""),

		// Status HTTP server
		HTTPPort:         getEnv("HTTP_PORT", "8181"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// CORS
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		CORSAllowedMethods:   getEnv("CORS_ALLOWED_METHODS", "GET, POST, DELETE, OPTIONS"),
		CORSAllowedHeaders:   getEnv("CORS_ALLOWED_HEADERS", "*"),
		CORSAllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getIntEnv("CORS_MAX_AGE", 3600),

		// Watchlist
		WatchlistPath: getEnv("WATCHLIST_PATH", ""),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

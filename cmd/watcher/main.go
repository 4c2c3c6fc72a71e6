package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/auth"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/config"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/handler"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/oracle"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/watch"
	"github.com/Aronwwo/ai-code-review-arena-sub000/pkg/middleware"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	cfg.InitLogger()

	slog.Info("Starting Arena Review Watcher", "version", version)

	// Create context bounding all subscriptions
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential capability for the transport and the oracle
	creds := auth.NewEnvProvider(cfg.AuthTokenVar)

	// Oracle client
	oracleClient, err := oracle.NewClient(cfg.OracleBaseURL, cfg.OracleTimeout, creds, cfg.OracleCountPath)
	if err != nil {
		slog.Error("Failed to create oracle client", "error", err)
		os.Exit(1)
	}

	// Watch service
	service := watch.NewService(cfg, creds, oracleClient)
	if err := service.Start(); err != nil {
		slog.Error("Failed to start watch service", "error", err)
		os.Exit(1)
	}

	// Subscribe to jobs named in the watchlist
	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		slog.Error("Failed to load watchlist", "error", err)
		os.Exit(1)
	}
	for _, jobID := range watchlist.Jobs {
		if _, err := service.Subscribe(ctx, jobID); err != nil {
			slog.Error("Failed to subscribe", "job_id", jobID, "error", err)
		}
	}

	// Initialize handlers
	subscriptionHandler := handler.NewSubscriptionHandler(ctx, service)
	healthHandler := handler.NewHealthHandler(service, version)

	// Create CORS config
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	// Create HTTP server for the status API
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.NewRouter(subscriptionHandler, healthHandler, corsConfig),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting status HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server first so no new subscriptions arrive
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Close all subscriptions
	slog.Info("Stopping watch service...")
	service.Stop()

	slog.Info("Arena Review Watcher stopped")
}

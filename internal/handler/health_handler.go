package handler

import (
	"net/http"
	"time"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/watch"
)

// HealthHandler handles service health checks
type HealthHandler struct {
	service   *watch.Service
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *watch.Service, version string) *HealthHandler {
	return &HealthHandler{
		service:   service,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	Subscriptions int    `json:"subscriptions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health returns the service health status
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Subscriptions: len(h.service.Snapshots()),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	writeJSON(w, http.StatusOK, response)
}

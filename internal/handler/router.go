package handler

import (
	"net/http"

	"github.com/Aronwwo/ai-code-review-arena-sub000/pkg/middleware"
	"github.com/go-chi/chi/v5"
)

// NewRouter builds the status API router with the standard middleware chain
func NewRouter(
	subscriptionHandler *SubscriptionHandler,
	healthHandler *HealthHandler,
	corsConfig middleware.CORSConfig,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(corsConfig))

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		r.Get("/", subscriptionHandler.List)
		r.Post("/", subscriptionHandler.Create)
		r.Get("/{jobID}", subscriptionHandler.Get)
		r.Delete("/{jobID}", subscriptionHandler.Delete)
	})

	return r
}

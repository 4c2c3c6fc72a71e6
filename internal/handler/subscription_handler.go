package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/model"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/watch"
	"github.com/go-chi/chi/v5"
)

// SubscriptionHandler exposes the watch service's observable state to UI
// layers over HTTP
type SubscriptionHandler struct {
	baseCtx context.Context
	service *watch.Service
}

// NewSubscriptionHandler creates a subscription handler. baseCtx bounds the
// lifetime of subscriptions opened over the API; it must outlive individual
// requests.
func NewSubscriptionHandler(baseCtx context.Context, service *watch.Service) *SubscriptionHandler {
	return &SubscriptionHandler{
		baseCtx: baseCtx,
		service: service,
	}
}

// ListResponse wraps the snapshot list
type ListResponse struct {
	Subscriptions []model.JobView `json:"subscriptions"`
}

// CreateRequest is the body for opening a subscription
type CreateRequest struct {
	JobID string `json:"job_id"`
}

// List returns snapshots of every watched job
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListResponse{Subscriptions: h.service.Snapshots()})
}

// Create opens a subscription for a job
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := h.service.Subscribe(h.baseCtx, req.JobID)
	if err != nil {
		if errors.Is(err, watch.ErrJobIDRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sub.Snapshot())
}

// Get returns the snapshot of one watched job
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	view, exists := h.service.Snapshot(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "no subscription for job "+jobID)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Delete closes the subscription for one job
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if !h.service.Unsubscribe(jobID) {
		writeError(w, http.StatusNotFound, "no subscription for job "+jobID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

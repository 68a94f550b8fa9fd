package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nomis52/roster/apperr"
)

// HistoryHandler serves the recorded batch imports and expiry sweeps.
type HistoryHandler struct {
	logger *slog.Logger
	runs   RunHistory
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(logger *slog.Logger, runs RunHistory) *HistoryHandler {
	return &HistoryHandler{
		logger: logger,
		runs:   runs,
	}
}

// List handles GET /api/history.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runs.History())
}

// Get handles GET /api/history/{id}.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := h.runs.Get(id)
	if !ok {
		writeError(w, h.logger, apperr.NotFound("Run not found", ""), false)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

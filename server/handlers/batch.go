package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nomis52/roster/batch"
)

// BatchHandler handles POST /api/users/batch.
type BatchHandler struct {
	logger  *slog.Logger
	creator AccountCreator
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(logger *slog.Logger, creator AccountCreator) *BatchHandler {
	return &BatchHandler{
		logger:  logger,
		creator: creator,
	}
}

// ServeHTTP implements http.Handler. The response is 201 when at least one
// account was created and 500 when every item failed.
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err, false)
		return
	}

	outcome, err := h.creator.CreateAccounts(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err, false)
		return
	}
	writeJSON(w, outcome.Status(), outcome)
}

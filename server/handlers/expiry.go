package handlers

import (
	"log/slog"
	"net/http"
)

// SweepHandler runs the expired account sweep on demand.
type SweepHandler struct {
	logger  *slog.Logger
	sweeper Sweeper
}

// NewSweepHandler creates a new SweepHandler.
func NewSweepHandler(logger *slog.Logger, sweeper Sweeper) *SweepHandler {
	return &SweepHandler{
		logger:  logger,
		sweeper: sweeper,
	}
}

// ServeHTTP implements http.Handler.
func (h *SweepHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, h.logger, err, false)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

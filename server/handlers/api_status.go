package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nomis52/roster/buildinfo"
)

// SweepStatus describes the scheduled expiry sweep.
type SweepStatus struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// APIStatusResponse is the consolidated response for /api/status.
type APIStatusResponse struct {
	Build  buildinfo.Properties `json:"build"`
	Expiry SweepStatus          `json:"expiry"`
}

// APIStatusHandler handles requests for the consolidated status endpoint.
type APIStatusHandler struct {
	logger   *slog.Logger
	schedule ScheduleProvider
}

// NewAPIStatusHandler creates a new APIStatusHandler.
func NewAPIStatusHandler(logger *slog.Logger, schedule ScheduleProvider) *APIStatusHandler {
	return &APIStatusHandler{
		logger:   logger,
		schedule: schedule,
	}
}

// ServeHTTP implements http.Handler.
func (h *APIStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	next := h.schedule.NextSweep()
	sweep := SweepStatus{
		Scheduled: next != nil,
		NextRun:   next,
	}
	if last, err := h.schedule.LastSweep(); !last.IsZero() {
		sweep.LastRun = &last
		if err != nil {
			sweep.LastError = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, APIStatusResponse{
		Build:  buildinfo.Get(),
		Expiry: sweep,
	})
}

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nomis52/roster/audit"
	"github.com/nomis52/roster/server/auth"
)

// RevertRequest is the body of POST /api/audit/revert.
type RevertRequest struct {
	Message string `json:"message"`
}

// RevertHandler records a reversal for operators to act on. Nothing is
// reverted automatically.
type RevertHandler struct {
	logger   *slog.Logger
	recorder AuditRecorder
	now      func() time.Time
}

// NewRevertHandler creates a new RevertHandler.
func NewRevertHandler(logger *slog.Logger, recorder AuditRecorder) *RevertHandler {
	return &RevertHandler{
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// ServeHTTP implements http.Handler.
func (h *RevertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err, false)
		return
	}

	actor := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		actor = identity.Email
		if actor == "" {
			actor = identity.Subject
		}
	}

	rev, err := audit.NewReversal(req.Message, actor, h.now())
	if err != nil {
		writeError(w, h.logger, err, false)
		return
	}
	if err := h.recorder.Record(r.Context(), rev); err != nil {
		writeError(w, h.logger, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/task"
)

// UsersHandler serves the single-account routes. Each request is a run of
// one step.
type UsersHandler struct {
	logger *slog.Logger
	runs   RunFactory
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(logger *slog.Logger, runs RunFactory) *UsersHandler {
	return &UsersHandler{
		logger: logger,
		runs:   runs,
	}
}

// Get handles GET /api/users/{email}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	o, ok := h.run(w, r, func(o *task.Orchestrator) error {
		return o.FindUser(email)
	})
	if !ok {
		return
	}
	h.writeProfile(w, o, email, http.StatusOK)
}

// Update handles PATCH /api/users/{email}.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var update roster.ProfileUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, h.logger, err, false)
		return
	}

	email := r.PathValue("email")
	o, ok := h.run(w, r, func(o *task.Orchestrator) error {
		return o.UpdateUser(email, update)
	})
	if !ok {
		return
	}
	h.writeProfile(w, o, email, http.StatusOK)
}

// Delete handles DELETE /api/users/{email}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if _, ok := h.run(w, r, func(o *task.Orchestrator) error {
		return o.DeleteUser(email)
	}); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResendInvitation handles POST /api/users/{email}/invitation. Delivery is
// not awaited, so success is reported as 202.
func (h *UsersHandler) ResendInvitation(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	o, ok := h.run(w, r, func(o *task.Orchestrator) error {
		return o.ResendInvitation(email)
	})
	if !ok {
		return
	}
	h.writeProfile(w, o, email, http.StatusAccepted)
}

// run enqueues one step, executes it and writes the error response if the
// step was rejected or failed. It returns false when a response was written.
func (h *UsersHandler) run(w http.ResponseWriter, r *http.Request, enqueue func(*task.Orchestrator) error) (*task.Orchestrator, bool) {
	return runSingle(w, r, h.logger, h.runs, enqueue)
}

func (h *UsersHandler) writeProfile(w http.ResponseWriter, o *task.Orchestrator, email string, status int) {
	p, found, err := o.GetSingleUser(email)
	if err != nil {
		writeError(w, h.logger, err, false)
		return
	}
	if !found {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, p)
}

func runSingle(w http.ResponseWriter, r *http.Request, logger *slog.Logger, runs RunFactory, enqueue func(*task.Orchestrator) error) (*task.Orchestrator, bool) {
	o := runs.NewRun()
	if err := enqueue(o); err != nil {
		writeError(w, logger, err, false)
		return nil, false
	}
	if err := o.Run(r.Context()); err != nil {
		writeError(w, logger, err, false)
		return nil, false
	}

	for _, result := range o.Results() {
		if !result.IsSuccess() {
			writeError(w, logger.With("run_id", o.RunID()), result.Err, result.Committed)
			return nil, false
		}
	}
	return o, true
}

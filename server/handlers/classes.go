package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/task"
)

// ClassesHandler serves the class routes.
type ClassesHandler struct {
	logger *slog.Logger
	runs   RunFactory
}

// NewClassesHandler creates a new ClassesHandler.
func NewClassesHandler(logger *slog.Logger, runs RunFactory) *ClassesHandler {
	return &ClassesHandler{
		logger: logger,
		runs:   runs,
	}
}

// Get handles GET /api/classes/{id}.
func (h *ClassesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, ok := runSingle(w, r, h.logger, h.runs, func(o *task.Orchestrator) error {
		return o.FindGroup(id)
	})
	if !ok {
		return
	}
	h.writeGroup(w, o, id)
}

// UpdateMembers handles PATCH /api/classes/{id}/members.
func (h *ClassesHandler) UpdateMembers(w http.ResponseWriter, r *http.Request) {
	var update roster.GroupUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, h.logger, err, false)
		return
	}

	id := r.PathValue("id")
	o, ok := runSingle(w, r, h.logger, h.runs, func(o *task.Orchestrator) error {
		return o.UpdateGroup(id, update)
	})
	if !ok {
		return
	}
	h.writeGroup(w, o, id)
}

func (h *ClassesHandler) writeGroup(w http.ResponseWriter, o *task.Orchestrator, id string) {
	g, _, err := o.GetGroup(id)
	if err != nil {
		writeError(w, h.logger, err, false)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

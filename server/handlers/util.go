package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nomis52/roster/apperr"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is returned when an error occurs.
type ErrorResponse struct {
	Error string `json:"error"`
	// Committed is true when part of the operation was persisted before it
	// failed.
	Committed bool `json:"committed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError maps err to its status and user-facing message. Unclassified
// errors are logged in full and reported as apperr.UnknownReason.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, committed bool) {
	if !apperr.IsApplication(err) {
		logger.Error("request failed", "error", err, "committed", committed)
	}
	writeJSON(w, apperr.StatusCode(err), ErrorResponse{
		Error:     apperr.Reason(err),
		Committed: committed,
	})
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("request body is required")
		}
		return apperr.BadRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

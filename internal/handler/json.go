package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/msomdec/minddump/internal/domain"
)

// maxBodyBytes bounds request bodies; note content itself is capped lower by
// the service.
const maxBodyBytes = 2 << 20

// writeJSON sends a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write JSON response", "error", err)
	}
}

// writeError sends a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps err to a status code. Unexpected errors are logged
// and reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConstraint):
		writeError(w, http.StatusConflict, "conflict")
	default:
		slog.Error(op, "error", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// readJSON decodes the request body into the given destination.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

package handler

import (
	"net/http"

	"github.com/msomdec/minddump/internal/service"
)

// RegisterRoutes sets up all HTTP routes on the given mux. Writes go through
// limiter.
func RegisterRoutes(mux *http.ServeMux, db Pinger, notes *service.NoteService, limiter *service.TokenBucket) {
	h := NewNoteHandler(notes)

	mux.HandleFunc("GET /healthz", HandleHealthz(db))

	mux.HandleFunc("GET /api/notes", h.HandleList)
	mux.Handle("POST /api/notes", RateLimit(limiter, http.HandlerFunc(h.HandleCreate)))
	mux.HandleFunc("GET /api/notes/{id}", h.HandleGet)
	mux.Handle("DELETE /api/notes/{id}", RateLimit(limiter, http.HandlerFunc(h.HandleDelete)))
	mux.HandleFunc("GET /api/gifs/{id}", h.HandleGetGif)
}

package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether the database answers queries.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealthz responds with 200 and {"status":"ok"} when the database
// answers, 503 otherwise.
func HandleHealthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

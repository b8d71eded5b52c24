package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"treasure-hunt-service/internal/app"
	"github.com/go-chi/chi/v5"
)

// NewRouter wires the public HTTP surface: websocket endpoint, read-only
// leaderboard query, and a health probe.
func NewRouter(service *app.RoomService) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/api/leaderboard", LeaderboardHandler(service))

	wsHandler := NewWSHandler(service)
	r.Get("/ws", wsHandler.ServeWS)
	return r
}

// LeaderboardHandler returns the top players by durable high score.
func LeaderboardHandler(service *app.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		records, err := service.Leaderboard(r.Context(), limit)
		if err != nil {
			http.Error(w, "failed to fetch leaderboard", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(records)
	}
}

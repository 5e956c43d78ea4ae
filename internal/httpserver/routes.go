package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware block
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.HandleHealthz)
	r.Get("/ws", s.wsHandler.ServeWS)

	// Read-only ops routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/presence/{roomID}", s.HandleRoomPresence)
		r.Get("/stats", s.HandleStats)
	})

	return r
}

func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRoomPresence reports who currently has a room open.
func (s *Server) HandleRoomPresence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		s.respondError(w, http.StatusBadRequest, "room id is required")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"users":   s.tracker.ActiveUsers(roomID),
	})
}

// HandleStats reports tracker and reassembler sizes.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.tracker.Stats()

	s.respondJSON(w, http.StatusOK, map[string]any{
		"presence_rooms":    stats.RoomCount,
		"presence_users":    stats.UserCount,
		"uploads_in_flight": s.reassembler.InFlight(),
	})
}

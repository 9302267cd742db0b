package manager

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/league/internal/handler/feed"
	"github.com/playperu/league/internal/server"
)

// Mount adds the agent endpoint, the control API guarded by admin and the
// spectator feeds to r.
func (m *Manager) Mount(r chi.Router, admin func(http.Handler) http.Handler) {
	server.MountDocs(r, "League Manager API", OpenAPI())
	r.Handle("/mcp", m.RPC())
	r.Get("/api/events", server.HandleEvents(m.broker, FeedTopic))
	r.Mount("/ws", feed.NewHandler(m.logger, m.broker, FeedTopic, m.FeedSnapshot).Routes())

	r.Route("/api/league", func(r chi.Router) {
		r.Get("/", m.handleStatus())
		r.Get("/standings", m.handleStandings())
		r.Get("/schedule", m.handleSchedule())
		r.Get("/players", m.handlePlayers())

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Post("/start", m.handleStart())
			r.Post("/rounds/next", m.handleNextRound())
			r.Post("/run", m.handleRun())
		})
	})
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pong-arena-backend/internal/hub"
	"github.com/DoyleJ11/pong-arena-backend/internal/tournament"
	"github.com/DoyleJ11/pong-arena-backend/internal/ws"
)

func SetupRoutes(d *hub.Dispatcher, orch *tournament.Orchestrator, wsOpts ws.Options, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	a := &api{matches: d, tourney: orch, log: log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/games", a.createGame)
	r.Route("/tournaments", func(r chi.Router) {
		r.Post("/", a.createTournament)
		r.Get("/{id}", a.getTournament)
		r.Post("/{id}/participants", a.joinTournament)
		r.Post("/{id}/start", a.startTournament)
		r.Get("/{id}/bracket", a.bracket)
	})
	r.Get("/healthz", a.healthz)
	r.Get("/ws", ws.Handler(d, wsOpts))
	return r
}

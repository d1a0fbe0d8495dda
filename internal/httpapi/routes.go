package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/action"
	"github.com/DoyleJ11/partidas/internal/creation"
	"github.com/DoyleJ11/partidas/internal/store"
	"github.com/DoyleJ11/partidas/internal/ws"
)

type Deps struct {
	Store        *store.Store
	Coordinator  *action.Coordinator
	Orchestrator *creation.Orchestrator
	Gatherer     prometheus.Gatherer // nil serves the default registry
	PublicURL    string
	Log          *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	log := d.Log.Named("httpapi")
	metricsHandler := promhttp.Handler()
	if d.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Get("/ws", ws.Handler(d.Store, d.Coordinator, d.Log))
	r.Get("/pending", Pending(d.Coordinator))

	r.Route("/games", func(r chi.Router) {
		r.Get("/", ListGames(d.Store))
		r.Post("/", CreateGame(d.Orchestrator))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetGame(d.Store))
			r.Delete("/", DeleteGame(d.Store, d.Coordinator))
			r.Post("/join", JoinGame(d.Store, d.Coordinator))
			r.Post("/start", StartGame(d.Store, d.Coordinator))
			r.Post("/end", EndGame(d.Store, d.Coordinator))
			r.Get("/scores", GetScores(d.Store))
			r.Put("/scores/{player}", SetScore(d.Store, d.Coordinator))
			r.Get("/invite.png", Invite(d.Store, d.PublicURL, log))
		})
	})
	return r
}

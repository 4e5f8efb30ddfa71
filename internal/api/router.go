package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(app.Metrics.Instrument)

	r.Get("/ping", PingHandler)
	r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Authenticator(app.JWTSecret))

		r.Post("/violations", app.RecordHandler)
		r.Get("/summary", app.SummaryHandler)
		r.Get("/logs", app.LogsHandler)
		r.Get("/snapshots/{id}", app.SnapshotHandler)

		r.Route("/api/proctor", func(r chi.Router) {
			r.Post("/record", app.RecordHandler)
			r.Get("/summary/{assessmentId}/{userId}", app.SummaryHandler)
			r.Get("/logs/{assessmentId}/{userId}", app.LogsHandler)
			r.Get("/assessment/{assessmentId}/all", app.AssessmentHandler)
		})
	})

	return r
}

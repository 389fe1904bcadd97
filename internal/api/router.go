package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

func SetupRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.AllowAll().Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Get("/dashboard", s.Dashboard)

		r.Route("/targets/{name}", func(r chi.Router) {
			r.Get("/history", s.TargetHistory)
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.GetIncidents)
			r.Post("/{id}/acknowledge", s.AcknowledgeIncident)
		})

		r.Post("/ping/{token}", s.DeadmanPing)
		r.Get("/deadman/{name}/webhook-url", s.WebhookURL)
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/epiforge/cascade/internal/simservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *simservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Model documents.
	r.Get("/models", h.ListModels)
	r.Post("/models", h.CreateModel)
	r.Post("/models/validate", h.ValidateModel)
	r.Get("/models/*", h.GetModel)
	r.Put("/models/*", h.UpdateModel)
	r.Delete("/models/*", h.DeleteModel)

	// Simulation runs.
	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.CreateRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Delete("/runs/{id}", h.DeleteRun)
	r.Get("/runs/{id}/series", h.GetRunSeries)
	r.Get("/runs/{id}/cascade", h.GetCascade)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

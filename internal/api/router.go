package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/stackforge/engine/internal/api/handlers"
	mw "github.com/stackforge/engine/internal/api/middleware"
)

type Dependencies struct {
	HMACSecret         []byte
	AuthHandler        *handlers.AuthHandler
	ProjectsHandler    *handlers.ProjectsHandler
	DeploymentsHandler *handlers.DeploymentsHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	// Health endpoints
	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	r.Route("/api/v1", func(api chi.Router) {
		// Auth routes (public)
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", dep.AuthHandler.Register)
			ar.Post("/login", dep.AuthHandler.Login)
			ar.Post("/logout", dep.AuthHandler.Logout)
			ar.Post("/refresh", dep.AuthHandler.Refresh)
		})

		// Protected routes
		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.HMACSecret))

			// Projects and their stack specs
			protected.Route("/projects", func(pr chi.Router) {
				pr.Get("/", dep.ProjectsHandler.List)
				pr.Post("/", dep.ProjectsHandler.Create)
				pr.Get("/{id}", dep.ProjectsHandler.Get)
				pr.Put("/{id}", dep.ProjectsHandler.Update)
				pr.Delete("/{id}", dep.ProjectsHandler.Delete)

				pr.Post("/{id}/validate", dep.ProjectsHandler.Validate)
				pr.Post("/{id}/specs", dep.ProjectsHandler.SaveSpec)
				pr.Get("/{id}/specs", dep.ProjectsHandler.GetSpec)
				pr.Get("/{id}/specs/versions", dep.ProjectsHandler.ListSpecs)
			})

			// Deployments
			protected.Route("/deployments", func(dr chi.Router) {
				dr.Get("/", dep.DeploymentsHandler.List)
				dr.Post("/", dep.DeploymentsHandler.Create)
				dr.Get("/{id}", dep.DeploymentsHandler.Get)
				dr.Get("/{id}/logs", dep.DeploymentsHandler.Logs)
				dr.Get("/{id}/resources", dep.DeploymentsHandler.Resources)
				dr.Post("/{id}/destroy", dep.DeploymentsHandler.Destroy)
				dr.Post("/{id}/cancel", dep.DeploymentsHandler.Cancel)
			})
		})
	})

	return r
}

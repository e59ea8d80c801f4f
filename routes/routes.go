package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/helpdesk/app"
	"github.com/upb/helpdesk/handlers"
	"github.com/upb/helpdesk/internal/auth"
	"github.com/upb/helpdesk/middleware"
	"github.com/upb/helpdesk/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	if timeout := deps.Config.Server.RequestTimeout; timeout > 0 {
		r.Use(chimiddleware.Timeout(timeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.RepoFactory.SQLDB(), deps.Monitor, deps.Clock, deps.Logger)
	session := handlers.NewSessionHandler(deps.Recorder, deps.Config.Server.TLS.Enabled || deps.Config.IsProduction(), deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.Chain, deps.Recorder, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/me", session.HandleMe)
			r.Post("/logout", session.HandleLogout)
		})

		// Audit chain (auditor roles only)
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireAnyRole(auth.AuditorRoles...))
			r.Post("/verify", auditHandler.HandleVerify)
			r.Get("/logs", auditHandler.HandleListLogs)
			r.Get("/logs/{sequence}", auditHandler.HandleGetLog)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})

	return r
}

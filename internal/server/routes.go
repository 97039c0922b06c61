package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/adventure/internal/handler/health"
	"github.com/playperu/adventure/internal/metrics"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps, hub *Hub) {
	store := deps.Store

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Adventure API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, healthChecks(deps.DB, deps.Redis)).Routes())
	r.Handle("/metrics", metrics.Handler())

	// Public directory.
	r.Get("/api/projects", handleListProjects(store))
	r.Get("/api/projects/{id}", handleGetProject(store))
	r.Get("/api/projects/{id}/locations", handleListLocations(store))
	r.Get("/api/projects/{id}/map", handleProjectMap(store, deps.Unlock.PreviewRadius))
	r.Post("/api/profile", handleCreateProfile(store))

	// Profile routes: Bearer token or ?token=.
	r.Group(func(r chi.Router) {
		r.Use(profileMiddleware(store))
		r.Get("/api/profile", handleGetProfile())
		r.Post("/api/locations/{id}/visits", handleRecordVisit(store))
		r.Post("/api/tracking", handleAddTracking(store))

		r.Route("/api/sessions/{projectID}", func(r chi.Router) {
			r.Get("/", handleSessionState(hub, logger))
			r.Post("/position", handleSessionPosition(hub, logger))
			r.Post("/scan", handleSessionScan(hub, logger))
			r.Delete("/visited", handleSessionReset(hub, logger))
			r.Post("/permission", handleSessionPermission(hub, logger))
			r.Get("/events", handleEvents(hub, logger))
			r.Get("/ws", handleTrackWS(hub, logger))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/login", handleAdminLogin(store))
		r.Post("/logout", handleAdminLogout(store))

		r.Group(func(r chi.Router) {
			r.Use(adminAuthMiddleware(store))
			r.Get("/me", handleAdminMe())

			r.Get("/projects", handleAdminListProjects(store))
			r.Post("/projects", handleAdminCreateProject(store))
			r.Get("/projects/{id}", handleAdminGetProject(store))
			r.Put("/projects/{id}", handleAdminUpdateProject(store, hub))
			r.Delete("/projects/{id}", handleAdminDeleteProject(store, hub))

			r.Get("/projects/{id}/locations", handleAdminListLocations(store))
			r.Post("/projects/{id}/locations", handleAdminCreateLocation(store, hub))
			r.Put("/projects/{id}/locations/{locationID}", handleAdminUpdateLocation(store, hub))
			r.Delete("/projects/{id}/locations/{locationID}", handleAdminDeleteLocation(store, hub))

			r.Get("/projects/{id}/tracking", handleAdminListTracking(store))
		})
	})
}

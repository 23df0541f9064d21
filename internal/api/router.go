package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/captionlab/internal/api/handler"
	mw "github.com/iconidentify/captionlab/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	uiHandler *handler.UIHandler,
	datasetHandler *handler.DatasetHandler,
	eventHandler *handler.EventHandler,
	healthHandler *handler.HealthHandler,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	// Web UI
	r.Get("/", uiHandler.Index)
	r.Get("/edit/{name}", uiHandler.Edit)
	r.Post("/submit/{name}", datasetHandler.Submit)
	r.Post("/upload", datasetHandler.Upload)
	r.Get("/download/{name}", datasetHandler.Download)
	r.Get("/delete/{name}", uiHandler.Delete)
	r.Post("/delete/{name}/confirm", datasetHandler.DeleteConfirm)
	r.Get("/static/data/{name}/images/{file}", datasetHandler.Image)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", healthHandler.Stats)

		r.Get("/datasets", datasetHandler.List)
		r.Get("/datasets/{name}", datasetHandler.Get)

		if eventHandler != nil {
			r.Get("/events", eventHandler.List)
			r.Get("/events/stats", eventHandler.Stats)
			r.Get("/events/categories", eventHandler.Categories)
			r.Get("/events/severities", eventHandler.Severities)
		}
	})

	return r
}

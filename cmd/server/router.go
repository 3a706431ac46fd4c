package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phrazzld/tasks-emulator/internal/api"
	apiMiddleware "github.com/phrazzld/tasks-emulator/internal/api/middleware"
	"github.com/phrazzld/tasks-emulator/internal/api/shared"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	// Set before mounting so sub-routers inherit them.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	queueHandler := api.NewQueueHandler(app.controller, app.logger)

	r.Route("/projects/{project}/locations/{location}/queues/{queue}", func(r chi.Router) {
		r.Post("/", queueHandler.CreateQueue)
		r.Get("/", queueHandler.GetQueue)
		r.Delete("/", queueHandler.DeleteQueue)

		r.Post("/tasks", queueHandler.EnqueueTask)
		r.Delete("/tasks/{task}", queueHandler.DeleteTask)
	})

	// The stats endpoint is polled by browser dashboards on other origins.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/queueStats", queueHandler.QueueStats)
		r.Options("/queueStats", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}

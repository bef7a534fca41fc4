package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/moments-api/internal/api"
	apiMiddleware "github.com/phrazzld/moments-api/internal/api/middleware"
	"github.com/phrazzld/moments-api/internal/api/shared"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	authHandler := api.NewAuthHandler(app.userService, app.jwtService)
	taskHandler := api.NewTaskHandler(app.taskService, app.config.Server.MaxBodyBytes)
	historyHandler := api.NewHistoryHandler(app.historyService)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)

	r.Route("/api", func(r chi.Router) {
		// Authentication endpoints (public)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/tasks", taskHandler.CreateTask)
			r.Get("/tasks/{id}", taskHandler.GetTask)

			r.Get("/history", historyHandler.ListHistory)
			r.Get("/history/{id}", historyHandler.GetHistory)
		})
	})

	// Generated thumbnails are served from local storage when the public
	// prefix is a path on this server.
	storage := app.config.Storage
	if prefix := strings.TrimRight(storage.ThumbnailURLPrefix, "/"); strings.HasPrefix(prefix, "/") {
		r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(storage.ThumbnailDir))))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

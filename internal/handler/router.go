package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Pinger checks that the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	Logger         *slog.Logger
	DB             Pinger
}

// NewRouter builds the route table with the standard middleware stack.
func NewRouter(tasks *TaskHandler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Status: statusError, Message: "resource not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Status: statusError, Message: "method not allowed"})
	})

	r.Get("/", index)
	r.Get("/health", health(cfg.DB, cfg.Logger))

	r.Mount("/api/tasks", tasks.Routes())

	return r
}

func index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to Checklist API",
		"version": Version,
		"endpoints": map[string]string{
			"tasks": routeTasks,
			"stats": routeTaskStats,
		},
	})
}

func health(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				logger.ErrorContext(r.Context(), "health check failed", slog.Any("error", err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

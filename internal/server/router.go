package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fedutinova/timegrid/internal/auth"
	httpapi "github.com/fedutinova/timegrid/internal/transport/http"
)

func NewRouter(h *httpapi.Handlers, health *httpapi.Health) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		MaxAge:         300,
	}))

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(auth.Middleware(h.Config.JWTSecret, h.Config.JWTIssuer))

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	h.Routers(r)

	return r
}

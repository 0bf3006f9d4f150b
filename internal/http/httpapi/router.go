package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediarecon/internal/http/handlers"
	"mediarecon/internal/infra"
	"mediarecon/internal/middleware"
)

// NewRouter mounts the trigger surface. Everything except healthz and the
// static media tree requires a bearer token. static may be nil.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger, static http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)

	r.Get("/v1/healthz", app.Health)
	if static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", static))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))
		if cfg.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		}

		r.Route("/v1/recovery", func(r chi.Router) {
			r.Post("/check", app.RecoveryCheck)
			r.Post("/force", app.RecoveryForce)
		})
		r.Post("/v1/storage/sweep", app.StorageSweep)

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.GenerationCreate)
			r.Get("/{kind}/{id}", app.GenerationGet)
		})
	})

	return r
}

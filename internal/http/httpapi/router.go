package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"palette/internal/http/handlers"
	"palette/internal/middleware"
)

// Options configures the route tree. StaticDir enables /static/* for the
// filesystem storage driver.
type Options struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	StaticDir       string
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	// Provider callbacks authenticate by signature, not bearer token.
	r.Post("/api/webhooks/replicate", app.ReplicateWebhook)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	// Submissions and retries share one budget per caller.
	limit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(opts.JWTSecret))

			r.Route("/generations", func(r chi.Router) {
				r.With(limit).Post("/", app.CreateGeneration)
				r.Get("/", app.ListGenerations)
				r.Get("/{id}", app.GetGeneration)
				r.Delete("/{id}", app.DeleteGeneration)
				r.With(limit).Post("/{id}/retry", app.RetryGeneration)
			})
			r.Get("/predictions/{id}", app.GetPrediction)
		})
	})

	return r
}

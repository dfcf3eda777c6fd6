package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"nexvmeta/internal/http/handlers"
	"nexvmeta/internal/metrics"
	"nexvmeta/internal/middleware"
	"nexvmeta/internal/storage"
)

// NewRouter wires every endpoint. lookup may be nil when no GeoIP database is
// configured.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	cfg := app.Config
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.I18N(cfg.DefaultLocale, lookup),
		middleware.Logger(*app.Logger),
	)

	// Health & docs
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Handle("/metrics", metrics.Handler())

	if cfg.StorageDriver == storage.DriverFilesystem && cfg.StoragePath != "" {
		files := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath)))
		r.Handle("/static/*", files)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/analyze", app.Analyze)

		r.Post("/uploads", app.Upload)
		r.Delete("/uploads/{name}", app.DeleteUpload)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", app.ListQueue)
			r.Post("/", app.Enqueue)
			r.Get("/export", app.ExportQueue)
			r.Get("/ws", app.QueueSocket)
			r.Post("/retry-failed", app.RetryFailed)
			r.Get("/{id}", app.GetQueueItem)
			r.Delete("/{id}", app.DeleteQueueItem)
		})

		r.Route("/tools", func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			r.Post("/remove-background", app.RemoveBackground)
			r.Post("/upscale", app.Upscale)
		})
	})

	return r
}

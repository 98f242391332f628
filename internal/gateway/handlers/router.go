package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Handler        *Handler
	Middleware     *Middleware
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the chi router. /health and /metrics are public; the
// /v1 group requires a gateway access key.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))
	r.Use(cfg.Middleware.CORSMiddleware)

	r.Get("/health", cfg.Handler.HandleHealth)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(cfg.Middleware.AuthMiddleware)
		r.Use(cfg.Middleware.RateLimitMiddleware)

		r.Get("/providers", cfg.Handler.HandleProviders)
		r.Post("/generate", cfg.Handler.HandleGenerate)
		r.Post("/connection/test", cfg.Handler.HandleConnectionTest)
		r.Get("/preferences", cfg.Handler.HandleGetPreferences)
		r.Put("/preferences", cfg.Handler.HandlePutPreferences)
		r.Delete("/preferences/credential", cfg.Handler.HandleDeleteCredential)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				"request_id", chimiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

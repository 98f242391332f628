package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/preferences"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/security"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/vault"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	log.Printf("Starting AI Provider Gateway on port %s (env: %s)", cfg.Port, cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := make(map[string]handlers.Pinger)

	// Preference store and access keys
	var (
		store preferences.Store
		keys  handlers.KeyStore
		sink  security.EventSink
	)
	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		store, keys, sink = db, db, db
		checks["postgres"] = db
		log.Println("✓ Connected to PostgreSQL")
	} else {
		store = preferences.NewMemoryStore()
		keys = handlers.NewStaticKeys(cfg.StaticAPIKeys, cfg.DefaultRateLimit)
		log.Println("✓ Using in-memory preference store (DATABASE_URL not set)")
	}

	// Rate limiter
	var limiter handlers.RateLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		limiter = redisClient
		checks["redis"] = redisClient
		log.Println("✓ Connected to Redis")
	} else {
		local := ratelimit.NewLocal()
		go local.Run(ctx, time.Minute)
		limiter = local
		log.Println("✓ Using in-process rate limiter (REDIS_URL not set)")
	}

	auditor := security.NewAuditor(sink, m, logger)

	v, err := vault.New(vault.Config{
		MasterSecret:  cfg.MasterSecret,
		Iterations:    cfg.KDFIterations,
		KeyCacheTTL:   cfg.KeyCacheTTL,
		AllowFallback: cfg.AllowFallbackEncoding,
		Events:        auditor,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}
	defer v.Close()
	log.Println("✓ Initialized credential vault")

	registry := providers.NewDefaultRegistry(providers.Options{
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second},
	})
	log.Println("✓ Initialized AI providers")

	gw := gateway.New(store, v, registry, auditor, gateway.Config{
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.MaxRetries,
		Metrics:    m,
		Logger:     logger,
	})
	dispatchBudget := gw.MaxDispatchDuration()

	router := handlers.NewRouter(handlers.RouterConfig{
		Handler: handlers.NewHandler(gw, checks, logger),
		Middleware: handlers.NewMiddleware(handlers.MiddlewareConfig{
			Keys:             keys,
			Limiter:          limiter,
			Events:           auditor,
			Metrics:          m,
			DefaultRateLimit: cfg.DefaultRateLimit,
			Logger:           logger,
		}),
		Gatherer:       reg,
		RequestTimeout: dispatchBudget + 10*time.Second,
		Logger:         logger,
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: dispatchBudget + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST   /v1/generate               - Generate with the user's provider")
		log.Println("   POST   /v1/connection/test        - Test stored or submitted credentials")
		log.Println("   GET    /v1/preferences            - Read provider preferences")
		log.Println("   PUT    /v1/preferences            - Save provider preferences")
		log.Println("   DELETE /v1/preferences/credential - Remove the stored API key")
		log.Println("   GET    /v1/providers              - List supported providers")
		log.Println("   GET    /health                    - Health check")
		log.Println("   GET    /metrics                   - Prometheus metrics")
		log.Println("")
		log.Println("Ready to accept requests!")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

// KeyStore resolves gateway access keys to their owner
type KeyStore interface {
	GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error
}

// RateLimiter counts a request for a user against a per-minute limit
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID string, limit int) (exceeded bool, remaining int, err error)
}

type contextKey int

const apiKeyContextKey contextKey = iota

const defaultRateLimit = 100

// APIKeyFromContext returns the access key set by AuthMiddleware
func APIKeyFromContext(ctx context.Context) (*models.APIKey, bool) {
	apiKey, ok := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return apiKey, ok
}

// MiddlewareConfig holds middleware dependencies. Limiter, Events and
// Metrics may be nil.
type MiddlewareConfig struct {
	Keys             KeyStore
	Limiter          RateLimiter
	Events           gateway.EventLogger
	Metrics          *metrics.Metrics
	DefaultRateLimit int
	Logger           *slog.Logger
}

type Middleware struct {
	keys         KeyStore
	limiter      RateLimiter
	events       gateway.EventLogger
	metrics      *metrics.Metrics
	defaultLimit int
	logger       *slog.Logger
}

func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	m := &Middleware{
		keys:         cfg.Keys,
		limiter:      cfg.Limiter,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		defaultLimit: cfg.DefaultRateLimit,
		logger:       cfg.Logger,
	}
	if m.defaultLimit <= 0 {
		m.defaultLimit = defaultRateLimit
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// AuthMiddleware validates gateway access keys
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract API key from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeMessage(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			writeMessage(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		apiKey, err := m.keys.GetAPIKey(r.Context(), parts[1])
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.keys.UpdateAPIKeyLastUsed(ctx, id); err != nil {
				m.logger.Warn("failed to update api key last use", "api_key_id", id, "error", err)
			}
		}(apiKey.ID)

		ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware enforces the per-user request limit. Limiter
// failures let the request through.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, ok := APIKeyFromContext(r.Context())
		if !ok || m.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := apiKey.RateLimitPerMinute
		if limit <= 0 {
			limit = m.defaultLimit
		}

		exceeded, remaining, err := m.limiter.CheckRateLimit(r.Context(), apiKey.UserID, limit)
		if err != nil {
			m.logger.Warn("rate limiter unavailable, allowing request", "user_id", apiKey.UserID, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if exceeded {
			m.metrics.RecordRateLimited()
			if m.events != nil {
				m.events.LogSecurityEvent(r.Context(), models.SecurityEvent{
					UserID:      apiKey.UserID,
					EventType:   models.EventRateLimitExceeded,
					Description: fmt.Sprintf("rate limit of %d requests per minute exceeded", limit),
					Severity:    models.SeverityMedium,
					Metadata:    map[string]any{"limit": limit, "path": r.URL.Path},
				})
			}
			w.Header().Set("Retry-After", "60")
			writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StaticKeys is a KeyStore over a fixed key → userId map, used when no
// database is configured
type StaticKeys struct {
	keys  map[string]string
	limit int
}

// NewStaticKeys copies keys. limit applies to every key.
func NewStaticKeys(keys map[string]string, limit int) *StaticKeys {
	copied := make(map[string]string, len(keys))
	for k, v := range keys {
		copied[k] = v
	}
	return &StaticKeys{keys: copied, limit: limit}
}

func (s *StaticKeys) GetAPIKey(_ context.Context, rawKey string) (*models.APIKey, error) {
	userID, ok := s.keys[rawKey]
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}
	prefix := rawKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &models.APIKey{
		ID:                 "static:" + userID,
		UserID:             userID,
		KeyPrefix:          prefix,
		Name:               "static",
		RateLimitPerMinute: s.limit,
		IsActive:           true,
	}, nil
}

func (s *StaticKeys) UpdateAPIKeyLastUsed(context.Context, string) error {
	return nil
}

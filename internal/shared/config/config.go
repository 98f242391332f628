package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	minIterations   = 100000
	minSecretLength = 16
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database; empty selects the in-memory preference store
	DatabaseURL string

	// Redis; empty selects the in-process rate limiter
	RedisURL string

	// Vault
	MasterSecret          string
	KDFIterations         int
	KeyCacheTTL           time.Duration
	AllowFallbackEncoding bool

	// Dispatch
	RequestTimeout time.Duration
	MaxRetries     int

	// Rate Limiting
	DefaultRateLimit int

	// Static access keys as key:userId pairs, used when no database is configured
	StaticAPIKeys map[string]string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		MasterSecret:          getEnv("GATEWAY_MASTER_SECRET", ""),
		KDFIterations:         getEnvInt("KDF_ITERATIONS", minIterations),
		KeyCacheTTL:           time.Duration(getEnvInt("KEY_CACHE_TTL_SECONDS", 300)) * time.Second,
		AllowFallbackEncoding: getEnvBool("ALLOW_FALLBACK_ENCODING", true),
		RequestTimeout:        time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
		MaxRetries:            getEnvInt("MAX_RETRIES", 0),
		DefaultRateLimit:      getEnvInt("DEFAULT_RATE_LIMIT", 100),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	// Production logs are structured unless LOG_FORMAT says otherwise
	if os.Getenv("LOG_FORMAT") == "" && cfg.IsProduction() {
		cfg.LogFormat = "json"
	}

	keys, err := parseStaticKeys(getEnv("STATIC_API_KEYS", ""))
	if err != nil {
		return nil, err
	}
	cfg.StaticAPIKeys = keys

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("GATEWAY_MASTER_SECRET is required")
	}
	if len(c.MasterSecret) < minSecretLength {
		return fmt.Errorf("GATEWAY_MASTER_SECRET must be at least %d characters", minSecretLength)
	}
	if c.KDFIterations < minIterations {
		return fmt.Errorf("KDF_ITERATIONS must be at least %d", minIterations)
	}
	if c.KeyCacheTTL < 0 {
		return fmt.Errorf("KEY_CACHE_TTL_SECONDS must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if c.DefaultRateLimit < 0 {
		return fmt.Errorf("DEFAULT_RATE_LIMIT must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	if c.DatabaseURL == "" && len(c.StaticAPIKeys) == 0 {
		return fmt.Errorf("either DATABASE_URL or STATIC_API_KEYS is required")
	}
	return nil
}

// IsProduction reports whether ENV names a production deployment
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func parseStaticKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return keys, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		key, userID, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || key == "" || userID == "" {
			return nil, fmt.Errorf("STATIC_API_KEYS entries must be key:userId")
		}
		keys[key] = userID
	}
	return keys, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

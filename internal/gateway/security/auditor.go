// Package security validates credentials and provider configuration and
// keeps the append-only security event trail.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

// EventSink persists security events
type EventSink interface {
	SaveSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
}

const persistTimeout = 5 * time.Second

// Auditor records security events. Persistence failures are logged and
// never returned.
type Auditor struct {
	sink    EventSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuditor creates an auditor. sink and m may be nil.
func NewAuditor(sink EventSink, m *metrics.Metrics, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		sink:    sink,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// LogSecurityEvent stamps, sanitizes and persists event
func (a *Auditor) LogSecurityEvent(ctx context.Context, event models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}
	event.Description = SanitizeError(event.Description)
	event.Metadata = sanitizeMetadata(event.Metadata)

	a.metrics.RecordSecurityEvent(string(event.EventType), string(event.Severity))

	level := slog.LevelInfo
	switch event.Severity {
	case models.SeverityHigh:
		level = slog.LevelWarn
	case models.SeverityCritical:
		level = slog.LevelError
	}
	a.logger.Log(ctx, level, "security event",
		"event_id", event.ID,
		"event_type", event.EventType,
		"severity", event.Severity,
		"user_id", event.UserID,
		"description", event.Description,
	)

	if a.sink == nil {
		return
	}
	a.persist(ctx, &event)
}

func (a *Auditor) persist(ctx context.Context, event *models.SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("security event sink panicked", "event_id", event.ID, "panic", fmt.Sprint(r))
		}
	}()

	// The trail is written even when the caller has gone away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := a.sink.SaveSecurityEvent(ctx, event); err != nil {
		a.logger.Error("failed to persist security event",
			"event_id", event.ID,
			"event_type", event.EventType,
			"error", SanitizeError(err.Error()),
		)
	}
}

func sanitizeMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = SanitizeError(s)
			continue
		}
		out[k] = v
	}
	return out
}

// KeyValidation is the result of ValidateKeyFormat. Errors are fatal;
// Warnings are advisory.
type KeyValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

const (
	minKeyLength       = 20
	minCustomKeyLength = 8
	geminiKeyLength    = 39
	mistralKeyLength   = 32
	openAIMinKeyLength = 40
)

var placeholderMarkers = []string{
	"your_api_key", "your-api-key", "your api key", "yourapikey",
	"api_key_here", "apikeyhere", "insert", "placeholder", "changeme",
	"xxxxx", "<", ">", "...",
}

// ValidateKeyFormat checks a key against the provider's known shape
func ValidateKeyFormat(provider providers.Identity, key string) KeyValidation {
	var v KeyValidation

	switch provider {
	case providers.OpenAI, providers.Gemini, providers.Claude, providers.DeepSeek, providers.Mistral, providers.Custom:
	default:
		v.Errors = append(v.Errors, fmt.Sprintf("unsupported provider %q", provider))
		return v
	}

	if key == "" {
		if provider == providers.Custom {
			v.Valid = true
			return v
		}
		v.Errors = append(v.Errors, "API key is required")
		return v
	}

	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		v.Errors = append(v.Errors, "API key contains whitespace")
	}
	lower := strings.ToLower(key)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			v.Errors = append(v.Errors, "API key looks like placeholder text")
			break
		}
	}
	minLen := minKeyLength
	if provider == providers.Custom {
		minLen = minCustomKeyLength
	}
	if len(key) < minLen {
		v.Errors = append(v.Errors, fmt.Sprintf("API key is too short (minimum %d characters)", minLen))
	}

	switch provider {
	case providers.OpenAI:
		if strings.HasPrefix(key, "sk-ant-") {
			v.Warnings = append(v.Warnings, "key looks like an Anthropic key")
		} else if !strings.HasPrefix(key, "sk-") {
			v.Warnings = append(v.Warnings, `OpenAI keys usually start with "sk-"`)
		}
		if len(key) < openAIMinKeyLength {
			v.Warnings = append(v.Warnings, "key is shorter than typical OpenAI keys")
		}
	case providers.Claude:
		if !strings.HasPrefix(key, "sk-ant-") {
			v.Warnings = append(v.Warnings, `Anthropic keys usually start with "sk-ant-"`)
		}
	case providers.DeepSeek:
		if !strings.HasPrefix(key, "sk-") {
			v.Warnings = append(v.Warnings, `DeepSeek keys usually start with "sk-"`)
		}
	case providers.Gemini:
		if !strings.HasPrefix(key, "AIza") {
			v.Warnings = append(v.Warnings, `Google AI keys usually start with "AIza"`)
		}
		if len(key) != geminiKeyLength {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Google AI keys are usually %d characters", geminiKeyLength))
		}
	case providers.Mistral:
		if len(key) != mistralKeyLength {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Mistral keys are usually %d characters", mistralKeyLength))
		}
		if strings.HasPrefix(key, "sk-") {
			v.Warnings = append(v.Warnings, "key looks like an OpenAI-style key")
		}
	}

	v.Valid = len(v.Errors) == 0
	return v
}

// Issue is one finding from AuditProviderConfig
type Issue struct {
	Field    string          `json:"field"`
	Severity models.Severity `json:"severity"`
	Message  string          `json:"message"`
}

var debugSettings = []string{"debug", "log_requests", "verbose", "log_prompts"}

// AuditProviderConfig flags risky settings in cfg
func AuditProviderConfig(cfg providers.ProviderConfig) []Issue {
	var issues []Issue

	if cfg.Provider == providers.Custom && strings.TrimSpace(cfg.CustomEndpoint) == "" {
		issues = append(issues, Issue{Field: "custom_endpoint", Severity: models.SeverityHigh, Message: "custom provider has no endpoint"})
	}
	if cfg.Provider != providers.Custom && cfg.APIKey == "" {
		issues = append(issues, Issue{Field: "api_key", Severity: models.SeverityHigh, Message: "no API key configured"})
	}

	if endpoint := strings.TrimSpace(cfg.CustomEndpoint); endpoint != "" {
		issues = append(issues, auditEndpoint(cfg.Provider, endpoint)...)
	}

	for _, key := range debugSettings {
		if cfg.SettingBool(key) {
			issues = append(issues, Issue{
				Field:    "provider_settings." + key,
				Severity: models.SeverityMedium,
				Message:  fmt.Sprintf("%s is enabled; prompts or credentials may be written to logs", key),
			})
		}
	}

	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		issues = append(issues, Issue{Field: "temperature", Severity: models.SeverityLow, Message: "temperature should be between 0.0 and 2.0"})
	}
	if cfg.MaxTokens < 0 {
		issues = append(issues, Issue{Field: "max_tokens", Severity: models.SeverityLow, Message: "max_tokens must be positive"})
	}
	return issues
}

func auditEndpoint(provider providers.Identity, endpoint string) []Issue {
	var issues []Issue
	if provider != providers.Custom {
		issues = append(issues, Issue{Field: "custom_endpoint", Severity: models.SeverityLow, Message: "custom endpoint is ignored for this provider"})
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return append(issues, Issue{Field: "custom_endpoint", Severity: models.SeverityHigh, Message: "custom endpoint is not a valid URL"})
	}
	if u.Scheme != "https" {
		issues = append(issues, Issue{Field: "custom_endpoint", Severity: models.SeverityHigh, Message: "custom endpoint does not use HTTPS; credentials travel in plaintext"})
	}
	if isLoopback(u.Hostname()) {
		issues = append(issues, Issue{Field: "custom_endpoint", Severity: models.SeverityMedium, Message: "custom endpoint points at a loopback address"})
	}
	if u.User != nil {
		issues = append(issues, Issue{Field: "custom_endpoint", Severity: models.SeverityHigh, Message: "custom endpoint embeds credentials in the URL"})
	}
	return issues
}

func isLoopback(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// HasSevere reports whether any issue is high or critical
func HasSevere(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == models.SeverityHigh || i.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

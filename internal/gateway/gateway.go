// Package gateway routes generation requests for a user to the provider
// they configured, keeping connection status and usage counters current.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/preferences"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/security"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultRetryBackoff = 500 * time.Millisecond

	// ConnectionTestPrompt is the canned prompt sent by TestConnection
	ConnectionTestPrompt = "respond with OK"
	connectionTestTokens = 10

	CodeStoreUnavailable = "PREFERENCE_STORE_UNAVAILABLE"
)

// CredentialVault seals and opens provider keys
type CredentialVault interface {
	Encrypt(ctx context.Context, plaintext, userID string) (string, error)
	Decrypt(ctx context.Context, blob, userID string) (string, error)
	Forget(userID string)
}

// EventLogger records security events. It must not fail the caller.
type EventLogger interface {
	LogSecurityEvent(ctx context.Context, event models.SecurityEvent)
}

// Config holds gateway settings
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Gateway is the caller-facing entry point. It is safe for concurrent use.
type Gateway struct {
	store    preferences.Store
	vault    CredentialVault
	registry *providers.Registry
	events   EventLogger

	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a gateway
func New(store preferences.Store, vault CredentialVault, registry *providers.Registry, events EventLogger, cfg Config) *Gateway {
	g := &Gateway{
		store:        store,
		vault:        vault,
		registry:     registry,
		events:       events,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          time.Now,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	if g.retryBackoff <= 0 {
		g.retryBackoff = DefaultRetryBackoff
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// MaxDispatchDuration is the longest a single dispatch can run: every
// attempt timing out plus the backoff between attempts. Server and router
// deadlines must exceed it or retries are cut short.
func (g *Gateway) MaxDispatchDuration() time.Duration {
	total := time.Duration(g.maxRetries+1) * g.timeout
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		total += time.Duration(attempt) * g.retryBackoff
	}
	return total
}

// ConnectionResult is the outcome of TestConnection
type ConnectionResult struct {
	Success   bool                    `json:"success"`
	Provider  providers.Identity      `json:"provider"`
	Model     string                  `json:"model,omitempty"`
	LatencyMs int64                   `json:"latency_ms"`
	Error     *providers.GatewayError `json:"error,omitempty"`
}

// GetAvailableProviders lists capability descriptors for every adapter
func (g *Gateway) GetAvailableProviders() []providers.Capabilities {
	return g.registry.Capabilities()
}

// GenerateResponse dispatches req with the user's stored configuration.
// Usage or status is written before it returns, except when ctx was
// cancelled by the caller.
func (g *Gateway) GenerateResponse(ctx context.Context, userID string, req providers.Request) (*providers.Response, error) {
	// Invalid requests never reach resolve and leave the stored status alone.
	if err := providers.ValidateRequest(providers.None, req); err != nil {
		return nil, err
	}

	rec, adapter, cfg, gerr := g.resolve(ctx, userID)
	if gerr != nil {
		return nil, gerr
	}
	defer cfg.Wipe()

	start := time.Now()
	resp, err := g.dispatch(ctx, adapter, req, *cfg)
	latency := time.Since(start)
	id := adapter.Identity()

	if ctx.Err() != nil {
		g.metrics.RecordDispatch(string(id), metrics.OutcomeCancelled, latency)
		g.logger.Info("dispatch abandoned by caller", "user_id", userID, "provider", id)
		if err == nil {
			return nil, providers.NewRequestError(id, ctx.Err())
		}
		return nil, err
	}

	if err != nil {
		outcome := g.recordFailure(ctx, userID, err)
		g.metrics.RecordDispatch(string(id), outcome, latency)
		return nil, err
	}

	g.metrics.RecordDispatch(string(id), metrics.OutcomeSuccess, latency)
	if src, ok := resp.Metadata[providers.MetaTokenSource].(string); ok {
		g.metrics.RecordTokens(string(id), src, resp.TokensUsed.Total)
	}

	writeCtx := context.WithoutCancel(ctx)
	if err := g.store.RecordUsage(writeCtx, userID, resp.TokensUsed.Total, g.now()); err != nil {
		g.logger.Error("failed to record usage",
			"user_id", userID,
			"provider", rec.Provider,
			"error", security.SanitizeError(err.Error()),
		)
	}
	return resp, nil
}

// TestConnection sends ConnectionTestPrompt through the normal dispatch
// path. When override is nil the stored configuration is tested. Only the
// connection status fields of an existing record are written.
func (g *Gateway) TestConnection(ctx context.Context, userID string, override *providers.ProviderConfig) ConnectionResult {
	var (
		adapter providers.Provider
		cfg     *providers.ProviderConfig
		gerr    *providers.GatewayError
	)
	if override != nil {
		adapter, cfg, gerr = g.resolveOverride(override)
	} else {
		_, adapter, cfg, gerr = g.resolve(ctx, userID)
	}
	if gerr != nil {
		if gerr.Kind == providers.KindDecryptionFailed {
			g.writeTestStatus(ctx, userID, models.StatusError, gerr)
		}
		return ConnectionResult{Provider: gerr.Provider, Error: gerr}
	}
	defer cfg.Wipe()

	id := adapter.Identity()
	maxTokens := connectionTestTokens
	req := providers.Request{Prompt: ConnectionTestPrompt, MaxTokens: &maxTokens}

	start := time.Now()
	resp, err := g.dispatch(ctx, adapter, req, *cfg)
	result := ConnectionResult{Provider: id, LatencyMs: time.Since(start).Milliseconds()}

	if ctx.Err() != nil {
		result.Error = asGatewayError(id, err)
		if result.Error == nil {
			result.Error = providers.NewRequestError(id, ctx.Err())
		}
		return result
	}

	if err != nil {
		result.Error = asGatewayError(id, err)
		result.Error.Message = security.SanitizeError(result.Error.Message)
		status := classifyFailure(result.Error)
		g.writeTestStatus(ctx, userID, status, result.Error)
		g.metrics.RecordConnectionTest(string(id), false)
		g.logEvent(ctx, userID, models.EventConnectionTestFailed, models.SeverityMedium,
			fmt.Sprintf("connection test to %s failed: %s", id, result.Error.Message),
			map[string]any{"provider": string(id), "code": result.Error.Code, "status": string(status)})
		return result
	}

	result.Success = true
	result.Model = resp.Model
	g.writeTestStatus(ctx, userID, models.StatusConnected, nil)
	g.metrics.RecordConnectionTest(string(id), true)
	g.logEvent(ctx, userID, models.EventConnectionTestSucceeded, models.SeverityLow,
		fmt.Sprintf("connection test to %s succeeded", id),
		map[string]any{"provider": string(id), "model": resp.Model})
	return result
}

// resolve loads the user's record, picks the adapter and decrypts the key
func (g *Gateway) resolve(ctx context.Context, userID string) (*models.UserPreferenceRecord, providers.Provider, *providers.ProviderConfig, *providers.GatewayError) {
	rec, err := g.store.Get(ctx, userID)
	if errors.Is(err, preferences.ErrNotFound) {
		return nil, nil, nil, providers.NewNoCredentialError(providers.None)
	}
	if err != nil {
		return nil, nil, nil, newStoreError(err)
	}

	id := providers.ParseIdentity(rec.Provider)
	if id == "" || id == providers.None {
		return nil, nil, nil, providers.NewNoCredentialError(providers.None)
	}
	adapter, ok := g.registry.Get(id)
	if !ok {
		return nil, nil, nil, providers.NewUnsupportedError(id)
	}
	if !rec.HasCredential() && id != providers.Custom {
		return nil, nil, nil, providers.NewNoCredentialError(id)
	}

	cfg := &providers.ProviderConfig{
		Provider:         id,
		ModelName:        rec.ModelName,
		CustomEndpoint:   rec.CustomEndpoint,
		Temperature:      rec.Temperature,
		MaxTokens:        rec.MaxTokens,
		ProviderSettings: rec.ProviderSettings,
	}
	if rec.HasCredential() {
		key, err := g.vault.Decrypt(ctx, rec.APIKeyEncrypted, userID)
		if err != nil {
			g.logEvent(ctx, userID, models.EventDecryptionFailed, models.SeverityHigh,
				"stored credential could not be decrypted",
				map[string]any{"provider": string(id), "error": err.Error()})
			return nil, nil, nil, providers.NewDecryptionError(id, err)
		}
		cfg.APIKey = key
	}
	return rec, adapter, cfg, nil
}

func (g *Gateway) resolveOverride(override *providers.ProviderConfig) (providers.Provider, *providers.ProviderConfig, *providers.GatewayError) {
	id := providers.ParseIdentity(string(override.Provider))
	adapter, ok := g.registry.Get(id)
	if !ok {
		return nil, nil, providers.NewUnsupportedError(id)
	}
	if override.APIKey == "" && id != providers.Custom {
		return nil, nil, providers.NewNoCredentialError(id)
	}
	cfg := *override
	cfg.Provider = id
	return adapter, &cfg, nil
}

// dispatch calls the adapter under the per-call timeout, retrying
// retryable failures up to maxRetries times with linear backoff
func (g *Gateway) dispatch(ctx context.Context, adapter providers.Provider, req providers.Request, cfg providers.ProviderConfig) (*providers.Response, error) {
	id := adapter.Identity()
	var lastErr *providers.GatewayError

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * g.retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, providers.NewRequestError(id, ctx.Err())
			case <-timer.C:
			}
			g.logger.Info("retrying provider dispatch", "provider", id, "attempt", attempt, "code", lastErr.Code)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := adapter.GenerateResponse(callCtx, req, cfg)
		cancel()
		if err == nil {
			return resp, nil
		}

		lastErr = asGatewayError(id, err)
		if !lastErr.Retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// recordFailure sanitizes the error in place, writes the failure status and
// returns the metrics outcome
func (g *Gateway) recordFailure(ctx context.Context, userID string, err error) string {
	gerr, ok := providers.AsGatewayError(err)
	if !ok {
		return metrics.OutcomeError
	}
	gerr.Message = security.SanitizeError(gerr.Message)
	status := classifyFailure(gerr)

	lastError := gerr.Code + ": " + gerr.Message
	update := preferences.StatusUpdate{Status: status, LastError: &lastError}
	if werr := g.store.RecordStatus(context.WithoutCancel(ctx), userID, update); werr != nil && !errors.Is(werr, preferences.ErrNotFound) {
		g.logger.Error("failed to record connection status",
			"user_id", userID,
			"error", security.SanitizeError(werr.Error()),
		)
	}
	g.logger.Warn("provider dispatch failed",
		"user_id", userID,
		"provider", gerr.Provider,
		"code", gerr.Code,
		"retryable", gerr.Retryable,
		"message", gerr.Message,
	)

	if status == models.StatusQuotaExceeded {
		return metrics.OutcomeQuota
	}
	return metrics.OutcomeError
}

func (g *Gateway) writeTestStatus(ctx context.Context, userID string, status models.ConnectionStatus, gerr *providers.GatewayError) {
	testedAt := g.now().UTC()
	update := preferences.StatusUpdate{Status: status, TestedAt: &testedAt}
	if gerr != nil {
		lastError := gerr.Code + ": " + security.SanitizeError(gerr.Message)
		update.LastError = &lastError
	}
	err := g.store.RecordStatus(context.WithoutCancel(ctx), userID, update)
	if err != nil && !errors.Is(err, preferences.ErrNotFound) {
		g.logger.Error("failed to record connection test status",
			"user_id", userID,
			"error", security.SanitizeError(err.Error()),
		)
	}
}

func (g *Gateway) logEvent(ctx context.Context, userID string, eventType models.SecurityEventType, severity models.Severity, description string, metadata map[string]any) {
	if g.events == nil {
		return
	}
	g.events.LogSecurityEvent(ctx, models.SecurityEvent{
		UserID:      userID,
		EventType:   eventType,
		Description: description,
		Severity:    severity,
		Metadata:    metadata,
	})
}

// classifyFailure maps a dispatch error to a connection status
func classifyFailure(gerr *providers.GatewayError) models.ConnectionStatus {
	if strings.Contains(strings.ToLower(gerr.Message), "quota") {
		return models.StatusQuotaExceeded
	}
	return models.StatusError
}

func asGatewayError(id providers.Identity, err error) *providers.GatewayError {
	if err == nil {
		return nil
	}
	if gerr, ok := providers.AsGatewayError(err); ok {
		return gerr
	}
	return providers.NewRequestError(id, err)
}

func newStoreError(err error) *providers.GatewayError {
	return &providers.GatewayError{
		Code:      CodeStoreUnavailable,
		Message:   "preference store is unavailable",
		Provider:  providers.None,
		Kind:      providers.KindRequestFailed,
		Retryable: true,
		Cause:     err,
	}
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/providers"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	gw     *gateway.Gateway
	checks map[string]Pinger
	logger *slog.Logger
}

// NewHandler creates the API handlers. checks are probed by /health and may
// be empty.
func NewHandler(gw *gateway.Gateway, checks map[string]Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gw: gw, checks: checks, logger: logger}
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "check", name, "error", err)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

// HandleProviders handles GET /v1/providers
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.gw.GetAvailableProviders()})
}

// HandleGenerate handles POST /v1/generate
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := APIKeyFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req providers.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.gw.GenerateResponse(r.Context(), apiKey.UserID, req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("X-Provider", string(resp.Provider))
	if latency, ok := resp.Metadata[providers.MetaLatencyMs].(int64); ok {
		w.Header().Set("X-Latency-Ms", fmt.Sprintf("%d", latency))
	}
	if cost, ok := resp.Metadata[providers.MetaCostUSD].(float64); ok {
		w.Header().Set("X-Cost-USD", fmt.Sprintf("%.6f", cost))
	}
	writeJSON(w, http.StatusOK, resp)
}

// connectionTestRequest optionally overrides the stored configuration
type connectionTestRequest struct {
	Provider         providers.Identity `json:"provider"`
	APIKey           string             `json:"api_key"`
	ModelName        string             `json:"model_name"`
	CustomEndpoint   string             `json:"custom_endpoint"`
	Temperature      *float64           `json:"temperature"`
	MaxTokens        *int               `json:"max_tokens"`
	ProviderSettings map[string]any     `json:"provider_settings"`
}

// HandleConnectionTest handles POST /v1/connection/test. An empty body tests
// the stored configuration.
func (h *Handler) HandleConnectionTest(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := APIKeyFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body connectionTestRequest
	if err := decodeBody(w, r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	var override *providers.ProviderConfig
	if body.Provider != "" {
		override = &providers.ProviderConfig{
			Provider:         body.Provider,
			APIKey:           strings.TrimSpace(body.APIKey),
			ModelName:        body.ModelName,
			CustomEndpoint:   body.CustomEndpoint,
			Temperature:      gateway.DefaultTemperature,
			MaxTokens:        gateway.DefaultMaxTokens,
			ProviderSettings: body.ProviderSettings,
		}
		if body.Temperature != nil {
			override.Temperature = *body.Temperature
		}
		if body.MaxTokens != nil {
			override.MaxTokens = *body.MaxTokens
		}
	}

	result := h.gw.TestConnection(r.Context(), apiKey.UserID, override)
	if override != nil {
		override.Wipe()
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetPreferences handles GET /v1/preferences
func (h *Handler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := APIKeyFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rec, err := h.gw.GetPreferences(r.Context(), apiKey.UserID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preferences":    rec,
		"has_credential": rec.HasCredential(),
	})
}

// HandlePutPreferences handles PUT /v1/preferences
func (h *Handler) HandlePutPreferences(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := APIKeyFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var in gateway.CredentialInput
	if err := decodeBody(w, r, &in); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.gw.SaveCredentials(r.Context(), apiKey.UserID, in)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleDeleteCredential handles DELETE /v1/preferences/credential
func (h *Handler) HandleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := APIKeyFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.gw.DeleteCredentials(r.Context(), apiKey.UserID); err != nil {
		writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errEmptyBody = errors.New("request body is empty")

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid request body")
	}
	return nil
}

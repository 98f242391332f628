package providers

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"
)

// Identity is the dispatch key naming an upstream AI backend
type Identity string

const (
	OpenAI   Identity = "openai"
	Gemini   Identity = "gemini"
	Claude   Identity = "claude"
	DeepSeek Identity = "deepseek"
	Mistral  Identity = "mistral"
	Custom   Identity = "custom"
	None     Identity = "none"
)

// AllIdentities lists the dispatchable providers in display order
var AllIdentities = []Identity{OpenAI, Gemini, Claude, DeepSeek, Mistral, Custom}

// ParseIdentity normalizes a stored provider tag
func ParseIdentity(s string) Identity {
	return Identity(strings.ToLower(strings.TrimSpace(s)))
}

// codePrefix returns the upper-case prefix used in error codes
func (id Identity) codePrefix() string {
	return strings.ToUpper(string(id))
}

// Metadata keys attached to every Response
const (
	MetaTokenSource = "token_count_source"
	MetaLatencyMs   = "latency_ms"
	MetaCostUSD     = "estimated_cost_usd"
	MetaResponseID  = "response_id"
	MetaShape       = "response_shape"

	TokenSourceExact     = "exact"
	TokenSourceEstimated = "estimated"
)

// Request is the normalized generation request
type Request struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// ProviderConfig is built fresh for each dispatch from decrypted material.
// It must not be persisted or retained after the call returns.
type ProviderConfig struct {
	Provider         Identity       `json:"provider"`
	APIKey           string         `json:"-"`
	ModelName        string         `json:"model_name,omitempty"`
	CustomEndpoint   string         `json:"custom_endpoint,omitempty"`
	Temperature      float64        `json:"temperature"`
	MaxTokens        int            `json:"max_tokens"`
	ProviderSettings map[string]any `json:"provider_settings,omitempty"`
}

// Wipe drops the reference to the plaintext key. Go strings are immutable,
// so the backing bytes are left to the garbage collector.
func (c *ProviderConfig) Wipe() {
	c.APIKey = ""
}

// SettingBool reads a boolean provider setting, accepting "true"/"1" strings
func (c *ProviderConfig) SettingBool(key string) bool {
	v, ok := c.ProviderSettings[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

// TokenUsage holds token counts; Total is always Input + Output
type TokenUsage struct {
	Input  uint64 `json:"input"`
	Output uint64 `json:"output"`
	Total  uint64 `json:"total"`
}

// NewTokenUsage builds a TokenUsage, clamping negative counts to zero
func NewTokenUsage(input, output int) TokenUsage {
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	return TokenUsage{
		Input:  uint64(input),
		Output: uint64(output),
		Total:  uint64(input) + uint64(output),
	}
}

// EstimateTokens approximates a token count as ceil(characters / 4)
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

// Response is the normalized generation result
type Response struct {
	Content      string         `json:"content"`
	TokensUsed   TokenUsage     `json:"tokens_used"`
	Model        string         `json:"model"`
	Provider     Identity       `json:"provider"`
	FinishReason string         `json:"finish_reason"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Provider is the interface all adapters implement. Adapters are stateless
// and safe for concurrent use; every returned error is a *GatewayError.
type Provider interface {
	GenerateResponse(ctx context.Context, req Request, cfg ProviderConfig) (*Response, error)
	GetCapabilities() Capabilities
	Identity() Identity
}

// params are the effective generation parameters for one call
type params struct {
	model       string
	temperature float64
	maxTokens   int
}

// resolveParams applies request overrides over the stored configuration
func resolveParams(req Request, cfg ProviderConfig, defaultModel string) params {
	p := params{
		model:       defaultModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if cfg.ModelName != "" {
		p.model = cfg.ModelName
	}
	if req.Model != "" {
		p.model = req.Model
	}
	if req.Temperature != nil {
		p.temperature = *req.Temperature
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		p.maxTokens = *req.MaxTokens
	}
	if p.maxTokens <= 0 {
		p.maxTokens = DefaultMaxTokens
	}
	return p
}

// DefaultMaxTokens applies when neither the record nor the request sets a limit
const DefaultMaxTokens = 1024

// ValidateRequest rejects requests no provider could serve
func ValidateRequest(id Identity, req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return NewInvalidRequestError(id, "prompt must not be empty")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return NewInvalidRequestError(id, "temperature must be between 0.0 and 2.0")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return NewInvalidRequestError(id, "max_tokens must be greater than zero")
	}
	return nil
}

// buildMetadata assembles the common response metadata
func buildMetadata(tokenSource string, latencyMs int64) map[string]any {
	return map[string]any{
		MetaTokenSource: tokenSource,
		MetaLatencyMs:   latencyMs,
	}
}

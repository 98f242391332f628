package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// CustomProvider talks to a user-hosted endpoint. The request is sent in
// chat-completions form; the response is read by trying each shape in
// customResponseShapes in order.
type CustomProvider struct {
	httpClient *http.Client
}

// NewCustomProvider creates a new custom endpoint provider
func NewCustomProvider(opts Options) *CustomProvider {
	return &CustomProvider{httpClient: opts.client()}
}

type customRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []customMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type customMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateResponse posts to the configured endpoint
func (p *CustomProvider) GenerateResponse(ctx context.Context, req Request, cfg ProviderConfig) (*Response, error) {
	if err := ValidateRequest(Custom, req); err != nil {
		return nil, err
	}
	endpoint, err := parseCustomEndpoint(cfg.CustomEndpoint)
	if err != nil {
		return nil, err
	}
	startTime := time.Now()
	prm := resolveParams(req, cfg, "")

	body := customRequest{
		Model:       prm.model,
		Temperature: prm.temperature,
		MaxTokens:   prm.maxTokens,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, customMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, customMessage{Role: "user", Content: req.Prompt})

	respBody, err := postJSON(ctx, p.httpClient, Custom, endpoint, customHeaders(cfg), body)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(respBody))) == 0 {
		return nil, NewMalformedError(Custom, errors.New("empty response body"))
	}

	content, shape, payload := matchCustomResponse(respBody)

	usage, source := customUsage(payload, req, content)
	model := prm.model
	if m, ok := payload.(map[string]any); ok {
		if s, ok := m["model"].(string); ok && s != "" {
			model = s
		}
	}
	if model == "" {
		model = capabilitiesFor(Custom).DefaultModel
	}

	out := &Response{
		Content:      content,
		TokensUsed:   usage,
		Model:        model,
		Provider:     Custom,
		FinishReason: customFinishReason(payload),
		Metadata:     buildMetadata(source, time.Since(startTime).Milliseconds()),
	}
	out.Metadata[MetaShape] = shape
	return out, nil
}

func parseCustomEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewInvalidRequestError(Custom, "custom endpoint is not configured")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", NewInvalidRequestError(Custom, "custom endpoint must be an absolute http(s) URL")
	}
	return u.String(), nil
}

// customHeaders builds auth and extra headers. The key goes in
// "Authorization: Bearer" unless provider setting auth_header names another header.
func customHeaders(cfg ProviderConfig) map[string]string {
	headers := make(map[string]string)
	if extra, ok := cfg.ProviderSettings["headers"].(map[string]any); ok {
		for k, v := range extra {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	if cfg.APIKey == "" {
		return headers
	}
	if name, ok := cfg.ProviderSettings["auth_header"].(string); ok && name != "" {
		headers[name] = cfg.APIKey
	} else {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return headers
}

// responseShape extracts generated text from one known response layout
type responseShape interface {
	Name() string
	Match(payload any) (string, bool)
}

// OpenAIShape reads choices[0].message.content
type OpenAIShape struct{}

func (OpenAIShape) Name() string { return "openai" }

func (OpenAIShape) Match(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := msg["content"].(string)
	return content, ok
}

// PlainStringShape accepts a bare JSON string
type PlainStringShape struct{}

func (PlainStringShape) Name() string { return "string" }

func (PlainStringShape) Match(payload any) (string, bool) {
	s, ok := payload.(string)
	return s, ok
}

// KeyedFieldShape reads the first top-level string field found in Keys
type KeyedFieldShape struct {
	Keys []string
}

func (KeyedFieldShape) Name() string { return "keyed_field" }

func (s KeyedFieldShape) Match(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range s.Keys {
		if v, ok := obj[key].(string); ok {
			return v, true
		}
	}
	return "", false
}

// RawFallbackShape stringifies the whole payload and always matches
type RawFallbackShape struct{}

func (RawFallbackShape) Name() string { return "raw" }

func (RawFallbackShape) Match(payload any) (string, bool) {
	if s, ok := payload.(rawText); ok {
		return string(s), true
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", true
	}
	return string(b), true
}

// rawText marks a body that was not JSON at all
type rawText string

// customResponseShapes is tried in order; the last entry always matches
var customResponseShapes = []responseShape{
	OpenAIShape{},
	PlainStringShape{},
	KeyedFieldShape{Keys: []string{"content", "text", "response", "output"}},
	RawFallbackShape{},
}

// matchCustomResponse decodes body and returns the content, the name of the
// shape that produced it and the decoded payload
func matchCustomResponse(body []byte) (string, string, any) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = rawText(strings.TrimSpace(string(body)))
	}
	for _, shape := range customResponseShapes {
		if content, ok := shape.Match(payload); ok {
			return content, shape.Name(), payload
		}
	}
	return "", RawFallbackShape{}.Name(), payload
}

// customUsage uses an OpenAI-style usage object when present and
// estimates otherwise
func customUsage(payload any, req Request, content string) (TokenUsage, string) {
	if obj, ok := payload.(map[string]any); ok {
		if u, ok := obj["usage"].(map[string]any); ok {
			in, okIn := u["prompt_tokens"].(float64)
			out, okOut := u["completion_tokens"].(float64)
			if okIn && okOut {
				return NewTokenUsage(int(in), int(out)), TokenSourceExact
			}
		}
	}
	return NewTokenUsage(EstimateTokens(req.SystemPrompt+req.Prompt), EstimateTokens(content)), TokenSourceEstimated
}

func customFinishReason(payload any) string {
	if obj, ok := payload.(map[string]any); ok {
		if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
			if choice, ok := choices[0].(map[string]any); ok {
				if r, ok := choice["finish_reason"].(string); ok && r != "" {
					return r
				}
			}
		}
	}
	return "stop"
}

// GetCapabilities returns static provider metadata
func (p *CustomProvider) GetCapabilities() Capabilities {
	return capabilitiesFor(Custom)
}

// Identity returns the provider tag
func (p *CustomProvider) Identity() Identity {
	return Custom
}

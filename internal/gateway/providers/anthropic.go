package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

const (
	DefaultClaudeBaseURL = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
)

// ClaudeProvider handles Anthropic Messages API requests
type ClaudeProvider struct {
	baseURL    string
	httpClient *http.Client
}

// anthropicRequest represents a request to Anthropic's Messages API
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse represents a response from Anthropic's API
type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      *anthropicUsage         `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewClaudeProvider creates a new Anthropic provider
func NewClaudeProvider(opts Options) *ClaudeProvider {
	return &ClaudeProvider{
		baseURL:    opts.baseURL(DefaultClaudeBaseURL),
		httpClient: opts.client(),
	}
}

// GenerateResponse makes a Messages API request to Anthropic
func (p *ClaudeProvider) GenerateResponse(ctx context.Context, req Request, cfg ProviderConfig) (*Response, error) {
	if err := ValidateRequest(Claude, req); err != nil {
		return nil, err
	}
	startTime := time.Now()
	prm := resolveParams(req, cfg, capabilitiesFor(Claude).DefaultModel)

	// Anthropic caps temperature at 1.0
	temperature := prm.temperature
	if temperature > 1 {
		temperature = 1
	}

	body := anthropicRequest{
		Model:       prm.model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   prm.maxTokens,
		Temperature: &temperature,
		System:      req.SystemPrompt,
	}
	headers := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	respBody, err := postJSON(ctx, p.httpClient, Claude, p.baseURL+"/v1/messages", headers, body)
	if err != nil {
		return nil, err
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, NewMalformedError(Claude, err)
	}
	if anthropicResp.Usage == nil || len(anthropicResp.Content) == 0 {
		return nil, NewMalformedError(Claude, errors.New("response is missing content or usage"))
	}

	return p.convertResponse(anthropicResp, prm.model, time.Since(startTime)), nil
}

// convertResponse converts Anthropic response to the normalized format
func (p *ClaudeProvider) convertResponse(resp anthropicResponse, model string, latency time.Duration) *Response {
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if resp.Model != "" {
		model = resp.Model
	}

	out := &Response{
		Content:      content,
		TokensUsed:   NewTokenUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		Model:        model,
		Provider:     Claude,
		FinishReason: mapAnthropicStopReason(resp.StopReason),
		Metadata:     buildMetadata(TokenSourceExact, latency.Milliseconds()),
	}
	if resp.ID != "" {
		out.Metadata[MetaResponseID] = resp.ID
	}
	attachCost(out, p.GetCapabilities())
	return out
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "":
		return "stop"
	default:
		return reason
	}
}

// GetCapabilities returns static provider metadata
func (p *ClaudeProvider) GetCapabilities() Capabilities {
	return capabilitiesFor(Claude)
}

// Identity returns the provider tag
func (p *ClaudeProvider) Identity() Identity {
	return Claude
}

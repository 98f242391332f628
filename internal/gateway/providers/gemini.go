package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiProvider handles Google Gemini API requests
type GeminiProvider struct {
	baseURL    string
	httpClient *http.Client
}

// geminiRequest represents a request to Gemini's API
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// geminiResponse represents a response from Gemini API
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(opts Options) *GeminiProvider {
	return &GeminiProvider{
		baseURL:    opts.baseURL(DefaultGeminiBaseURL),
		httpClient: opts.client(),
	}
}

// GenerateResponse makes a generateContent request to Gemini
func (p *GeminiProvider) GenerateResponse(ctx context.Context, req Request, cfg ProviderConfig) (*Response, error) {
	if err := ValidateRequest(Gemini, req); err != nil {
		return nil, err
	}
	startTime := time.Now()
	prm := resolveParams(req, cfg, capabilitiesFor(Gemini).DefaultModel)

	temperature := prm.temperature
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: prm.maxTokens,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	// The key travels in a header so transport errors never echo it in a URL.
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, url.PathEscape(prm.model))
	headers := map[string]string{"x-goog-api-key": cfg.APIKey}

	respBody, err := postJSON(ctx, p.httpClient, Gemini, endpoint, headers, body)
	if err != nil {
		return nil, err
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, NewMalformedError(Gemini, err)
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, NewMalformedError(Gemini, errors.New("response has no candidates"))
	}

	return p.convertResponse(geminiResp, req, prm.model, time.Since(startTime)), nil
}

// convertResponse converts a Gemini response to the normalized format.
// Counts are estimated when the response carries no usage metadata.
func (p *GeminiProvider) convertResponse(resp geminiResponse, req Request, model string, latency time.Duration) *Response {
	candidate := resp.Candidates[0]
	var content string
	for _, part := range candidate.Content.Parts {
		content += part.Text
	}

	var usage TokenUsage
	source := TokenSourceExact
	if u := resp.UsageMetadata; u != nil && (u.PromptTokenCount > 0 || u.CandidatesTokenCount > 0) {
		usage = NewTokenUsage(u.PromptTokenCount, u.CandidatesTokenCount)
	} else {
		source = TokenSourceEstimated
		usage = NewTokenUsage(EstimateTokens(req.SystemPrompt+req.Prompt), EstimateTokens(content))
	}

	out := &Response{
		Content:      content,
		TokensUsed:   usage,
		Model:        model,
		Provider:     Gemini,
		FinishReason: mapGeminiFinishReason(candidate.FinishReason),
		Metadata:     buildMetadata(source, latency.Milliseconds()),
	}
	if resp.ModelVersion != "" {
		out.Metadata["model_version"] = resp.ModelVersion
	}
	attachCost(out, p.GetCapabilities())
	return out
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	default:
		return "stop"
	}
}

// GetCapabilities returns static provider metadata
func (p *GeminiProvider) GetCapabilities() Capabilities {
	return capabilitiesFor(Gemini)
}

// Identity returns the provider tag
func (p *GeminiProvider) Identity() Identity {
	return Gemini
}

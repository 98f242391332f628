package providers

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	DefaultMistralBaseURL  = "https://api.mistral.ai/v1"
)

// OpenAICompatibleProvider handles chat-completions APIs that follow the
// OpenAI wire format. OpenAI, DeepSeek and Mistral differ only in base URL
// and default model.
type OpenAICompatibleProvider struct {
	identity     Identity
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAIProvider creates the OpenAI adapter
func NewOpenAIProvider(opts Options) *OpenAICompatibleProvider {
	return newOpenAICompatible(OpenAI, opts.baseURL(DefaultOpenAIBaseURL), "gpt-4o-mini", opts)
}

// NewDeepSeekProvider creates the DeepSeek adapter
func NewDeepSeekProvider(opts Options) *OpenAICompatibleProvider {
	return newOpenAICompatible(DeepSeek, opts.baseURL(DefaultDeepSeekBaseURL), "deepseek-chat", opts)
}

// NewMistralProvider creates the Mistral adapter
func NewMistralProvider(opts Options) *OpenAICompatibleProvider {
	return newOpenAICompatible(Mistral, opts.baseURL(DefaultMistralBaseURL), "mistral-small-latest", opts)
}

func newOpenAICompatible(id Identity, baseURL, defaultModel string, opts Options) *OpenAICompatibleProvider {
	return &OpenAICompatibleProvider{
		identity:     id,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		httpClient:   opts.client(),
	}
}

// GenerateResponse makes a chat completion request
func (p *OpenAICompatibleProvider) GenerateResponse(ctx context.Context, req Request, cfg ProviderConfig) (*Response, error) {
	if err := ValidateRequest(p.identity, req); err != nil {
		return nil, err
	}
	startTime := time.Now()
	prm := resolveParams(req, cfg, p.defaultModel)

	capture := &statusCapture{client: p.httpClient}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = p.baseURL
	clientCfg.HTTPClient = capture
	client := openai.NewClientWithConfig(clientCfg)

	resp, err := client.CreateChatCompletion(ctx, p.buildRequest(req, prm))
	if err != nil {
		return nil, p.mapError(err, capture.status)
	}

	if len(resp.Choices) == 0 {
		return nil, NewMalformedError(p.identity, errors.New("response has no choices"))
	}

	model := resp.Model
	if model == "" {
		model = prm.model
	}

	out := &Response{
		Content:      resp.Choices[0].Message.Content,
		TokensUsed:   NewTokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		Model:        model,
		Provider:     p.identity,
		FinishReason: string(resp.Choices[0].FinishReason),
		Metadata:     buildMetadata(TokenSourceExact, time.Since(startTime).Milliseconds()),
	}
	if resp.ID != "" {
		out.Metadata[MetaResponseID] = resp.ID
	}
	attachCost(out, p.GetCapabilities())

	return out, nil
}

// buildRequest converts to the OpenAI request shape. Reasoning models reject
// system messages, max_tokens and non-default temperature.
func (p *OpenAICompatibleProvider) buildRequest(req Request, prm params) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model: prm.model,
	}

	if _, reasoning := openai.O1SeriesModels[prm.model]; reasoning {
		prompt := req.Prompt
		if req.SystemPrompt != "" {
			prompt = req.SystemPrompt + "\n\n" + req.Prompt
		}
		chatReq.Messages = []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		}
		chatReq.MaxCompletionTokens = prm.maxTokens
		return chatReq
	}

	if req.SystemPrompt != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	chatReq.Temperature = wireTemperature(prm.temperature)
	chatReq.MaxTokens = prm.maxTokens

	return chatReq
}

// wireTemperature keeps an explicit 0 on the wire. go-openai omits a zero
// Temperature, so the smallest non-zero float32 stands in for it.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// mapError converts go-openai failures into the gateway taxonomy
func (p *OpenAICompatibleProvider) mapError(err error, status int) *GatewayError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		gerr := NewHTTPError(p.identity, apiErr.HTTPStatusCode, apiErr.Message)
		if apiErr.Type != "" {
			gerr.Details = map[string]any{"type": apiErr.Type}
		}
		gerr.Cause = err
		return gerr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		gerr := NewHTTPError(p.identity, reqErr.HTTPStatusCode, extractErrorMessage(reqErr.Body))
		gerr.Cause = err
		return gerr
	}

	if status != 0 && (status < 200 || status >= 300) {
		gerr := NewHTTPError(p.identity, status, "")
		gerr.Cause = err
		return gerr
	}

	if errors.Is(err, openai.ErrChatCompletionInvalidModel) || errors.Is(err, openai.ErrO1MaxTokensDeprecated) ||
		errors.Is(err, openai.ErrO1BetaLimitationsOther) || errors.Is(err, openai.ErrO1BetaLimitationsMessageTypes) {
		gerr := NewInvalidRequestError(p.identity, err.Error())
		gerr.Cause = err
		return gerr
	}

	// A 2xx response whose body did not decode
	if status >= 200 && status < 300 {
		var syntaxErr *stdjson.SyntaxError
		var typeErr *stdjson.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
			errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return NewMalformedError(p.identity, err)
		}
	}

	return NewRequestError(p.identity, err)
}

// GetCapabilities returns static provider metadata
func (p *OpenAICompatibleProvider) GetCapabilities() Capabilities {
	return capabilitiesFor(p.identity)
}

// Identity returns the provider tag
func (p *OpenAICompatibleProvider) Identity() Identity {
	return p.identity
}

// statusCapture records the HTTP status of the single request a per-call
// go-openai client makes
type statusCapture struct {
	client *http.Client
	status int
}

// Do implements openai.HTTPDoer
func (s *statusCapture) Do(req *http.Request) (*http.Response, error) {
	resp, err := s.client.Do(req)
	if resp != nil {
		s.status = resp.StatusCode
	}
	return resp, err
}

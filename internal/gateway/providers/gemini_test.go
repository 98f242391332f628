package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiProvider_EstimatesTokensWithoutUsage(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key-123456", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "twelve chars"}]},
				"finishReason": "STOP",
				"index": 0
			}]
		}`))
	}))
	defer server.Close()

	adapter, cfg := newTestAdapter(Gemini, server.URL)
	resp, err := adapter.GenerateResponse(context.Background(), Request{Prompt: "abcdefg", SystemPrompt: "xy"}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "twelve chars", resp.Content)
	assert.Equal(t, Gemini, resp.Provider)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	// ceil(9/4) prompt, ceil(12/4) completion
	assert.Equal(t, TokenUsage{Input: 3, Output: 3, Total: 6}, resp.TokensUsed)
	assert.Equal(t, TokenSourceEstimated, resp.Metadata[MetaTokenSource])

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "xy", captured.SystemInstruction.Parts[0].Text)
	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "user", captured.Contents[0].Role)
	require.NotNil(t, captured.GenerationConfig)
	assert.Equal(t, 256, captured.GenerationConfig.MaxOutputTokens)
}

func TestGeminiProvider_UsesExactUsageWhenPresent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "ok"}]}, "finishReason": "MAX_TOKENS"}],
			"usageMetadata": {"promptTokenCount": 40, "candidatesTokenCount": 2, "totalTokenCount": 42}
		}`))
	}))
	defer server.Close()

	adapter, cfg := newTestAdapter(Gemini, server.URL)
	resp, err := adapter.GenerateResponse(context.Background(), Request{Prompt: "hello"}, cfg)
	require.NoError(t, err)

	assert.Equal(t, TokenUsage{Input: 40, Output: 2, Total: 42}, resp.TokensUsed)
	assert.Equal(t, TokenSourceExact, resp.Metadata[MetaTokenSource])
	assert.Equal(t, "length", resp.FinishReason)
}

func TestGeminiProvider_NoCandidatesIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	adapter, cfg := newTestAdapter(Gemini, server.URL)
	_, err := adapter.GenerateResponse(context.Background(), Request{Prompt: "hello"}, cfg)

	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, "GEMINI_INVALID_RESPONSE", gerr.Code)
}

func TestGeminiProvider_QuotaErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	adapter, cfg := newTestAdapter(Gemini, server.URL)
	_, err := adapter.GenerateResponse(context.Background(), Request{Prompt: "hello"}, cfg)

	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, "GEMINI_429", gerr.Code)
	assert.True(t, strings.Contains(gerr.Message, "quota"))
}

func TestMapGeminiFinishReason(t *testing.T) {
	assert.Equal(t, "stop", mapGeminiFinishReason("STOP"))
	assert.Equal(t, "length", mapGeminiFinishReason("MAX_TOKENS"))
	assert.Equal(t, "content_filter", mapGeminiFinishReason("SAFETY"))
	assert.Equal(t, "content_filter", mapGeminiFinishReason("RECITATION"))
	assert.Equal(t, "stop", mapGeminiFinishReason("OTHER"))
}

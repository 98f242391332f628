package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeProvider_GenerateResponse(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key-123456", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku-4-5-20251001",
			"content": [{"type": "text", "text": "Hi "}, {"type": "text", "text": "there"}],
			"stop_reason": "max_tokens",
			"usage": {"input_tokens": 20, "output_tokens": 7}
		}`))
	}))
	defer server.Close()

	adapter, cfg := newTestAdapter(Claude, server.URL)
	cfg.Temperature = 1.8
	cfg.ModelName = "claude-haiku-4-5-20251001"

	resp, err := adapter.GenerateResponse(context.Background(), Request{Prompt: "hello", SystemPrompt: "be brief"}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, Claude, resp.Provider)
	assert.Equal(t, "length", resp.FinishReason)
	assert.Equal(t, TokenUsage{Input: 20, Output: 7, Total: 27}, resp.TokensUsed)
	assert.Equal(t, TokenSourceExact, resp.Metadata[MetaTokenSource])
	assert.Contains(t, resp.Metadata, MetaCostUSD)

	assert.Equal(t, "claude-haiku-4-5-20251001", captured.Model)
	assert.Equal(t, "be brief", captured.System)
	assert.Equal(t, 256, captured.MaxTokens)
	require.NotNil(t, captured.Temperature)
	assert.Equal(t, 1.0, *captured.Temperature)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestClaudeProvider_MissingUsageIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"msg_01","content":[{"type":"text","text":"x"}]}`))
	}))
	defer server.Close()

	adapter, cfg := newTestAdapter(Claude, server.URL)
	_, err := adapter.GenerateResponse(context.Background(), Request{Prompt: "hello"}, cfg)

	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, "CLAUDE_INVALID_RESPONSE", gerr.Code)
	assert.Equal(t, Claude, gerr.Provider)
}

func TestMapAnthropicStopReason(t *testing.T) {
	tests := map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"max_tokens":    "length",
		"tool_use":      "tool_calls",
		"":              "stop",
		"refusal":       "refusal",
	}
	for in, want := range tests {
		assert.Equal(t, want, mapAnthropicStopReason(in), in)
	}
}

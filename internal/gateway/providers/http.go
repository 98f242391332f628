package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBodyLen    = 512
)

// Options configures an adapter's transport. Zero values select the
// vendor's public endpoint and a client with a 60s timeout.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

func (o Options) baseURL(def string) string {
	if o.BaseURL != "" {
		return strings.TrimRight(o.BaseURL, "/")
	}
	return def
}

// postJSON sends a JSON body and returns the raw body of a 2xx response.
// Every failure comes back as a *GatewayError tagged with id.
func postJSON(ctx context.Context, client *http.Client, id Identity, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewInvalidRequestError(id, fmt.Sprintf("encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, NewInvalidRequestError(id, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewRequestError(id, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewRequestError(id, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, NewHTTPError(id, httpResp.StatusCode, extractErrorMessage(respBody))
	}

	return respBody, nil
}

// extractErrorMessage pulls a human-readable message out of the error
// envelopes used by the supported vendors
func extractErrorMessage(body []byte) string {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch e := envelope["error"].(type) {
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		case string:
			if e != "" {
				return e
			}
		}
		if msg, ok := envelope["message"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := envelope["detail"].(string); ok && msg != "" {
			return msg
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBodyLen {
		cut := maxErrorBodyLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

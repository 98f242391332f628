package handlers

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/providers"
)

// statusClientClosedRequest is reported when the caller went away mid-dispatch
const statusClientClosedRequest = 499

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": message}})
}

func writeGatewayError(w http.ResponseWriter, err error) {
	gerr, ok := providers.AsGatewayError(err)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	if gerr.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusFor(gerr), map[string]any{"error": gerr})
}

// statusFor maps a GatewayError onto the HTTP status returned to callers.
// Upstream auth failures become 502 so they are not mistaken for a bad
// gateway key.
func statusFor(gerr *providers.GatewayError) int {
	if gerr.Code == gateway.CodeStoreUnavailable {
		return http.StatusServiceUnavailable
	}
	switch gerr.Kind {
	case providers.KindNoCredential:
		return http.StatusNotFound
	case providers.KindProviderUnsupported, providers.KindInvalidRequest:
		return http.StatusBadRequest
	case providers.KindDecryptionFailed, providers.KindEncryptionFailed:
		return http.StatusInternalServerError
	case providers.KindUpstreamHTTP:
		if gerr.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case providers.KindUpstreamMalformed:
		return http.StatusBadGateway
	case providers.KindRequestFailed:
		if timeout, _ := gerr.Details["timeout"].(bool); timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case providers.KindCancelled:
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

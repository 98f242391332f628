package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a GatewayError independent of its code
type ErrorKind string

const (
	KindNoCredential        ErrorKind = "no_credential"
	KindProviderUnsupported ErrorKind = "provider_unsupported"
	KindDecryptionFailed    ErrorKind = "decryption_failed"
	KindEncryptionFailed    ErrorKind = "encryption_failed"
	KindUpstreamHTTP        ErrorKind = "upstream_http_error"
	KindUpstreamMalformed   ErrorKind = "upstream_malformed"
	KindRequestFailed       ErrorKind = "request_failed"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindCancelled           ErrorKind = "cancelled"
)

// Fixed error codes. Upstream HTTP failures use "<PROVIDER>_<status>".
const (
	CodeNoAPIKey             = "NO_API_KEY"
	CodeProviderNotSupported = "PROVIDER_NOT_SUPPORTED"
	CodeDecryptionFailed     = "DECRYPTION_FAILED"
	CodeEncryptionFailed     = "ENCRYPTION_FAILED"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeRequestCancelled     = "REQUEST_CANCELLED"
)

// GatewayError is the only error type callers receive from the gateway.
// It always names the provider and whether a retry is safe.
type GatewayError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Provider   Identity       `json:"provider"`
	Kind       ErrorKind      `json:"kind"`
	StatusCode int            `json:"status_code,omitempty"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s (provider=%s, retryable=%t)", e.Code, e.Message, e.Provider, e.Retryable)
}

// Unwrap returns the underlying error for error chain support.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// AsGatewayError extracts a *GatewayError from an error chain
func AsGatewayError(err error) (*GatewayError, bool) {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

// IsRetryableStatus applies the 429/5xx convention shared by all adapters
func IsRetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// NewHTTPError maps a non-2xx upstream response
func NewHTTPError(id Identity, status int, message string) *GatewayError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &GatewayError{
		Code:       fmt.Sprintf("%s_%d", id.codePrefix(), status),
		Message:    message,
		Provider:   id,
		Kind:       KindUpstreamHTTP,
		StatusCode: status,
		Retryable:  IsRetryableStatus(status),
	}
}

// NewMalformedError reports a 2xx response that did not parse
func NewMalformedError(id Identity, cause error) *GatewayError {
	msg := "provider returned an unexpected response"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &GatewayError{
		Code:     id.codePrefix() + "_INVALID_RESPONSE",
		Message:  msg,
		Provider: id,
		Kind:     KindUpstreamMalformed,
		Cause:    cause,
	}
}

// NewRequestError reports a transport failure before any HTTP response.
// Caller cancellation is reported separately and is never retryable.
func NewRequestError(id Identity, cause error) *GatewayError {
	if errors.Is(cause, context.Canceled) {
		return &GatewayError{
			Code:     CodeRequestCancelled,
			Message:  "request cancelled by caller",
			Provider: id,
			Kind:     KindCancelled,
			Cause:    cause,
		}
	}
	gerr := &GatewayError{
		Code:      id.codePrefix() + "_REQUEST_FAILED",
		Message:   fmt.Sprintf("request to provider failed: %v", cause),
		Provider:  id,
		Kind:      KindRequestFailed,
		Retryable: true,
		Cause:     cause,
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		gerr.Message = "request to provider timed out"
		gerr.Details = map[string]any{"timeout": true}
	}
	return gerr
}

// NewInvalidRequestError reports a request or configuration no adapter can serve
func NewInvalidRequestError(id Identity, message string) *GatewayError {
	return &GatewayError{
		Code:     CodeInvalidRequest,
		Message:  message,
		Provider: id,
		Kind:     KindInvalidRequest,
	}
}

// NewNoCredentialError reports that no usable key is configured
func NewNoCredentialError(id Identity) *GatewayError {
	return &GatewayError{
		Code:     CodeNoAPIKey,
		Message:  "no API key configured for this user",
		Provider: id,
		Kind:     KindNoCredential,
	}
}

// NewUnsupportedError reports a provider tag with no registered adapter
func NewUnsupportedError(id Identity) *GatewayError {
	return &GatewayError{
		Code:     CodeProviderNotSupported,
		Message:  fmt.Sprintf("provider %q is not supported", id),
		Provider: id,
		Kind:     KindProviderUnsupported,
	}
}

// NewDecryptionError reports an unreadable stored credential
func NewDecryptionError(id Identity, cause error) *GatewayError {
	return &GatewayError{
		Code:     CodeDecryptionFailed,
		Message:  "stored credential could not be decrypted",
		Provider: id,
		Kind:     KindDecryptionFailed,
		Cause:    cause,
	}
}

// NewEncryptionError reports that a new credential could not be sealed
func NewEncryptionError(id Identity, cause error) *GatewayError {
	return &GatewayError{
		Code:     CodeEncryptionFailed,
		Message:  "credential could not be encrypted",
		Provider: id,
		Kind:     KindEncryptionFailed,
		Cause:    cause,
	}
}

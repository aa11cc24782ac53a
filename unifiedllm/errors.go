package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderErrorKind tags a ProviderError with its place in the taxonomy.
type ProviderErrorKind string

const (
	KindNetwork           ProviderErrorKind = "network"
	KindAuth              ProviderErrorKind = "auth"
	KindRateLimit         ProviderErrorKind = "rate_limit"
	KindMalformedResponse ProviderErrorKind = "malformed_response"
	KindIncompleteStream  ProviderErrorKind = "incomplete_stream"
	KindServer            ProviderErrorKind = "server"
	KindInvalidRequest    ProviderErrorKind = "invalid_request"
	KindContextLength     ProviderErrorKind = "context_length"
	KindTimeout           ProviderErrorKind = "timeout"
	KindOther             ProviderErrorKind = "other"
)

// ProviderError represents a failure talking to a model backend.
type ProviderError struct {
	SDKError
	Kind       ProviderErrorKind
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	msg := e.SDKError.Error()
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s: %s (status=%d)", e.Provider, e.Kind, msg, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) providerError() *ProviderError { return e }

// Concrete provider error types. Each embeds ProviderError so callers can
// match either the concrete type or any provider failure via AsProviderError.

type NetworkError struct{ ProviderError }
type AuthenticationError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type MalformedResponseError struct{ ProviderError }
type IncompleteStreamError struct{ ProviderError }
type ServerError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type RequestTimeoutError struct{ ProviderError }

// Non-provider errors.

type AbortError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ProtocolError reports model output that violates the tool-call protocol.
type ProtocolError struct{ SDKError }

// MalformedToolArgumentsError is a ProtocolError for one tool call whose
// merged arguments could not be parsed.
type MalformedToolArgumentsError struct {
	ProtocolError
	CallID   string
	ToolName string
	Raw      string
}

func (e *MalformedToolArgumentsError) Error() string {
	return fmt.Sprintf("malformed arguments for tool %q (call %s): %s", e.ToolName, e.CallID, e.SDKError.Error())
}

type providerErr interface {
	providerError() *ProviderError
}

// AsProviderError returns the ProviderError inside err, whatever its
// concrete kind.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe providerErr
	if errors.As(err, &pe) {
		return pe.providerError(), true
	}
	return nil, false
}

// Kind returns the taxonomy tag of a provider failure, or "" when err is
// not a ProviderError.
func Kind(err error) ProviderErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return ""
}

func newProviderError(kind ProviderErrorKind, provider, message string, cause error, retryable bool) ProviderError {
	return ProviderError{
		SDKError:  SDKError{Message: message, Cause: cause},
		Kind:      kind,
		Provider:  provider,
		Retryable: retryable,
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(provider string, cause error) error {
	return &NetworkError{newProviderError(KindNetwork, provider, "network error", cause, true)}
}

// NewMalformedResponseError reports a reply that could not be interpreted.
func NewMalformedResponseError(provider, message string) error {
	return &MalformedResponseError{newProviderError(KindMalformedResponse, provider, message, nil, false)}
}

// NewIncompleteStreamError reports a stream that ended without a terminal
// marker.
func NewIncompleteStreamError(provider string, cause error) error {
	return &IncompleteStreamError{newProviderError(KindIncompleteStream, provider, "stream ended without a terminal marker", cause, false)}
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 404, 422:
		pe.Kind = KindInvalidRequest
		return &InvalidRequestError{ProviderError: pe}
	case 401, 403:
		pe.Kind = KindAuth
		return &AuthenticationError{ProviderError: pe}
	case 408:
		pe.Kind = KindTimeout
		pe.Retryable = true
		return &RequestTimeoutError{ProviderError: pe}
	case 413:
		pe.Kind = KindContextLength
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Kind = KindRateLimit
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Kind = KindServer
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Kind = KindOther
		pe.Retryable = statusCode >= 500
		return &pe
	}
}

// ClassifyTransportError converts an error raised below the HTTP layer into
// the taxonomy. Errors that already belong to it pass through.
func ClassifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		pe := newProviderError(KindTimeout, provider, "request timed out", err, true)
		return &RequestTimeoutError{pe}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewNetworkError(provider, err)
	}
	pe := newProviderError(KindOther, provider, "provider request failed", err, false)
	return &pe
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var abort *AbortError
	var cfg *ConfigurationError
	var proto *ProtocolError
	var malformed *MalformedToolArgumentsError
	switch {
	case errors.As(err, &abort), errors.As(err, &cfg), errors.As(err, &proto), errors.As(err, &malformed):
		return false
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Retryable
	}
	return false
}

// Package errors provides the error taxonomy used throughout quill.
//
// Two families of errors live here. The HTTP family (validation, auth, rate
// limit, not found) is written to API clients as structured JSON. The
// transformation family classifies why a message could not be rewritten by
// the language model (missing credentials, network failure, non-success
// status, malformed response, timeout, interruption). Transformation errors
// never reach end users: the pipeline resolves them into a fallback result
// and only operators see the details in the logs.
//
// Basic usage:
//
//	// Simple error response
//	errors.Error(w, "Something went wrong", http.StatusBadRequest)
//
//	// Classify a provider failure
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// If nil is provided, the function will do nothing to prevent
// accidentally disabling logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents different categories of errors that can occur
// in quill.
type ErrorType string

const (
	// AuthError represents authentication and authorization failures
	AuthError ErrorType = "authentication_error"

	// ValidationError represents input validation failures
	ValidationError ErrorType = "validation_error"

	// InternalError represents unexpected internal server errors
	InternalError ErrorType = "internal_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"

	// ProviderError represents errors from LLM providers that do not fit a finer kind
	ProviderError ErrorType = "provider_error"

	// RateLimitError represents API client rate limiting errors
	RateLimitError ErrorType = "rate_limit_error"

	// AuthenticationError represents API key authentication failures
	AuthenticationError ErrorType = "api_key_error"

	// BadRequestError represents invalid request format or parameters
	BadRequestError ErrorType = "bad_request"

	// NotFoundError represents resource not found errors
	NotFoundError ErrorType = "not_found"

	// ConflictError represents a request against a resource in the wrong state
	ConflictError ErrorType = "conflict"
)

// Transformation failure kinds.
const (
	// NoCredentials means the active provider has no usable key or endpoint. Terminal.
	NoCredentials ErrorType = "no_credentials"

	// NetworkFailure covers transport errors talking to the provider. Retryable.
	NetworkFailure ErrorType = "network_failure"

	// NonSuccessStatus means the provider answered with a non-2xx status. Retryable.
	NonSuccessStatus ErrorType = "non_success_status"

	// MalformedResponse means the provider body could not be parsed. Retryable.
	MalformedResponse ErrorType = "malformed_response"

	// Timeout means the overall request budget ran out. Terminal.
	Timeout ErrorType = "timeout"

	// Interrupted means the request was cancelled. Terminal.
	Interrupted ErrorType = "interrupted"

	// CircuitOpen means the provider circuit breaker rejected the call. Terminal.
	CircuitOpen ErrorType = "circuit_open"

	// Overloaded means the worker queue was full when the request arrived. Terminal.
	Overloaded ErrorType = "overloaded"
)

// QuillError is our custom error type that implements the error interface
// and provides additional context about the error. It is designed to be
// serialized to JSON for API responses while maintaining internal error
// context for logging and debugging.
type QuillError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// body is the raw provider response, kept for operator logs only
	body string

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, provider body and underlying error (if any).
func (e *QuillError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.body)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *QuillError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, allowing type-based
// error matching while ignoring other fields.
func (e *QuillError) Is(target error) bool {
	t, ok := target.(*QuillError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Body returns the raw provider response attached to the error, if any.
func (e *QuillError) Body() string {
	return e.body
}

// Retryable reports whether the failure kind shares the provider retry policy.
func (e *QuillError) Retryable() bool {
	switch e.Type {
	case NetworkFailure, NonSuccessStatus, MalformedResponse:
		return true
	default:
		return false
	}
}

// WriteError formats and writes a QuillError to an http.ResponseWriter.
// It sets the appropriate content type and status code, then writes
// the error as a JSON response. Provider bodies are never serialized.
func WriteError(w http.ResponseWriter, err *QuillError) {
	code := err.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(err)
}

// Error is a drop-in replacement for http.Error that creates and writes
// a QuillError with the InternalError type. It automatically includes
// the request ID from the response headers if available.
func Error(w http.ResponseWriter, message string, code int) {
	ErrorWithType(w, message, InternalError, code)
}

// ErrorWithType is like Error but allows specifying the error type.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &QuillError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}

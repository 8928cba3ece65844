package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// NewError creates a new QuillError with the given parameters.
// It is a general-purpose constructor that allows full control over
// the error's fields. For most cases, you should use one of the
// specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "database connection failed", 500, "req_123", nil, dbErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *QuillError {
	return &QuillError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewAuthError creates an authentication error with appropriate defaults.
//
// Example:
//
//	err := NewAuthError("req_123", "Invalid API key", nil)
func NewAuthError(requestID, message string, err error) *QuillError {
	return &QuillError{
		Type:      AuthError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Please check your authentication credentials",
		},
	}
}

// NewValidationError creates a validation error with appropriate defaults.
//
// Example:
//
//	err := NewValidationError("req_123", "Invalid message", map[string]interface{}{
//	    "field": "identity",
//	    "error": "required",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *QuillError {
	return &QuillError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewRateLimitError creates a rate limit error for API clients that exceeded
// their request budget. Identity-level limiting in the pipeline is not an
// error and never uses this constructor.
func NewRateLimitError(requestID string, retryAfter int) *QuillError {
	return &QuillError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewNotFoundError creates a not found error for a named resource.
func NewNotFoundError(requestID, message string) *QuillError {
	return &QuillError{
		Type:      NotFoundError,
		Message:   message,
		Code:      http.StatusNotFound,
		RequestID: requestID,
	}
}

// NewConflictError reports a request that conflicts with current state,
// such as transforming with a disabled filter.
func NewConflictError(requestID, message string) *QuillError {
	return &QuillError{
		Type:      ConflictError,
		Message:   message,
		Code:      http.StatusConflict,
		RequestID: requestID,
	}
}

// NewProviderError creates a provider error with appropriate defaults.
func NewProviderError(requestID string, message string, err error) *QuillError {
	return &QuillError{
		Type:      ProviderError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewInternalError creates an internal server error with appropriate defaults.
func NewInternalError(requestID string, err error) *QuillError {
	return &QuillError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewNoCredentialsError reports that the active provider cannot be called.
func NewNoCredentialsError(provider string) *QuillError {
	return &QuillError{
		Type:    NoCredentials,
		Message: fmt.Sprintf("no valid credentials configured for provider %q", provider),
		Code:    http.StatusServiceUnavailable,
		Details: map[string]interface{}{"provider": provider},
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) *QuillError {
	return &QuillError{
		Type:    NetworkFailure,
		Message: "HTTP request failed",
		Code:    http.StatusBadGateway,
		err:     err,
	}
}

// NewStatusError records a non-2xx provider answer. The body is kept for
// Error() only.
func NewStatusError(status int, body string) *QuillError {
	return &QuillError{
		Type:    NonSuccessStatus,
		Message: fmt.Sprintf("API request failed with status %d", status),
		Code:    http.StatusBadGateway,
		Details: map[string]interface{}{"status": status},
		body:    body,
	}
}

// NewMalformedResponseError records a provider body with an unexpected shape.
func NewMalformedResponseError(message, body string) *QuillError {
	return &QuillError{
		Type:    MalformedResponse,
		Message: message,
		Code:    http.StatusBadGateway,
		body:    body,
	}
}

// NewTimeoutError records that the request budget ran out.
func NewTimeoutError(err error) *QuillError {
	return &QuillError{
		Type:    Timeout,
		Message: "request timed out",
		Code:    http.StatusGatewayTimeout,
		err:     err,
	}
}

// NewInterruptedError records a cancelled request.
func NewInterruptedError(err error) *QuillError {
	return &QuillError{
		Type:    Interrupted,
		Message: "request interrupted",
		Code:    http.StatusServiceUnavailable,
		err:     err,
	}
}

// NewCircuitOpenError records a call rejected by the provider breaker.
func NewCircuitOpenError(provider string, err error) *QuillError {
	return &QuillError{
		Type:    CircuitOpen,
		Message: fmt.Sprintf("provider %q temporarily unavailable", provider),
		Code:    http.StatusServiceUnavailable,
		err:     err,
	}
}

// NewOverloadedError records a request rejected by a full worker queue.
func NewOverloadedError(err error) *QuillError {
	return &QuillError{
		Type:    Overloaded,
		Message: "transformation queue is full",
		Code:    http.StatusServiceUnavailable,
		err:     err,
	}
}

// FromContext converts a context error into Timeout or Interrupted.
// It returns nil for a nil error.
func FromContext(err error) *QuillError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(err)
	default:
		return NewInterruptedError(err)
	}
}

// TypeOf classifies any error. Context errors map to Timeout and
// Interrupted; unknown errors are InternalError.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var qe *QuillError
	if errors.As(err, &qe) {
		return qe.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Interrupted
	}
	return InternalError
}

// IsRetryable reports whether err should go through the retry policy.
func IsRetryable(err error) bool {
	var qe *QuillError
	if errors.As(err, &qe) {
		return qe.Retryable()
	}
	return false
}

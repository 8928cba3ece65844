package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNewAuthError(t *testing.T) {
	requestID := "test-123"
	message := "invalid credentials"
	innerErr := errors.New("token expired")

	err := NewAuthError(requestID, message, innerErr)

	if err.Type != AuthError {
		t.Errorf("Expected error type %v, got %v", AuthError, err.Type)
	}
	if err.Message != message {
		t.Errorf("Expected message %v, got %v", message, err.Message)
	}
	if err.Code != http.StatusUnauthorized {
		t.Errorf("Expected code %v, got %v", http.StatusUnauthorized, err.Code)
	}
	if err.RequestID != requestID {
		t.Errorf("Expected requestID %v, got %v", requestID, err.RequestID)
	}
	if err.Unwrap() != innerErr {
		t.Errorf("Expected inner error %v, got %v", innerErr, err.Unwrap())
	}
}

func TestNewValidationError(t *testing.T) {
	requestID := "test-456"
	message := "invalid input"
	details := map[string]interface{}{
		"field": "identity",
		"error": "required",
	}

	err := NewValidationError(requestID, message, details)

	if err.Type != ValidationError {
		t.Errorf("Expected error type %v, got %v", ValidationError, err.Type)
	}
	if err.Code != http.StatusBadRequest {
		t.Errorf("Expected code %v, got %v", http.StatusBadRequest, err.Code)
	}
	if err.Details["field"] != details["field"] {
		t.Errorf("Expected details field %v, got %v", details["field"], err.Details["field"])
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("test-789", 60)

	if err.Type != RateLimitError {
		t.Errorf("Expected error type %v, got %v", RateLimitError, err.Type)
	}
	if err.Code != http.StatusTooManyRequests {
		t.Errorf("Expected code %v, got %v", http.StatusTooManyRequests, err.Code)
	}
	if err.Details["retry_after"] != 60 {
		t.Errorf("Expected retry_after 60, got %v", err.Details["retry_after"])
	}
}

func TestNewConflictError(t *testing.T) {
	err := NewConflictError("test-321", "filter PIRATE is disabled")

	if err.Type != ConflictError {
		t.Errorf("Expected error type %v, got %v", ConflictError, err.Type)
	}
	if err.Code != http.StatusConflict {
		t.Errorf("Expected code %v, got %v", http.StatusConflict, err.Code)
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"network", NewNetworkError(errors.New("dial tcp: refused")), NetworkFailure},
		{"wrapped status", fmt.Errorf("call: %w", NewStatusError(500, "")), NonSuccessStatus},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"cancel", context.Canceled, Interrupted},
		{"wrapped cancel", fmt.Errorf("sleep: %w", context.Canceled), Interrupted},
		{"plain", errors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeOf(tt.err); got != tt.want {
				t.Errorf("TypeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("attempt 1: %w", NewMalformedResponseError("no choices", "{}"))) {
		t.Error("Expected wrapped malformed response to be retryable")
	}
	if IsRetryable(NewNoCredentialsError("openai")) {
		t.Error("Expected missing credentials to be terminal")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("Expected plain errors to be terminal")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(nil) != nil {
		t.Error("Expected nil for nil error")
	}
	if got := FromContext(context.DeadlineExceeded); got.Type != Timeout {
		t.Errorf("Expected %v, got %v", Timeout, got.Type)
	}
	if got := FromContext(context.Canceled); got.Type != Interrupted {
		t.Errorf("Expected %v, got %v", Interrupted, got.Type)
	}
}

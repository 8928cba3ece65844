package middleware

import (
	"context"

	"github.com/teilomillet/quill/errors"
)

type contextKey string

// RequestIDKey is the context key holding the request ID.
const RequestIDKey contextKey = errors.RequestIDKey

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// GetRequestID returns the request ID stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

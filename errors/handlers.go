package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler wraps an http.Handler and provides error handling
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					stack := debug.Stack()
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.ByteString("stacktrace", stack),
						zap.String("request_id", r.Header.Get("X-Request-ID")),
					)

					WriteError(w, NewInternalError(r.Header.Get("X-Request-ID"), nil))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs an error with its context. Provider bodies are included
// here because logs are operator-facing.
func LogError(logger *zap.Logger, err error, requestID string) {
	if quillErr, ok := err.(*QuillError); ok {
		fields := []zap.Field{
			zap.String("error_type", string(quillErr.Type)),
			zap.String("message", quillErr.Message),
			zap.Int("code", quillErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", quillErr.Details),
		}
		if quillErr.body != "" {
			fields = append(fields, zap.String("provider_body", quillErr.body))
		}
		if quillErr.err != nil {
			fields = append(fields, zap.NamedError("cause", quillErr.err))
		}
		logger.Error("request error", fields...)
	} else {
		logger.Error("unexpected error",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
	}
}

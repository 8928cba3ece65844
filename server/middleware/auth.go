package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/teilomillet/quill/errors"
)

// Authentication validates the X-API-Key header, or a bearer token, against
// keys. An empty key list disables the check.
func Authentication(keys []string) func(http.Handler) http.Handler {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			accepted = append(accepted, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(accepted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				apiKey, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if apiKey == "" {
				errors.ErrorWithType(w, "Missing API key", errors.AuthenticationError, http.StatusUnauthorized)
				return
			}
			if !validKey(accepted, []byte(apiKey)) {
				errors.WriteError(w, errors.NewAuthError(GetRequestID(r.Context()), "Invalid API key", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validKey(accepted [][]byte, key []byte) bool {
	ok := 0
	for _, k := range accepted {
		ok |= subtle.ConstantTimeCompare(k, key)
	}
	return ok == 1
}

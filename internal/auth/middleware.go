// Package auth guards the scan-triggering routes with API keys.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pendergraft/chainscout/internal/storage"
)

// HeaderName is the header clients send their key in.
const HeaderName = "X-API-Key"

type contextKey string

const apiKeyContextKey contextKey = "apiKey"

// KeyValidator resolves a presented key to its stored record.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, key string) (*storage.APIKey, error)
}

// ErrorWriter writes an error envelope.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// GetAPIKeyFromContext retrieves the API key info from context.
func GetAPIKeyFromContext(ctx context.Context) *storage.APIKey {
	if key, ok := ctx.Value(apiKeyContextKey).(*storage.APIKey); ok {
		return key
	}
	return nil
}

// KeyFromRequest returns the key from the X-API-Key header or, failing that,
// a Bearer Authorization header.
func KeyFromRequest(r *http.Request) string {
	if key := r.Header.Get(HeaderName); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware rejects requests that do not carry a valid API key.
func Middleware(keys KeyValidator, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := KeyFromRequest(r)
			if presented == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}

			key, err := keys.ValidateAPIKey(r.Context(), presented)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"time"
)

const (
	// DefaultMaxRequestSize caps request bodies at 1MB.
	DefaultMaxRequestSize int64 = 1 << 20

	// DefaultRequestTimeout bounds handler execution.
	DefaultRequestTimeout = 30 * time.Second
)

// MaxRequestSize caps request body size. Oversized Content-Length headers
// are rejected up front; chunked bodies are bounded by MaxBytesReader.
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			defer r.Body.Close()
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout enforces a deadline on the request context and cuts off the
// response via http.TimeoutHandler when the handler overruns it.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			http.TimeoutHandler(next, timeout, "Request Timeout").ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

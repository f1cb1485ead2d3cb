package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware caps how long a request context stays live. Cancellation
// is cooperative: stages and the downstream proxy observe ctx.Done(), the
// handler goroutine is not killed.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds each request with a deadline on its
// context. A turn spans several model rounds and remote tool calls,
// all of which take the request context, so cancellation propagates
// cooperatively rather than killing the handler.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

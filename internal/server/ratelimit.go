package server

import (
	"net/http"
	"strconv"

	"github.com/sendgate/sendgate/internal/ratelimit"
)

// RateLimitHeaderMiddleware writes X-RateLimit-* usage headers on admitted
// responses. It attaches a mutable result slot to the context before the
// pipeline runs; the limiter stage fills the slot, and the wrapper flushes
// it into headers just before the first byte is written. Denied requests
// never get here — the rejection writer sets its own headers.
func RateLimitHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(ratelimit.WithHolder(r.Context()))
		wrapped := &rateLimitResponseWriter{
			ResponseWriter: w,
			request:        r,
		}
		next.ServeHTTP(wrapped, r)
	})
}

// rateLimitResponseWriter wraps ResponseWriter to write rate limit headers.
type rateLimitResponseWriter struct {
	http.ResponseWriter
	request      *http.Request
	wroteHeaders bool
}

func (rw *rateLimitResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rateLimitResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *rateLimitResponseWriter) writeRateLimitHeaders() {
	holder := ratelimit.HolderFromContext(rw.request.Context())
	if holder == nil {
		return
	}

	headers := rw.Header()
	if res := holder.Result; res != nil {
		headers.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	// Advisory usage rides every limited response regardless of which
	// strategy decided admission.
	if snap := holder.Advisory; snap != nil {
		headers.Set("X-RateLimit-Minute-Limit", strconv.Itoa(snap.Minute.Limit))
		headers.Set("X-RateLimit-Minute-Used", strconv.Itoa(snap.Minute.Used))
		headers.Set("X-RateLimit-Hour-Limit", strconv.Itoa(snap.Hour.Limit))
		headers.Set("X-RateLimit-Hour-Used", strconv.Itoa(snap.Hour.Used))
	}
}

// Flush forwards Flush to the underlying ResponseWriter if it supports
// http.Flusher.
func (rw *rateLimitResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

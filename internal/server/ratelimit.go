package server

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// rateLimitContextKey is the context key for the rate limit holder
type rateLimitContextKey struct{}

// RateLimitInfo is the per-user request window reported in response headers.
type RateLimitInfo struct {
	RequestsLimit     int
	RequestsRemaining int
	RequestsReset     time.Time
	RetryAfter        time.Duration
}

type rateLimitHolder struct {
	info *RateLimitInfo
}

// SetRateLimits records rate limit info for RateLimitHeadersMiddleware to
// write. No-op if the middleware isn't present.
func SetRateLimits(ctx context.Context, rl *RateLimitInfo) {
	if h, ok := ctx.Value(rateLimitContextKey{}).(*rateLimitHolder); ok {
		h.info = rl
	}
}

// GetRateLimits retrieves rate limit info from context.
// Returns nil if no rate limits are set.
func GetRateLimits(ctx context.Context) *RateLimitInfo {
	if h, ok := ctx.Value(rateLimitContextKey{}).(*rateLimitHolder); ok {
		return h.info
	}
	return nil
}

// RateLimitHeadersMiddleware writes x-ratelimit-* headers from the info a
// handler recorded with SetRateLimits, just before the status line goes out.
func RateLimitHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		holder := &rateLimitHolder{}
		wrapped := &rateLimitResponseWriter{ResponseWriter: w, holder: holder}
		ctx := context.WithValue(r.Context(), rateLimitContextKey{}, holder)
		next.ServeHTTP(wrapped, r.WithContext(ctx))
	})
}

// rateLimitResponseWriter wraps ResponseWriter to write rate limit headers.
type rateLimitResponseWriter struct {
	http.ResponseWriter
	holder       *rateLimitHolder
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
	rl := rw.holder.info
	if rl == nil || rl.RequestsLimit <= 0 {
		return
	}

	h := rw.Header()
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(rl.RequestsLimit))
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(rl.RequestsRemaining))
	if !rl.RequestsReset.IsZero() {
		h.Set("x-ratelimit-reset-requests", rl.RequestsReset.UTC().Format(time.RFC3339))
	}
	if rl.RetryAfter > 0 {
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		h.Set("Retry-After", strconv.Itoa(secs))
	}
}

// Flush forwards Flush to the underlying ResponseWriter if it supports http.Flusher.
func (rw *rateLimitResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

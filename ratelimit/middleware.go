package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
)

// KeyFunc extracts the subject a request is limited by.
type KeyFunc func(r *http.Request) string

// ByRemoteAddr limits by r.RemoteAddr, the socket peer including its port.
func ByRemoteAddr(r *http.Request) string { return r.RemoteAddr }

// ByHeader limits by the value of header name.
func ByHeader(name string) KeyFunc {
	return func(r *http.Request) string { return r.Header.Get(name) }
}

// Middleware rejects requests over rule with 429 and a Retry-After header.
// Limiter errors are logged and the request is let through.
func Middleware(l *Limiter, scope string, rule Rule, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), scope, key(r), rule)
			if err != nil {
				logger.Warn("rate limiter unavailable", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"rate_limited","error":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

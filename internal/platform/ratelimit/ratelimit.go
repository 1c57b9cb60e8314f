package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// Config holds the limit for one group of routes.
type Config struct {
	// RequestLimit is the number of requests allowed per WindowSize.
	// Zero or less disables limiting.
	RequestLimit int
	WindowSize   time.Duration
	// KeyFunc picks the bucket for a request; nil means per client IP.
	KeyFunc func(r *http.Request) (string, error)
}

// Limit returns middleware using httprate's sliding window counter. Rejected
// requests get 429 with a JSON body and Retry-After.
func Limit(cfg Config) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Minute
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	retryAfter := strconv.Itoa(int(cfg.WindowSize.Seconds()))
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many stream checks, try again later"}`))
		}),
	)
}

// Checks limits the endpoints that trigger outbound manifest fetches.
func Checks(perMinute int) func(http.Handler) http.Handler {
	return Limit(Config{RequestLimit: perMinute, WindowSize: time.Minute})
}

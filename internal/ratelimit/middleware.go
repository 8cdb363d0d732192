package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"backend-go-chat-gateway/internal/logger"
)

// Middleware rejects requests over the class ceiling with 429 and a
// Retry-After hint before any other processing happens.
func Middleware(l *Limiter, class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := Identity(r)
			ok, retryAfter := l.Allow(identity, class)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			secs := retryAfterSeconds(retryAfter)
			logger.NewContextLogger(r.Context()).Warn(
				"rate_limited",
				"identity", identity,
				"class", class,
				"retry_after_s", secs,
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate_limited",
				"message":     "请求过于频繁，请稍后再试",
				"retry_after": secs,
			})
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

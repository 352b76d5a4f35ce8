package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"matchdeck/trust/internal/ratelimit"
)

// ClientIP extracts the caller address for rate-limit keying: the first entry
// of X-Forwarded-For when a proxy set one, otherwise the connection's remote
// host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if i := strings.Index(fwd, ","); i >= 0 {
			first = fwd[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit applies a per-IP limiter ahead of the protected handlers. An
// infrastructure error from the limiter fails open: the request proceeds and
// the error is logged.
type RateLimit struct {
	limiter ratelimit.Limiter
	auditor func(r *http.Request)
}

// NewRateLimit returns the middleware. auditor, when non-nil, is invoked for
// every rejected request.
func NewRateLimit(limiter ratelimit.Limiter, auditor func(r *http.Request)) *RateLimit {
	return &RateLimit{limiter: limiter, auditor: auditor}
}

func (rl *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		ctx := WithClientIP(r.Context(), ip)
		r = r.WithContext(ctx)

		decision, err := rl.limiter.Allow(ctx, ip)
		if err != nil {
			log.Printf("rate limiter unavailable, allowing request: %v", err)
			next.ServeHTTP(w, r)
			return
		}
		if !decision.Allowed {
			secs := int(decision.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			if rl.auditor != nil {
				rl.auditor(r)
			}
			WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"net/http"
	"regexp"
)

// CORS enforces the origin allow-list: exact matches plus one pattern for
// ephemeral preview deployments. Unknown origins get a default-safe response
// that echoes nothing sensitive: the primary production origin is emitted
// instead of the caller's.
type CORS struct {
	allowed        map[string]bool
	previewPattern *regexp.Regexp
	primaryOrigin  string
}

// NewCORS returns a CORS middleware. origins is the exact-match allow-list,
// its first entry being the primary production origin. previewPattern may be
// nil when no preview environments exist.
func NewCORS(origins []string, previewPattern *regexp.Regexp) *CORS {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	primary := ""
	if len(origins) > 0 {
		primary = origins[0]
	}
	return &CORS{allowed: allowed, previewPattern: previewPattern, primaryOrigin: primary}
}

// AllowOrigin returns the Access-Control-Allow-Origin value for a request
// origin: the origin itself when allow-listed or preview-matched, otherwise
// the primary production origin.
func (c *CORS) AllowOrigin(origin string) string {
	if origin != "" && c.allowed[origin] {
		return origin
	}
	if origin != "" && c.previewPattern != nil && c.previewPattern.MatchString(origin) {
		return origin
	}
	return c.primaryOrigin
}

// Handler sets CORS headers on every response and answers OPTIONS preflights
// with 200 and an empty body.
func (c *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", c.AllowOrigin(r.Header.Get("Origin")))
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Package server wires the HTTP surface of the trust boundary: the CORS,
// rate-limit, and authentication middleware chain in front of the
// entitlement verification endpoint.
package server

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"matchdeck/trust/internal/entitlement/handler"
	"matchdeck/trust/internal/ratelimit"
	"matchdeck/trust/internal/server/middleware"
)

// Deps bundles everything the router needs.
type Deps struct {
	AllowedOrigins []string
	PreviewPattern *regexp.Regexp

	Limiter       ratelimit.Limiter
	TokenVerifier middleware.TokenVerifier
	Entitlement   *handler.Entitlement

	// RateLimitAudit, when non-nil, is invoked for every rejected request.
	RateLimitAudit func(r *http.Request)
}

// NewRouter builds the middleware chain: CORS first so every response
// (including rejections) carries CORS headers, then rate limiting, then
// authentication, then the handler.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	cors := middleware.NewCORS(deps.AllowedOrigins, deps.PreviewPattern)
	rl := middleware.NewRateLimit(deps.Limiter, deps.RateLimitAudit)
	auth := middleware.NewAuth(deps.TokenVerifier)

	r.Use(cors.Handler)

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(rl.Handler)
		r.Use(auth.Handler)
		r.Post("/verify-purchase", deps.Entitlement.Verify)
		r.Get("/subscription", deps.Entitlement.Subscription)
	})

	return r
}

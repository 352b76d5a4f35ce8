package middleware

import (
	"context"
	"net/http"
	"strings"

	"matchdeck/trust/internal/identity"
)

// TokenVerifier validates an access token against the identity provider and
// returns the user it belongs to.
type TokenVerifier interface {
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
}

const unauthorizedMsg = "missing or invalid authorization"

// Auth authenticates requests by verifying the bearer token with the identity
// provider. Every failure mode produces the same generic 401 so callers learn
// nothing about why a token was rejected.
type Auth struct {
	verifier TokenVerifier
}

func NewAuth(verifier TokenVerifier) *Auth {
	return &Auth{verifier: verifier}
}

// extractBearer pulls the token out of an Authorization header. The scheme
// match is case-insensitive.
func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			WriteError(w, http.StatusUnauthorized, unauthorizedMsg)
			return
		}
		user, err := a.verifier.GetUser(r.Context(), token)
		if err != nil || user == nil || user.ID == "" {
			WriteError(w, http.StatusUnauthorized, unauthorizedMsg)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), user.ID)))
	})
}

package billing

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const assertionTTL = time.Hour

// assertionClaims is the signed service assertion exchanged for a bearer token
// at the billing authority's token endpoint: self-issued, time-bounded, scoped.
type assertionClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// signedAssertion builds and RS256-signs the service assertion: issuer is the
// service account identity, audience the token endpoint, expiry one hour out.
func (c *Client) signedAssertion(now time.Time) (string, error) {
	claims := assertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.account.ClientEmail,
			Audience:  jwt.ClaimStrings{c.TokenURL},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		},
		Scope: c.Scope,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return t.SignedString(c.account.key)
}

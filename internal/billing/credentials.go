package billing

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"matchdeck/trust/internal/security"
)

// ServiceAccount is the server-only billing credential: the service identity
// plus its PKCS#8 RSA signing key. Loaded from a JSON blob kept out of any
// client-visible configuration.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`

	key *rsa.PrivateKey
}

// ParseServiceAccount parses the service-account JSON and its embedded key.
func ParseServiceAccount(raw []byte) (*ServiceAccount, error) {
	if len(raw) == 0 {
		return nil, errors.New("billing: service account JSON is empty")
	}
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("billing: parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("billing: service account missing client_email or private_key")
	}
	key, err := security.ParseRSAPrivateKey(sa.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("billing: service account key: %w", err)
	}
	sa.key = key
	return &sa, nil
}

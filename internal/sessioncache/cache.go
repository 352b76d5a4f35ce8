// Package sessioncache parses the session blob persisted by the identity
// provider's client library. Entries are advisory: they preserve identity
// continuity when the authoritative path is unavailable and must never
// authorize a mutation.
package sessioncache

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// msEpochThreshold separates plausible second-resolution expiries from
// millisecond-resolution ones. A cached expires_at above this is assumed to be
// milliseconds and rejected. Plausibility check only: if the provider's cache
// format ever changes units, revisit this constant.
const msEpochThreshold = int64(1e11)

// RawUser is the identity embedded in the persisted session blob.
type RawUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// RawSession is the persisted session shape written by the provider library.
// ExpiresAt is unix seconds; nil when the field is absent from the blob.
type RawSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    *int64   `json:"expires_at"`
	User         *RawUser `json:"user"`
}

// Identity is the display-only identity derived from a cached session.
type Identity struct {
	UserID string
	Email  string
}

// Key returns the fixed, versionless storage key for a provider project ref.
func Key(projectRef string) string {
	return fmt.Sprintf("%s-auth-token", projectRef)
}

// Cache reads the persisted session blob. It has no side effects other than
// Invalidate and never fails loudly: malformed payloads degrade to nil.
type Cache struct {
	store Store
	key   string
	nowF  func() time.Time
}

// New returns a Cache reading the blob for projectRef from store.
func New(store Store, projectRef string) *Cache {
	return &Cache{store: store, key: Key(projectRef), nowF: time.Now}
}

// Read parses the persisted blob, tolerating both shapes seen historically:
// a flat session object, or one nested under the legacy "currentSession" key.
// Returns nil on a missing key or malformed payload; parse failures are logged
// as warnings, never returned.
func (c *Cache) Read() *RawSession {
	raw, ok, err := c.store.Get(c.key)
	if err != nil {
		log.Printf("sessioncache: read %s: %v", c.key, err)
		return nil
	}
	if !ok || len(raw) == 0 {
		return nil
	}

	var wrapped struct {
		CurrentSession *RawSession `json:"currentSession"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.CurrentSession != nil {
		return wrapped.CurrentSession
	}

	var flat RawSession
	if err := json.Unmarshal(raw, &flat); err != nil {
		log.Printf("sessioncache: malformed session blob for %s: %v", c.key, err)
		return nil
	}
	if flat.AccessToken == "" && flat.RefreshToken == "" && flat.User == nil {
		// Parsed but carries nothing session-shaped; treat as no cached identity.
		return nil
	}
	return &flat
}

// Identity returns the cached identity for display, or nil when there is none.
// An expires_at in the past, non-positive, or of millisecond magnitude makes
// the entry implausible and it is rejected. An absent expires_at is treated as
// "unknown, not expired" so users are not falsely locked out.
func (c *Cache) Identity() *Identity {
	s := c.Read()
	if s == nil || s.User == nil || s.User.ID == "" {
		return nil
	}
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		if exp <= 0 || exp > msEpochThreshold {
			return nil
		}
		if time.Unix(exp, 0).Before(c.nowF()) {
			return nil
		}
	}
	return &Identity{UserID: s.User.ID, Email: s.User.Email}
}

// FullSession returns the cached session only when access token, refresh token,
// and user are all present. Expiry is deliberately not checked: refreshing an
// expired session is the authoritative component's job.
func (c *Cache) FullSession() *RawSession {
	s := c.Read()
	if s == nil || s.AccessToken == "" || s.RefreshToken == "" || s.User == nil {
		return nil
	}
	return s
}

// Invalidate removes the cached blob. Best-effort; failures are logged.
func (c *Cache) Invalidate() {
	if err := c.store.Delete(c.key); err != nil {
		log.Printf("sessioncache: invalidate %s: %v", c.key, err)
	}
}

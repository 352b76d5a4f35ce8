// Package identity is an HTTP client for the external identity provider
// (GoTrue-style REST surface). The provider owns credentials and sessions;
// this client only moves them.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Second

// Sentinel errors. Callers branch on these to keep the error taxonomy intact:
// transport faults are retryable, refusals are terminal, and the abort fault
// is neither (it is raised by our own request-coalescing guard, not the wire).
var (
	// ErrTransport wraps network-level failures; retryable.
	ErrTransport = errors.New("identity provider unreachable")
	// ErrAborted is returned when a session call lost to an identical in-flight
	// call under the coalescing guard. Not a network or server fault.
	ErrAborted = errors.New("request aborted by coalescing guard")
	// ErrInvalidCredentials covers unknown account, wrong password, and
	// unconfirmed account alike so responses cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrRefreshRefused means the provider rejected the refresh token.
	ErrRefreshRefused = errors.New("refresh token refused")
	// ErrInvalidToken means the provider rejected the access token.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// User is the provider-owned identity. Read-only to this module.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// Session holds provider-issued tokens. ExpiresAt is unix seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Client calls the identity provider's REST API. AnonKey authenticates the
// app itself; ServiceKey is the elevated credential used only for admin calls.
type Client struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string
	HTTPClient *http.Client

	mu              sync.Mutex
	refreshInflight bool
}

// NewClient returns a Client for the provider at baseURL.
func NewClient(baseURL, anonKey, serviceKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AnonKey:    anonKey,
		ServiceKey: serviceKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SignUp registers a new account and returns its initial session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	return c.tokenRequest(ctx, "/signup", map[string]string{"email": email, "password": password}, ErrInvalidCredentials)
}

// SignInWithPassword exchanges email/password for a session. All refusal
// causes map to ErrInvalidCredentials.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.tokenRequest(ctx, "/token?grant_type=password", map[string]string{"email": email, "password": password}, ErrInvalidCredentials)
}

// RefreshSession exchanges a refresh token for a new session. Identical
// concurrent refreshes coalesce: the second caller gets ErrAborted instead of
// issuing a duplicate rotation, which the provider would treat as token reuse.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	c.mu.Lock()
	if c.refreshInflight {
		c.mu.Unlock()
		return nil, ErrAborted
	}
	c.refreshInflight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.refreshInflight = false
		c.mu.Unlock()
	}()
	return c.tokenRequest(ctx, "/token?grant_type=refresh_token", map[string]string{"refresh_token": refreshToken}, ErrRefreshRefused)
}

// GetUser returns the identity behind accessToken, validating it server-side.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: get user: status %d", resp.StatusCode)
	}
	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("identity: decode user: %w", err)
	}
	if u.ID == "" {
		return nil, ErrInvalidToken
	}
	return &u, nil
}

// SignOut revokes the session behind accessToken on the provider side.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("identity: sign out: status %d", resp.StatusCode)
	}
	return nil
}

// AdminDeleteUser deletes the identity record. Uses the service key; callers
// must only invoke this after user-owned data has been cleared.
func (c *Client) AdminDeleteUser(ctx context.Context, userID string) error {
	if c.ServiceKey == "" {
		return errors.New("identity: service key not configured")
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/admin/users/"+userID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("apikey", c.ServiceKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("identity: admin delete user: status %d", resp.StatusCode)
	}
	return nil
}

// tokenRequest POSTs body to path and decodes a session. Any 4xx maps to
// refusalErr so the caller-visible message stays uniform.
func (c *Client) tokenRequest(ctx context.Context, path string, body map[string]string, refusalErr error) (*Session, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, refusalErr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: %s: status %d", path, resp.StatusCode)
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("identity: decode session: %w", err)
	}
	if s.AccessToken == "" || s.User.ID == "" {
		return nil, refusalErr
	}
	return &s, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.AnonKey)
	return req, nil
}

// Package authsession owns the client-side session lifecycle: sign-up,
// sign-in, sign-out, refresh, cancellation recovery through the persisted
// session cache, consent bookkeeping, and account deletion orchestration.
// A Manager is a singleton mutated serially by UI-triggered calls.
package authsession

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	consentdomain "matchdeck/trust/internal/consent/domain"
	consentrepo "matchdeck/trust/internal/consent/repository"
	"matchdeck/trust/internal/identity"
	"matchdeck/trust/internal/ratelimit"
	"matchdeck/trust/internal/sessioncache"
)

const (
	minPasswordLen    = 8
	maxSignInAttempts = 5
	lockoutWindow     = 15 * time.Minute
	requiredCharKinds = 3
)

var (
	// ErrInvalidEmail rejects a malformed address before any network call.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword rejects sign-up passwords below the strength floor.
	ErrWeakPassword = errors.New("password must be at least 8 characters and mix at least 3 of: uppercase, lowercase, digits, symbols")
	// ErrTooManyAttempts is the local lockout after repeated failed sign-ins.
	ErrTooManyAttempts = errors.New("too many failed sign-in attempts, try again later")
	// ErrNotAuthenticated means the operation needs a current session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IdentityProvider is the slice of the identity client the manager uses.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error)
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Broker performs the two-step account deletion saga.
type Broker interface {
	DeleteAccount(ctx context.Context, userID, accessToken string) error
}

// AttemptLimiter throttles sign-in attempts per account key. A successful
// sign-in calls Reset so only consecutive failures accumulate; otherwise the
// window expiring returns the budget on its own.
type AttemptLimiter interface {
	ratelimit.Limiter
	Reset(ctx context.Context, key string) error
}

// Listener receives the current user on every auth state transition, or nil
// when the user signed out. Listeners run synchronously.
type Listener func(user *identity.User)

// Manager holds the current session and user. All methods are safe for
// concurrent use, though callers are expected to invoke them serially.
type Manager struct {
	client  IdentityProvider
	cache   *sessioncache.Cache
	consent consentrepo.Repository
	broker  Broker

	attempts AttemptLimiter

	mu             sync.Mutex
	session        *identity.Session
	user           *identity.User
	initialized    bool
	listeners      map[int]Listener
	nextListenerID int
}

// NewManager wires the manager. consent and broker may be nil when those
// features are unused; the corresponding methods then fail with
// ErrNotConfigured-style errors. A nil attempts limiter falls back to an
// in-memory fixed window of 5 attempts per 15 minutes.
func NewManager(client IdentityProvider, cache *sessioncache.Cache, consent consentrepo.Repository, broker Broker, attempts AttemptLimiter) *Manager {
	if attempts == nil {
		attempts = ratelimit.NewFixedWindow(maxSignInAttempts, lockoutWindow)
	}
	return &Manager{
		client:    client,
		cache:     cache,
		consent:   consent,
		broker:    broker,
		attempts:  attempts,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener for auth state transitions and returns its
// disposer. The listener is not called with the current state at subscribe
// time.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) notifyLocked() {
	for _, l := range m.listeners {
		l(m.user)
	}
}

// CurrentUser returns the signed-in user, or nil.
func (m *Manager) CurrentUser() *identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// CurrentSession returns the live session, or nil.
func (m *Manager) CurrentSession() *identity.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Initialize restores the session from the identity provider using the
// persisted refresh token. The first caller wins; later calls return the
// already-established state. When the provider call is aborted by its
// request-coalescing guard, the persisted cached session is used instead,
// after a "who am I" validation; a cached session that fails validation is
// proactively invalidated. Any other provider fault is propagated and leaves
// the manager uninitialized so the caller can retry.
func (m *Manager) Initialize(ctx context.Context) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return m.user, nil
	}

	raw := m.cache.Read()
	if raw == nil || raw.RefreshToken == "" {
		m.initialized = true
		return nil, nil
	}

	sess, err := m.client.RefreshSession(ctx, raw.RefreshToken)
	switch {
	case err == nil:
		m.adoptLocked(sess)
		m.initialized = true
		return m.user, nil
	case errors.Is(err, identity.ErrAborted):
		return m.recoverFromCacheLocked(ctx)
	case errors.Is(err, identity.ErrRefreshRefused):
		// The persisted token is dead. Start signed out.
		m.cache.Invalidate()
		m.initialized = true
		return nil, nil
	default:
		return nil, err
	}
}

// recoverFromCacheLocked is the abort-fault fallback of Initialize.
func (m *Manager) recoverFromCacheLocked(ctx context.Context) (*identity.User, error) {
	full := m.cache.FullSession()
	if full == nil {
		m.initialized = true
		return nil, nil
	}
	user, err := m.client.GetUser(ctx, full.AccessToken)
	if err != nil || user == nil {
		m.cache.Invalidate()
		m.initialized = true
		return nil, nil
	}
	sess := &identity.Session{
		AccessToken:  full.AccessToken,
		RefreshToken: full.RefreshToken,
		User:         *user,
	}
	if full.ExpiresAt != nil {
		sess.ExpiresAt = *full.ExpiresAt
	}
	m.adoptLocked(sess)
	m.initialized = true
	return m.user, nil
}

func (m *Manager) adoptLocked(sess *identity.Session) {
	m.session = sess
	u := sess.User
	m.user = &u
	m.notifyLocked()
}

func (m *Manager) clearLocked() {
	m.session = nil
	m.user = nil
	m.notifyLocked()
}

// SignUp validates inputs locally, then registers the account.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*identity.User, error) {
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	if !strongPassword(password) {
		return nil, ErrWeakPassword
	}
	sess, err := m.client.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptLocked(sess)
	m.initialized = true
	return m.user, nil
}

// SignIn authenticates the account. Attempts are throttled per account: after
// 5 attempts without a success inside the lockout window, further attempts are
// rejected locally until the window expires. A success resets the budget. The
// provider's refusal message is uniform across unknown account, wrong
// password, and unconfirmed account.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*identity.User, error) {
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	key := "signin:" + strings.ToLower(email)

	d, err := m.attempts.Allow(ctx, key)
	if err != nil {
		// Limiter infrastructure failure. The lockout is a hardening layer,
		// not the gate itself, so fail open and let the provider decide.
		log.Printf("sign-in throttle unavailable, proceeding: %v", err)
	} else if !d.Allowed {
		return nil, ErrTooManyAttempts
	}

	sess, err := m.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := m.attempts.Reset(ctx, key); err != nil {
		log.Printf("sign-in throttle reset failed: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptLocked(sess)
	m.initialized = true
	return m.user, nil
}

// SignOut clears local state unconditionally. A remote failure is logged and
// never surfaced.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess != nil {
		if err := m.client.SignOut(ctx, sess.AccessToken); err != nil {
			log.Printf("remote sign-out failed, clearing local session anyway: %v", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Invalidate()
	m.clearLocked()
}

// Refresh exchanges the current refresh token for a new session. A provider
// refusal clears local state and returns (nil, nil): the user is simply no
// longer authenticated. A transport fault is propagated and the session kept,
// so the caller can retry when connectivity returns.
func (m *Manager) Refresh(ctx context.Context) (*identity.Session, error) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return nil, ErrNotAuthenticated
	}

	next, err := m.client.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrTransport) || errors.Is(err, identity.ErrAborted) {
			return nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cache.Invalidate()
		m.clearLocked()
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptLocked(next)
	return next, nil
}

// DeleteAccount refreshes the session first so the deletion calls carry a
// live token, then runs the two-step deletion saga. On success all local
// state is cleared.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	if m.broker == nil {
		return errors.New("account deletion is not configured")
	}
	sess, err := m.Refresh(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotAuthenticated
	}

	if err := m.broker.DeleteAccount(ctx, sess.User.ID, sess.AccessToken); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Invalidate()
	m.clearLocked()
	return nil
}

// RecordConsent appends one acceptance of policyVersion for the current user.
func (m *Manager) RecordConsent(ctx context.Context, policyVersion string) error {
	if m.consent == nil {
		return errors.New("consent storage is not configured")
	}
	m.mu.Lock()
	user := m.user
	m.mu.Unlock()
	if user == nil {
		return ErrNotAuthenticated
	}
	return m.consent.Create(ctx, &consentdomain.ConsentRecord{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		ConsentType:   consentdomain.ConsentTypePrivacyPolicy,
		PolicyVersion: policyVersion,
		ConsentedAt:   time.Now().UTC(),
	})
}

// HasConsented reports whether the current user's latest privacy-policy
// consent matches policyVersion exactly. An older or newer version does not
// count.
func (m *Manager) HasConsented(ctx context.Context, policyVersion string) (bool, error) {
	if m.consent == nil {
		return false, errors.New("consent storage is not configured")
	}
	m.mu.Lock()
	user := m.user
	m.mu.Unlock()
	if user == nil {
		return false, ErrNotAuthenticated
	}
	latest, err := m.consent.GetLatest(ctx, user.ID, consentdomain.ConsentTypePrivacyPolicy)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.PolicyVersion == policyVersion, nil
}

// strongPassword requires the minimum length plus at least 3 of the 4
// character kinds.
func strongPassword(password string) bool {
	if len(password) < minPasswordLen {
		return false
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	kinds := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if ok {
			kinds++
		}
	}
	return kinds >= requiredCharKinds
}

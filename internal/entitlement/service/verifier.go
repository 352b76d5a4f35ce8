// Package service implements the purchase verification pipeline: request
// validation, billing-authority proof, the status state machine, idempotency,
// and persistence. One Verifier call handles one authenticated request.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"matchdeck/trust/internal/audit"
	"matchdeck/trust/internal/billing"
	"matchdeck/trust/internal/entitlement/domain"
	"matchdeck/trust/internal/entitlement/repository"
)

const (
	// maxTokenLen bounds real purchase tokens; rejects padding/injection payloads.
	maxTokenLen = 500
	// maxTestTokenLen additionally caps mock-mode tokens.
	maxTestTokenLen = 100
	// testTokenPrefix marks synthetic tokens accepted only in mock mode.
	testTokenPrefix = "test_"
	// mockPeriod is the synthetic billed period granted by the mock path.
	mockPeriod = 30 * 24 * time.Hour
)

// tokenPattern is the only character class a purchase token may use.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// invalidTokenMsg is shared by malformed real tokens and test tokens outside
// mock mode so the response never reveals that a mock path exists.
const invalidTokenMsg = "invalid purchase token"

var (
	// ErrTokenAlreadyClaimed means the purchase token is bound to another user.
	ErrTokenAlreadyClaimed = errors.New("purchase token already claimed")
	// ErrNotConfigured means required server credentials are absent. Callers
	// must surface only a generic configuration error.
	ErrNotConfigured = errors.New("server configuration error")
)

// ValidationError is a request-input failure with a field-level message that
// is safe to return to the caller.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// NewValidationError builds a caller-safe validation failure.
func NewValidationError(msg string) *ValidationError { return &ValidationError{msg: msg} }

func validationErr(msg string) error { return &ValidationError{msg: msg} }

// BillingVerifier proves a purchase token against the billing authority.
type BillingVerifier interface {
	VerifySubscription(ctx context.Context, productID, purchaseToken string) (*billing.PurchaseInfo, error)
}

// Result is the successful verification outcome returned to the client.
type Result struct {
	Status    domain.Status
	PeriodEnd time.Time
	GraceEnd  time.Time
}

// Verifier runs the verification pipeline. Stateless per call; safe for
// concurrent use.
type Verifier struct {
	repo        repository.Repository
	billing     BillingVerifier // nil when server credentials are not configured
	mockEnabled bool
	products    map[string]bool
	auditor     audit.AuditLogger
	nowF        func() time.Time
}

// NewVerifier returns a Verifier. billingClient may be nil; real-token requests
// then fail with ErrNotConfigured. allowedProducts is the fixed SKU allow-list.
func NewVerifier(repo repository.Repository, billingClient BillingVerifier, mockEnabled bool, allowedProducts []string, auditor audit.AuditLogger) *Verifier {
	products := make(map[string]bool, len(allowedProducts))
	for _, p := range allowedProducts {
		products[p] = true
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Verifier{
		repo:        repo,
		billing:     billingClient,
		mockEnabled: mockEnabled,
		products:    products,
		auditor:     auditor,
		nowF:        time.Now,
	}
}

// Verify validates the request, proves the purchase, enforces the
// one-token-one-user binding, derives the subscription status, and persists the
// record for userID. Error kinds: *ValidationError (400),
// ErrTokenAlreadyClaimed (409), ErrNotConfigured and billing failures (500).
func (v *Verifier) Verify(ctx context.Context, userID, purchaseToken, productID string) (*Result, error) {
	if err := v.validate(purchaseToken, productID); err != nil {
		return nil, err
	}

	info, err := v.provePurchase(ctx, productID, purchaseToken)
	if err != nil {
		v.auditor.LogEvent(ctx, userID, audit.ActionEntitlementDenied, "subscription", "")
		return nil, err
	}

	// Idempotency: a purchase token binds to exactly one identity, checked
	// before any write so a conflicting request leaves no trace.
	existing, err := v.repo.GetByPurchaseToken(ctx, purchaseToken)
	if err != nil {
		return nil, fmt.Errorf("lookup purchase token: %w", err)
	}
	if existing != nil && existing.UserID != userID {
		v.auditor.LogEvent(ctx, userID, audit.ActionEntitlementConflict, "subscription", "")
		return nil, ErrTokenAlreadyClaimed
	}

	now := v.nowF().UTC()
	status := domain.DetermineStatus(info.PaymentState, info.CancelReason, info.PeriodEnd, now)
	rec := &domain.SubscriptionRecord{
		UserID:         userID,
		Status:         status,
		PurchaseToken:  purchaseToken,
		OrderID:        info.OrderID,
		ProductID:      productID,
		PeriodStart:    info.PeriodStart,
		PeriodEnd:      info.PeriodEnd,
		GraceEnd:       domain.GraceEnd(info.PeriodEnd),
		LastVerifiedAt: now,
	}
	if err := v.repo.Upsert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicatePurchaseToken) {
			// A concurrent request claimed the token between the lookup and
			// the write. The unique index is the authoritative check.
			v.auditor.LogEvent(ctx, userID, audit.ActionEntitlementConflict, "subscription", "")
			return nil, ErrTokenAlreadyClaimed
		}
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	v.auditor.LogEvent(ctx, userID, audit.ActionEntitlementGranted, "subscription",
		fmt.Sprintf(`{"status":%q,"product":%q}`, status, productID))
	return &Result{Status: status, PeriodEnd: rec.PeriodEnd, GraceEnd: rec.GraceEnd}, nil
}

// Subscription returns the stored entitlement for userID without contacting
// the billing authority. A stored status is re-derived against the stored
// period bounds so a stale record reads as expired rather than active. No
// record at all reads as StatusNone.
func (v *Verifier) Subscription(ctx context.Context, userID string) (*Result, error) {
	rec, err := v.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup subscription: %w", err)
	}
	if rec == nil {
		return &Result{Status: domain.StatusNone}, nil
	}

	now := v.nowF().UTC()
	status := rec.Status
	switch status {
	case domain.StatusGrace:
		if rec.GraceEnd.Before(now) {
			status = domain.StatusExpired
		}
	case domain.StatusActive, domain.StatusCancelled:
		if rec.PeriodEnd.Before(now) {
			status = domain.StatusExpired
		}
	}
	return &Result{Status: status, PeriodEnd: rec.PeriodEnd, GraceEnd: rec.GraceEnd}, nil
}

// validate enforces the request-body rules: required fields, token bound and
// character class, and the product allow-list.
func (v *Verifier) validate(purchaseToken, productID string) error {
	if purchaseToken == "" {
		return validationErr("purchaseToken is required")
	}
	if productID == "" {
		return validationErr("productId is required")
	}
	if len(purchaseToken) > maxTokenLen || !tokenPattern.MatchString(purchaseToken) {
		return validationErr(invalidTokenMsg)
	}
	if !v.products[productID] {
		return validationErr("unknown product")
	}
	return nil
}

// provePurchase resolves the token through the mock path or the billing
// authority. A test-prefixed token outside mock mode is indistinguishable from
// a malformed one.
func (v *Verifier) provePurchase(ctx context.Context, productID, purchaseToken string) (*billing.PurchaseInfo, error) {
	if strings.HasPrefix(purchaseToken, testTokenPrefix) {
		if !v.mockEnabled || len(purchaseToken) > maxTestTokenLen {
			return nil, validationErr(invalidTokenMsg)
		}
		now := v.nowF().UTC()
		state := 1
		return &billing.PurchaseInfo{
			PaymentState: &state,
			PeriodStart:  now,
			PeriodEnd:    now.Add(mockPeriod),
			OrderID:      "TEST." + now.Format("20060102150405"),
		}, nil
	}

	if v.billing == nil {
		return nil, ErrNotConfigured
	}
	return v.billing.VerifySubscription(ctx, productID, purchaseToken)
}

// Package audit records trust-boundary events (verification outcomes,
// account-deletion steps) best-effort: a failed write never affects the caller.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"matchdeck/trust/internal/audit/domain"
	auditrepo "matchdeck/trust/internal/audit/repository"
)

// Verification and deletion actions recorded by the trust boundary.
const (
	ActionEntitlementGranted  = "entitlement.granted"
	ActionEntitlementConflict = "entitlement.conflict"
	ActionEntitlementDenied   = "entitlement.denied"
	ActionRateLimited         = "request.rate_limited"
	ActionDataCleared         = "account.data_cleared"
	ActionIdentityDeleted     = "account.identity_deleted"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor
// for client IP. ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}

// Nop is an AuditLogger that records nothing.
type Nop struct{}

// LogEvent discards the event.
func (Nop) LogEvent(context.Context, string, string, string, string) {}

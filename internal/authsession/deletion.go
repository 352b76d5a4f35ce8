package authsession

import (
	"context"
	"fmt"
	"log"

	"matchdeck/trust/internal/audit"
)

// UserDataStore clears everything the caller owns, scoped by the caller's own
// access token. Row selection on the server side keys off the token's
// identity, which is why an elevated credential must not be used here.
type UserDataStore interface {
	ClearOwnData(ctx context.Context, accessToken string) error
}

// IdentityAdmin deletes the identity record with an elevated credential.
type IdentityAdmin interface {
	AdminDeleteUser(ctx context.Context, userID string) error
}

// DeletionBroker runs account deletion as two ordered, non-reversible steps:
// clear user-owned data with the caller's credential, then delete the
// identity with the admin credential. A step-1 failure aborts with the
// identity intact so the user can retry. A step-2 failure after step 1 leaves
// an empty orphaned identity; that residual is logged and accepted, never
// auto-retried.
type DeletionBroker struct {
	data    UserDataStore
	admin   IdentityAdmin
	auditor audit.AuditLogger
}

// NewDeletionBroker wires the broker. auditor may be nil.
func NewDeletionBroker(data UserDataStore, admin IdentityAdmin, auditor audit.AuditLogger) *DeletionBroker {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &DeletionBroker{data: data, admin: admin, auditor: auditor}
}

func (b *DeletionBroker) DeleteAccount(ctx context.Context, userID, accessToken string) error {
	if err := b.data.ClearOwnData(ctx, accessToken); err != nil {
		return fmt.Errorf("clearing user data: %w", err)
	}
	b.auditor.LogEvent(ctx, userID, audit.ActionDataCleared, "account", "")

	if err := b.admin.AdminDeleteUser(ctx, userID); err != nil {
		log.Printf("identity deletion failed after data clear, orphaned empty identity %s remains: %v", userID, err)
		return nil
	}
	b.auditor.LogEvent(ctx, userID, audit.ActionIdentityDeleted, "account", "")
	return nil
}

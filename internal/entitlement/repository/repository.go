package repository

import (
	"context"
	"errors"

	"matchdeck/trust/internal/entitlement/domain"
)

// ErrDuplicatePurchaseToken is returned by Upsert when the record's purchase
// token is already bound to a different user. The unique index raises this for
// writes that raced past the pre-write lookup.
var ErrDuplicatePurchaseToken = errors.New("purchase token already bound to another user")

// Repository defines persistence for subscription records.
type Repository interface {
	// GetByUser returns the record for userID, or nil if none exists.
	GetByUser(ctx context.Context, userID string) (*domain.SubscriptionRecord, error)
	// GetByPurchaseToken returns the record binding purchaseToken, or nil.
	// Used for the cross-user idempotency check before any write.
	GetByPurchaseToken(ctx context.Context, purchaseToken string) (*domain.SubscriptionRecord, error)
	// Upsert creates or overwrites the one record keyed by UserID.
	Upsert(ctx context.Context, rec *domain.SubscriptionRecord) error
}

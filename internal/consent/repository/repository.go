package repository

import (
	"context"

	"matchdeck/trust/internal/consent/domain"
)

// Repository defines persistence for consent records. Append-only: there is
// no update or delete; the latest record per (user, type) wins.
type Repository interface {
	// Create appends one acceptance event.
	Create(ctx context.Context, rec *domain.ConsentRecord) error
	// GetLatest returns the most recent record for (userID, consentType),
	// or nil if the user never consented.
	GetLatest(ctx context.Context, userID string, consentType domain.ConsentType) (*domain.ConsentRecord, error)
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"matchdeck/trust/internal/consent/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a consent repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create appends one acceptance event. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.ConsentRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consent_records (id, user_id, consent_type, policy_version, consented_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, string(rec.ConsentType), rec.PolicyVersion, rec.ConsentedAt)
	return err
}

// GetLatest returns the most recent consent record for (userID, consentType),
// or nil if not found. It returns an error only for database failures.
func (r *PostgresRepository) GetLatest(ctx context.Context, userID string, consentType domain.ConsentType) (*domain.ConsentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, consent_type, policy_version, consented_at
		FROM consent_records
		WHERE user_id = $1 AND consent_type = $2
		ORDER BY consented_at DESC
		LIMIT 1`, userID, string(consentType))

	var rec domain.ConsentRecord
	var ct string
	err := row.Scan(&rec.ID, &rec.UserID, &ct, &rec.PolicyVersion, &rec.ConsentedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.ConsentType = domain.ConsentType(ct)
	return &rec, nil
}

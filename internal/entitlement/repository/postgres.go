package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"matchdeck/trust/internal/entitlement/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a subscription repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionColumns = `user_id, status, purchase_token, order_id, product_id, period_start, period_end, grace_end, last_verified_at`

// GetByUser returns the subscription record for userID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID string) (*domain.SubscriptionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = $1`, userID)
	return scanRecord(row)
}

// GetByPurchaseToken returns the record binding purchaseToken, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByPurchaseToken(ctx context.Context, purchaseToken string) (*domain.SubscriptionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE purchase_token = $1`, purchaseToken)
	return scanRecord(row)
}

// Upsert creates or overwrites the one record per user.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *domain.SubscriptionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			status = EXCLUDED.status,
			purchase_token = EXCLUDED.purchase_token,
			order_id = EXCLUDED.order_id,
			product_id = EXCLUDED.product_id,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			grace_end = EXCLUDED.grace_end,
			last_verified_at = EXCLUDED.last_verified_at`,
		rec.UserID, string(rec.Status), rec.PurchaseToken, rec.OrderID, rec.ProductID,
		rec.PeriodStart, rec.PeriodEnd, rec.GraceEnd, rec.LastVerifiedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "user_subscriptions_purchase_token_idx" {
		return ErrDuplicatePurchaseToken
	}
	return err
}

func scanRecord(row *sql.Row) (*domain.SubscriptionRecord, error) {
	var rec domain.SubscriptionRecord
	var status string
	err := row.Scan(&rec.UserID, &status, &rec.PurchaseToken, &rec.OrderID, &rec.ProductID,
		&rec.PeriodStart, &rec.PeriodEnd, &rec.GraceEnd, &rec.LastVerifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Status = domain.Status(status)
	return &rec, nil
}

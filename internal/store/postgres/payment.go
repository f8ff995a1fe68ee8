package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gavelhouse/settlement/internal/store"
)

// PaymentRepo implements store.PaymentRepository with sqlx. Payment rows are
// written only inside AccountRepo.ApplyBalance; this repository is read-only.
type PaymentRepo struct {
	db *sqlx.DB
}

// NewPaymentRepo returns a new PaymentRepo.
func NewPaymentRepo(db *sqlx.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func (r *PaymentRepo) ListByUser(ctx context.Context, userID string) ([]store.PaymentRecord, error) {
	var payments []store.PaymentRecord
	err := r.db.SelectContext(ctx, &payments,
		`SELECT * FROM payments WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing payments by user: %w", err)
	}
	return payments, nil
}

func (r *PaymentRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]store.PaymentRecord, error) {
	var payments []store.PaymentRecord
	err := r.db.SelectContext(ctx, &payments,
		`SELECT * FROM payments WHERE correlation_id = $1 ORDER BY created_at ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("listing payments by correlation: %w", err)
	}
	return payments, nil
}

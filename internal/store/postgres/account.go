package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/store"
)

// AccountRepo implements store.AccountRepository with sqlx.
//
// Balance and reputation mutations are single conditional UPDATE statements;
// the funds check and the write cannot be split by a concurrent spender.
type AccountRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewAccountRepo returns a new AccountRepo.
func NewAccountRepo(db *sqlx.DB, clk clock.Clock) *AccountRepo {
	return &AccountRepo{db: db, clk: clk}
}

func (r *AccountRepo) Create(ctx context.Context, a *store.Account) error {
	now := r.clk.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, balance, reputation, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Balance, a.Reputation, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	err := r.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return &a, nil
}

func (r *AccountRepo) ApplyBalance(ctx context.Context, userID string, delta int64, p *store.PaymentRecord) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning balance transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var newBalance int64
	err = tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = $2
		 WHERE id = $3 AND balance + $1 >= 0
		 RETURNING balance`,
		delta, r.clk.Now().UTC(), userID,
	).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		// Zero rows is either a missing account or a balance that would go
		// negative; distinguish without releasing the transaction.
		var exists bool
		if checkErr := tx.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, userID,
		); checkErr != nil {
			return 0, fmt.Errorf("checking account: %w", checkErr)
		}
		if !exists {
			return 0, store.ErrNotFound
		}
		return 0, store.ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("updating balance: %w", err)
	}

	p.UserID = userID
	p.Status = store.PaymentSucceeded
	p.CreatedAt = r.clk.Now().UTC()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO payments (user_id, amount, kind, status, correlation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.UserID, p.Amount, p.Kind, p.Status, p.CorrelationID, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return 0, fmt.Errorf("inserting payment record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing balance change: %w", err)
	}
	return newBalance, nil
}

func (r *AccountRepo) AdjustReputation(ctx context.Context, userID string, delta int64) (int64, error) {
	var newScore int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET reputation = GREATEST(0, reputation + $1), updated_at = $2
		 WHERE id = $3
		 RETURNING reputation`,
		delta, r.clk.Now().UTC(), userID,
	).Scan(&newScore)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("adjusting reputation: %w", err)
	}
	return newScore, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/store"
)

// ParticipantRepo implements store.ParticipantRepository with sqlx.
type ParticipantRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewParticipantRepo returns a new ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB, clk clock.Clock) *ParticipantRepo {
	return &ParticipantRepo{db: db, clk: clk}
}

func (r *ParticipantRepo) Create(ctx context.Context, p *store.Participant) error {
	p.CreatedAt = r.clk.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (auction_id, user_id, created_at) VALUES ($1, $2, $3)`,
		p.AuctionID, p.UserID, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) Exists(ctx context.Context, auctionID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE auction_id = $1 AND user_id = $2)`,
		auctionID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("checking participant: %w", err)
	}
	return exists, nil
}

func (r *ParticipantRepo) ListByAuction(ctx context.Context, auctionID string) ([]store.Participant, error) {
	var participants []store.Participant
	err := r.db.SelectContext(ctx, &participants,
		`SELECT * FROM participants WHERE auction_id = $1 ORDER BY created_at ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	return participants, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
//
// Bid admission serializes on the auction row (SELECT ... FOR UPDATE), so two
// bids racing for the same auction queue up on the row lock while bids on
// different auctions proceed in parallel.
type AuctionRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clk: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	query := `INSERT INTO auctions (product_id, seller_id, starting_bid, start_time, end_time, status, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	a.CreatedAt = r.clk.Now().UTC()
	return r.db.QueryRowContext(ctx, query,
		a.ProductID, a.SellerID, a.StartingBid, a.StartTime, a.EndTime, a.Status, a.CreatedAt,
	).Scan(&a.ID)
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var a store.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

func (r *AuctionRepo) AdmitBid(ctx context.Context, adm store.BidAdmission) (*store.BidOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning bid transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the auction serializes all admission checks and the
	// anti-snipe extension against concurrent bids.
	var a store.Auction
	err = tx.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1 FOR UPDATE`, adm.AuctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("locking auction: %w", err)
	}

	if a.Status != store.StatusActive || !adm.Now.Before(a.EndTime) {
		return nil, store.ErrAuctionClosed
	}

	var joined bool
	err = tx.GetContext(ctx, &joined,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE auction_id = $1 AND user_id = $2)`,
		adm.AuctionID, adm.BidderID)
	if err != nil {
		return nil, fmt.Errorf("checking participant: %w", err)
	}
	if !joined {
		return nil, store.ErrNotParticipant
	}

	var prev string
	var highest store.Bid
	err = tx.GetContext(ctx, &highest,
		`SELECT * FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC LIMIT 1`,
		adm.AuctionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if adm.Amount < a.StartingBid {
			return nil, store.ErrBidTooLow
		}
	case err != nil:
		return nil, fmt.Errorf("reading highest bid: %w", err)
	default:
		if highest.BidderID == adm.BidderID {
			return nil, store.ErrAlreadyHighestBidder
		}
		if adm.Amount < highest.Amount+adm.MinStep {
			return nil, store.ErrBidTooLow
		}
		prev = highest.BidderID
	}

	bid := store.Bid{
		AuctionID: adm.AuctionID,
		BidderID:  adm.BidderID,
		Amount:    adm.Amount,
		CreatedAt: adm.Now.UTC(),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO bids (auction_id, bidder_id, amount, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		bid.AuctionID, bid.BidderID, bid.Amount, bid.CreatedAt,
	).Scan(&bid.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting bid: %w", err)
	}

	extended := false
	endTime := a.EndTime
	// The extension may only push the deadline out, never pull it in.
	if newEnd := adm.Now.Add(adm.SnipeExtension); a.EndTime.Sub(adm.Now) < adm.SnipeWindow && newEnd.After(a.EndTime) {
		endTime = newEnd
		if _, err := tx.ExecContext(ctx,
			`UPDATE auctions SET end_time = $1 WHERE id = $2`, endTime, adm.AuctionID,
		); err != nil {
			return nil, fmt.Errorf("extending auction deadline: %w", err)
		}
		extended = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bid: %w", err)
	}

	return &store.BidOutcome{
		Bid:                bid,
		CurrentPrice:       bid.Amount,
		Extended:           extended,
		EndTime:            endTime,
		PreviousHighBidder: prev,
	}, nil
}

func (r *AuctionRepo) TransitionToWaiting(ctx context.Context, id, winnerID string, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $1, winning_bidder_id = $2 WHERE id = $3 AND status = $4`,
		store.StatusWaiting, winnerID, id, store.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("transitioning auction to waiting: %w", err)
	}
	return requireOneRow(result)
}

func (r *AuctionRepo) TransitionToEnded(ctx context.Context, id string, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`,
		store.StatusEnded, now.UTC(), id, store.StatusWaiting,
	)
	if err != nil {
		return fmt.Errorf("transitioning auction to ended: %w", err)
	}
	return requireOneRow(result)
}

func (r *AuctionRepo) CancelFrom(ctx context.Context, id string, now time.Time, from ...string) error {
	// The status re-check and the write are one statement, so a concurrent
	// sweep re-selecting the same auction hits zero rows instead of
	// cancelling twice. Cancelled auctions carry no winner.
	query, args, err := sqlx.In(
		`UPDATE auctions SET status = ?, winning_bidder_id = NULL, closed_at = ? WHERE id = ? AND status IN (?)`,
		store.StatusCancelled, now.UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("building cancel query: %w", err)
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("cancelling auction: %w", err)
	}
	return requireOneRow(result)
}

func (r *AuctionRepo) ListDueActive(ctx context.Context, now time.Time) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions WHERE status = $1 AND end_time <= $2 ORDER BY end_time ASC`,
		store.StatusActive, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing due auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) ListOverdueWaiting(ctx context.Context, cutoff time.Time) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions WHERE status = $1 AND end_time < $2 ORDER BY end_time ASC`,
		store.StatusWaiting, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing overdue auctions: %w", err)
	}
	return auctions, nil
}

// requireOneRow maps a zero-row conditional update to ErrAlreadyProcessed.
func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return store.ErrAlreadyProcessed
	}
	return nil
}

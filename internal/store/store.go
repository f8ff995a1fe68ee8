package store

import (
	"context"
	"time"
)

// Auction statuses.
const (
	StatusActive    = "active"
	StatusWaiting   = "waiting" // winner selected, awaiting payment
	StatusEnded     = "ended"
	StatusCancelled = "cancelled"
)

// Payment kinds.
const (
	KindDeposit           = "deposit"
	KindWithdrawal        = "withdrawal"
	KindParticipationFee  = "participation-fee"
	KindFeeRefund         = "fee-refund"
	KindGroupPurchaseHold = "group-purchase-hold"
	KindSaleProceeds      = "sale-proceeds"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// Auction is a single listing's settlement state.
//
// WinningBidderID is set if and only if Status is "waiting" or "ended".
type Auction struct {
	ID              string     `db:"id"`
	ProductID       string     `db:"product_id"`
	SellerID        string     `db:"seller_id"`
	StartingBid     int64      `db:"starting_bid"` // minor currency units
	StartTime       time.Time  `db:"start_time"`
	EndTime         time.Time  `db:"end_time"` // mutable: pushed back by anti-snipe
	Status          string     `db:"status"`
	WinningBidderID *string    `db:"winning_bidder_id"`
	CreatedAt       time.Time  `db:"created_at"`
	ClosedAt        *time.Time `db:"closed_at"`
}

// Bid is immutable once written. Amounts are strictly increasing per auction
// in insertion order.
type Bid struct {
	ID        string    `db:"id"`
	AuctionID string    `db:"auction_id"`
	BidderID  string    `db:"bidder_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// Participant marks that the join fee was charged for (auction, user).
// Never deleted; refunds are separate ledger events.
type Participant struct {
	AuctionID string    `db:"auction_id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Account holds a user's wallet balance and reputation score, both
// non-negative and mutated only through repository operations.
type Account struct {
	ID         string    `db:"id"`
	Balance    int64     `db:"balance"`
	Reputation int64     `db:"reputation"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// PaymentRecord is the append-only audit trail. Every balance mutation
// produces exactly one record in the same transaction.
type PaymentRecord struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	Amount        int64     `db:"amount"`
	Kind          string    `db:"kind"`
	Status        string    `db:"status"`
	CorrelationID *string   `db:"correlation_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// BidAdmission carries everything AdmitBid needs to validate and record a bid
// under per-auction serialization. Rule values are passed in per call so
// operator changes apply without a restart.
type BidAdmission struct {
	AuctionID      string
	BidderID       string
	Amount         int64
	MinStep        int64
	SnipeWindow    time.Duration
	SnipeExtension time.Duration
	Now            time.Time
}

// BidOutcome reports an accepted bid.
type BidOutcome struct {
	Bid                Bid
	CurrentPrice       int64
	Extended           bool
	EndTime            time.Time
	PreviousHighBidder string // empty if this was the first bid
}

// AuctionRepository defines auction persistence and the serialized
// state transitions of the settlement engine.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)

	// AdmitBid validates and records a bid as one serialized operation:
	// status/deadline checks, participant check, highest-bid comparison,
	// insert, and anti-snipe extension must all see a single consistent
	// snapshot. Two racing bids on the same auction must never both be
	// accepted unless the second genuinely outbids the first.
	AdmitBid(ctx context.Context, adm BidAdmission) (*BidOutcome, error)

	// TransitionToWaiting moves active -> waiting and sets the winner.
	// Returns ErrAlreadyProcessed if the auction is no longer active.
	TransitionToWaiting(ctx context.Context, id, winnerID string, now time.Time) error

	// TransitionToEnded moves waiting -> ended.
	// Returns ErrAlreadyProcessed if the auction is not waiting.
	TransitionToEnded(ctx context.Context, id string, now time.Time) error

	// CancelFrom moves the auction to cancelled only if its current status is
	// one of from. Returns ErrAlreadyProcessed otherwise. The status re-check
	// and the write are a single atomic operation.
	CancelFrom(ctx context.Context, id string, now time.Time, from ...string) error

	// ListDueActive returns active auctions whose end_time has passed.
	ListDueActive(ctx context.Context, now time.Time) ([]Auction, error)

	// ListOverdueWaiting returns waiting auctions with end_time before the cutoff.
	ListOverdueWaiting(ctx context.Context, cutoff time.Time) ([]Auction, error)
}

// BidRepository reads recorded bids.
type BidRepository interface {
	ListByAuction(ctx context.Context, auctionID string) ([]Bid, error)
	// Highest returns the top bid, or ErrNotFound when the auction has no bids.
	Highest(ctx context.Context, auctionID string) (*Bid, error)
}

// ParticipantRepository defines escrow-record persistence.
type ParticipantRepository interface {
	// Create inserts the (auction, user) pair; ErrAlreadyExists on duplicates.
	Create(ctx context.Context, p *Participant) error
	Exists(ctx context.Context, auctionID, userID string) (bool, error)
	ListByAuction(ctx context.Context, auctionID string) ([]Participant, error)
}

// AccountRepository defines wallet persistence. Balance and reputation
// mutations are atomic conditional updates, never read-then-write.
type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)

	// ApplyBalance adds delta to the balance and writes the paired payment
	// record in the same transaction. A negative delta that would take the
	// balance below zero fails with ErrInsufficientFunds and writes nothing.
	ApplyBalance(ctx context.Context, userID string, delta int64, p *PaymentRecord) (newBalance int64, err error)

	// AdjustReputation adds delta to the reputation score, clamped at zero.
	AdjustReputation(ctx context.Context, userID string, delta int64) (newScore int64, err error)
}

// PaymentRepository reads the audit trail.
type PaymentRepository interface {
	ListByUser(ctx context.Context, userID string) ([]PaymentRecord, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]PaymentRecord, error)
}

// SettingsRepository holds operator-tunable rule values, read per invocation.
type SettingsRepository interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64) error
}

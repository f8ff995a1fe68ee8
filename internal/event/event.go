package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionCreated   Type = "auction.created"
	AuctionBidPlaced Type = "auction.bid_placed"
	AuctionExtended  Type = "auction.extended"
	AuctionFinalized Type = "auction.finalized"
	AuctionCompleted Type = "auction.completed"
	AuctionCancelled Type = "auction.cancelled"
	AuctionDefaulted Type = "auction.defaulted"

	WalletCredited Type = "wallet.credited"
	WalletDebited  Type = "wallet.debited"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionCreatedData is the payload for AuctionCreated events.
type AuctionCreatedData struct {
	ProductID   string    `json:"product_id"`
	SellerID    string    `json:"seller_id"`
	StartingBid int64     `json:"starting_bid"`
	EndTime     time.Time `json:"end_time"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
}

// ExtendedData is the payload for AuctionExtended events.
type ExtendedData struct {
	NewEndTime time.Time `json:"new_end_time"`
}

// FinalizedData is the payload for AuctionFinalized events.
type FinalizedData struct {
	WinnerID string `json:"winner_id"`
	Amount   int64  `json:"amount"`
}

// CancelledData is the payload for AuctionCancelled events.
type CancelledData struct {
	Reason string `json:"reason"`
}

// DefaultedData is the payload for AuctionDefaulted events.
type DefaultedData struct {
	WinnerID string `json:"winner_id"`
	Penalty  int64  `json:"penalty"`
}

// WalletChangeData is the payload for wallet events.
type WalletChangeData struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

package store

import "errors"

// Sentinel errors shared by all store drivers. Managers wrap these with
// context and the HTTP layer maps them to status codes.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState means the auction is in the wrong status for the
	// requested transition.
	ErrInvalidState = errors.New("invalid auction state")

	// ErrAlreadyProcessed means the transition already happened; callers
	// driven by the external trigger treat it as a no-op.
	ErrAlreadyProcessed = errors.New("already processed")

	ErrAuctionClosed       = errors.New("auction is closed")
	ErrBidTooLow           = errors.New("bid is below minimum increment")
	ErrNotParticipant      = errors.New("join fee not paid for this auction")
	ErrAlreadyHighestBidder = errors.New("already the highest bidder")
)

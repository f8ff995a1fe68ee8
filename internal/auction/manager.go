// Package auction implements bid admission and the auction lifecycle state
// machine: active -> waiting -> ended, with cancellation terminal from any
// non-terminal state.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/escrow"
	"github.com/gavelhouse/settlement/internal/event"
	"github.com/gavelhouse/settlement/internal/notify"
	"github.com/gavelhouse/settlement/internal/reputation"
	"github.com/gavelhouse/settlement/internal/rules"
	"github.com/gavelhouse/settlement/internal/store"
	"github.com/gavelhouse/settlement/internal/wallet"
)

// Errors returned by lifecycle operations.
var (
	// ErrSelfAction means the seller tried to act on their own auction.
	ErrSelfAction = errors.New("sellers cannot bid on their own auction")
	// ErrNotAuthorized means the actor may not perform this transition.
	ErrNotAuthorized = errors.New("not authorized for this auction")
)

// Manager coordinates auction state and money movement.
type Manager struct {
	auctions     store.AuctionRepository
	bids         store.BidRepository
	participants store.ParticipantRepository
	escrow       *escrow.Escrow
	ledger       *wallet.Ledger
	reputation   *reputation.Service
	rules        rules.Provider
	events       event.Store
	notifier     *notify.Notifier
	logger       *slog.Logger
	tracer       trace.Tracer
	clock        clock.Clock
}

// NewManager creates a new auction Manager.
func NewManager(
	auctions store.AuctionRepository,
	bids store.BidRepository,
	participants store.ParticipantRepository,
	esc *escrow.Escrow,
	ledger *wallet.Ledger,
	rep *reputation.Service,
	rulesProvider rules.Provider,
	events event.Store,
	notifier *notify.Notifier,
	logger *slog.Logger,
	tp trace.TracerProvider,
	clk clock.Clock,
) *Manager {
	return &Manager{
		auctions:     auctions,
		bids:         bids,
		participants: participants,
		escrow:       esc,
		ledger:       ledger,
		reputation:   rep,
		rules:        rulesProvider,
		events:       events,
		notifier:     notifier,
		logger:       logger,
		tracer:       tp.Tracer("github.com/gavelhouse/settlement/internal/auction"),
		clock:        clk,
	}
}

// Create opens a new auction for the seller's product.
func (m *Manager) Create(ctx context.Context, sellerID, productID string, startingBid int64, duration time.Duration) (*store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(
			attribute.String("seller.id", sellerID),
			attribute.String("product.id", productID),
			attribute.Int64("starting_bid", startingBid),
		),
	)
	defer span.End()

	if startingBid < 0 {
		return nil, fmt.Errorf("starting bid must be non-negative, got %d", startingBid)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %v", duration)
	}

	now := m.clock.Now().UTC()
	a := &store.Auction{
		ProductID:   productID,
		SellerID:    sellerID,
		StartingBid: startingBid,
		StartTime:   now,
		EndTime:     now.Add(duration),
		Status:      store.StatusActive,
	}
	if err := m.auctions.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}

	data, _ := json.Marshal(event.AuctionCreatedData{
		ProductID:   productID,
		SellerID:    sellerID,
		StartingBid: startingBid,
		EndTime:     a.EndTime,
	})
	m.appendEvent(ctx, a.ID, event.AuctionCreated, data)

	m.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("seller_id", sellerID),
		slog.Int64("starting_bid", startingBid),
	)
	return a, nil
}

// Get returns the auction, lazily finalizing it first if its deadline has
// silently passed. Reads therefore never observe an active auction whose
// bidding window is over.
func (m *Manager) Get(ctx context.Context, auctionID string) (*store.Auction, error) {
	if _, err := m.FinalizeIfDue(ctx, auctionID); err != nil {
		return nil, err
	}
	return m.auctions.GetByID(ctx, auctionID)
}

// CurrentPrice returns the price a new bid must beat: the highest bid, or
// the starting bid when there are none.
func (m *Manager) CurrentPrice(ctx context.Context, a *store.Auction) (int64, error) {
	highest, err := m.bids.Highest(ctx, a.ID)
	if errors.Is(err, store.ErrNotFound) {
		return a.StartingBid, nil
	}
	if err != nil {
		return 0, err
	}
	return highest.Amount, nil
}

// PlaceBid validates and records a bid. All checks and the write happen
// under per-auction serialization in the store; the seller check happens
// here because the seller id is immutable.
func (m *Manager) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (*store.BidOutcome, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction.id", auctionID),
			attribute.String("bidder.id", bidderID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	a, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	if a.SellerID == bidderID {
		return nil, ErrSelfAction
	}

	rs, err := m.rules.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	outcome, err := m.auctions.AdmitBid(ctx, store.BidAdmission{
		AuctionID:      auctionID,
		BidderID:       bidderID,
		Amount:         amount,
		MinStep:        rs.MinStep,
		SnipeWindow:    rs.SnipeWindow,
		SnipeExtension: rs.SnipeExtension,
		Now:            m.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(event.BidPlacedData{BidderID: bidderID, Amount: amount})
	m.appendEvent(ctx, auctionID, event.AuctionBidPlaced, data)
	if outcome.Extended {
		extData, _ := json.Marshal(event.ExtendedData{NewEndTime: outcome.EndTime})
		m.appendEvent(ctx, auctionID, event.AuctionExtended, extData)
	}

	m.logger.InfoContext(ctx, "bid placed",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("amount", amount),
		slog.Bool("extended", outcome.Extended),
	)

	if prev := outcome.PreviousHighBidder; prev != "" {
		m.notifyAsync(ctx, notify.EventOutbid, "Outbid",
			fmt.Sprintf("user %s was outbid on auction %s (new price %d)", prev, auctionID, amount))
	}

	return outcome, nil
}

// FinalizeIfDue advances an active auction whose bidding window has elapsed:
// with bids, to waiting with the winner set; without bids, to cancelled with
// every participant refunded. Calling it on an auction that is not due, or
// that already left active, is a no-op -- the external trigger may fire any
// number of times. Returns whether this call performed the transition.
func (m *Manager) FinalizeIfDue(ctx context.Context, auctionID string) (bool, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.FinalizeIfDue",
		trace.WithAttributes(attribute.String("auction.id", auctionID)),
	)
	defer span.End()

	a, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return false, fmt.Errorf("loading auction: %w", err)
	}

	now := m.clock.Now().UTC()
	if a.Status != store.StatusActive || now.Before(a.EndTime) {
		return false, nil
	}

	bids, err := m.bids.ListByAuction(ctx, auctionID)
	if err != nil {
		return false, fmt.Errorf("listing bids: %w", err)
	}

	if len(bids) == 0 {
		err := m.auctions.CancelFrom(ctx, auctionID, now, store.StatusActive)
		if errors.Is(err, store.ErrAlreadyProcessed) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("cancelling auction with no bids: %w", err)
		}

		// Nobody defaulted; everyone gets their fee back.
		refunded, err := m.escrow.RefundAll(ctx, auctionID, "")
		if err != nil {
			return true, fmt.Errorf("refunding participants: %w", err)
		}
		if refunded > 0 {
			m.notifyAsync(ctx, notify.EventRefunded, "Participation fees refunded",
				fmt.Sprintf("%d participants of auction %s were refunded", refunded, auctionID))
		}

		data, _ := json.Marshal(event.CancelledData{Reason: "no bids"})
		m.appendEvent(ctx, auctionID, event.AuctionCancelled, data)
		m.notifyAsync(ctx, notify.EventCancelled, "Auction closed without bids",
			fmt.Sprintf("auction %s received no bids and was cancelled", auctionID))

		m.logger.InfoContext(ctx, "auction cancelled, no bids", slog.String("auction_id", auctionID))
		return true, nil
	}

	winner := selectWinner(bids)
	err = m.auctions.TransitionToWaiting(ctx, auctionID, winner.BidderID, now)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("selecting winner: %w", err)
	}

	data, _ := json.Marshal(event.FinalizedData{WinnerID: winner.BidderID, Amount: winner.Amount})
	m.appendEvent(ctx, auctionID, event.AuctionFinalized, data)
	m.notifyAsync(ctx, notify.EventWon, "Auction won",
		fmt.Sprintf("user %s won auction %s at %d, payment pending", winner.BidderID, auctionID, winner.Amount))

	m.logger.InfoContext(ctx, "auction finalized",
		slog.String("auction_id", auctionID),
		slog.String("winner_id", winner.BidderID),
		slog.Int64("amount", winner.Amount),
	)
	return true, nil
}

// Cancel pulls the auction. The provisional winner, if any, is refunded with
// everyone else: the auction was withdrawn, nobody defaulted. Cancelling an
// already-cancelled auction is a no-op; a paid (ended) auction cannot be
// cancelled.
func (m *Manager) Cancel(ctx context.Context, auctionID, actorID string, isAdmin bool, reason string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Cancel",
		trace.WithAttributes(
			attribute.String("auction.id", auctionID),
			attribute.String("actor.id", actorID),
		),
	)
	defer span.End()

	a, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("loading auction: %w", err)
	}
	if !isAdmin && a.SellerID != actorID {
		return ErrNotAuthorized
	}

	switch a.Status {
	case store.StatusEnded:
		return store.ErrInvalidState
	case store.StatusCancelled:
		return nil
	}

	now := m.clock.Now().UTC()
	err = m.auctions.CancelFrom(ctx, auctionID, now, store.StatusActive, store.StatusWaiting)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancelling auction: %w", err)
	}

	refunded, err := m.escrow.RefundAll(ctx, auctionID, "")
	if err != nil {
		return fmt.Errorf("refunding participants: %w", err)
	}
	if refunded > 0 {
		m.notifyAsync(ctx, notify.EventRefunded, "Participation fees refunded",
			fmt.Sprintf("%d participants of auction %s were refunded", refunded, auctionID))
	}

	data, _ := json.Marshal(event.CancelledData{Reason: reason})
	m.appendEvent(ctx, auctionID, event.AuctionCancelled, data)
	m.notifyAsync(ctx, notify.EventCancelled, "Auction cancelled",
		fmt.Sprintf("auction %s was cancelled: %s", auctionID, reason))

	m.logger.InfoContext(ctx, "auction cancelled",
		slog.String("auction_id", auctionID),
		slog.String("actor_id", actorID),
		slog.String("reason", reason),
	)
	return nil
}

// CompleteSale settles a waiting auction: the winner pays the winning amount,
// the seller is credited, and the auction ends. Only the winner may pay. The
// debit happens before the transition; if the auction left waiting in the
// meantime (e.g. an overdue sweep cancelled it) the debit is compensated.
func (m *Manager) CompleteSale(ctx context.Context, auctionID, actorID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.CompleteSale",
		trace.WithAttributes(
			attribute.String("auction.id", auctionID),
			attribute.String("actor.id", actorID),
		),
	)
	defer span.End()

	a, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("loading auction: %w", err)
	}
	if a.Status != store.StatusWaiting {
		return store.ErrInvalidState
	}
	if a.WinningBidderID == nil || *a.WinningBidderID != actorID {
		return ErrNotAuthorized
	}

	highest, err := m.bids.Highest(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("reading winning bid: %w", err)
	}

	if _, err := m.ledger.Debit(ctx, actorID, highest.Amount, store.KindGroupPurchaseHold, auctionID); err != nil {
		return err
	}

	now := m.clock.Now().UTC()
	if err := m.auctions.TransitionToEnded(ctx, auctionID, now); err != nil {
		// Release the hold with the same kind so fee accounting stays
		// untouched.
		if _, refundErr := m.ledger.Credit(ctx, actorID, highest.Amount, store.KindGroupPurchaseHold, auctionID); refundErr != nil {
			return fmt.Errorf("compensating failed sale (%v): %w", err, refundErr)
		}
		if errors.Is(err, store.ErrAlreadyProcessed) {
			return store.ErrInvalidState
		}
		return fmt.Errorf("ending auction: %w", err)
	}

	if _, err := m.ledger.Credit(ctx, a.SellerID, highest.Amount, store.KindSaleProceeds, auctionID); err != nil {
		return fmt.Errorf("crediting seller: %w", err)
	}

	// Paying on time earns back what a default would have cost.
	if rs, rulesErr := m.rules.Rules(ctx); rulesErr == nil && rs.ReputationPenalty > 0 {
		if _, repErr := m.reputation.Credit(ctx, actorID, rs.ReputationPenalty); repErr != nil {
			m.logger.ErrorContext(ctx, "failed to credit winner reputation",
				slog.String("auction_id", auctionID),
				slog.String("winner_id", actorID),
				slog.Any("error", repErr),
			)
		}
	}

	data, _ := json.Marshal(event.FinalizedData{WinnerID: actorID, Amount: highest.Amount})
	m.appendEvent(ctx, auctionID, event.AuctionCompleted, data)
	m.notifyAsync(ctx, notify.EventSaleComplete, "Sale complete",
		fmt.Sprintf("auction %s settled at %d", auctionID, highest.Amount))

	m.logger.InfoContext(ctx, "sale completed",
		slog.String("auction_id", auctionID),
		slog.String("winner_id", actorID),
		slog.Int64("amount", highest.Amount),
	)
	return nil
}

// selectWinner picks the bid with the maximum amount; ties break to the
// earliest bid at that amount.
func selectWinner(bids []store.Bid) store.Bid {
	winner := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > winner.Amount {
			winner = b
		}
	}
	return winner
}

func (m *Manager) appendEvent(ctx context.Context, aggregateID string, t event.Type, data json.RawMessage) {
	if err := m.events.Append(ctx, event.Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        data,
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to append event",
			slog.String("aggregate_id", aggregateID),
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}

// notifyAsync fires a notification without blocking the caller or tying its
// lifetime to the request context.
func (m *Manager) notifyAsync(ctx context.Context, eventType, title, message string) {
	go m.notifier.Notify(context.WithoutCancel(ctx), eventType, title, message)
}

// Package settlement sweeps auctions whose deadlines have passed: due active
// auctions are finalized, and waiting auctions whose winner never paid are
// defaulted.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gavelhouse/settlement/internal/auction"
	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/escrow"
	"github.com/gavelhouse/settlement/internal/event"
	"github.com/gavelhouse/settlement/internal/notify"
	"github.com/gavelhouse/settlement/internal/reputation"
	"github.com/gavelhouse/settlement/internal/rules"
	"github.com/gavelhouse/settlement/internal/store"
)

// scanConcurrency bounds how many auctions a single sweep processes at once.
const scanConcurrency = 8

// Scanner runs batch settlement passes over the auction table.
type Scanner struct {
	auctions   store.AuctionRepository
	manager    *auction.Manager
	escrow     *escrow.Escrow
	reputation *reputation.Service
	rules      rules.Provider
	events     event.Store
	notifier   *notify.Notifier
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      clock.Clock
}

// NewScanner creates a settlement Scanner.
func NewScanner(
	auctions store.AuctionRepository,
	manager *auction.Manager,
	esc *escrow.Escrow,
	rep *reputation.Service,
	rulesProvider rules.Provider,
	events event.Store,
	notifier *notify.Notifier,
	logger *slog.Logger,
	tp trace.TracerProvider,
	clk clock.Clock,
) *Scanner {
	return &Scanner{
		auctions:   auctions,
		manager:    manager,
		escrow:     esc,
		reputation: rep,
		rules:      rulesProvider,
		events:     events,
		notifier:   notifier,
		logger:     logger,
		tracer:     tp.Tracer("github.com/gavelhouse/settlement/internal/settlement"),
		clock:      clk,
	}
}

// FinalizeDue finalizes every active auction whose end time has passed.
// Failures on individual auctions are logged and skipped so one bad row
// cannot stall the sweep. Returns how many auctions this call transitioned.
func (s *Scanner) FinalizeDue(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Scanner.FinalizeDue")
	defer span.End()

	due, err := s.auctions.ListDueActive(ctx, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("listing due auctions: %w", err)
	}

	var processed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	results := make([]bool, len(due))
	for i, a := range due {
		g.Go(func() error {
			done, err := s.manager.FinalizeIfDue(gctx, a.ID)
			if err != nil {
				s.logger.ErrorContext(gctx, "failed to finalize auction",
					slog.String("auction_id", a.ID),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = done
			return nil
		})
	}
	_ = g.Wait()
	for _, done := range results {
		if done {
			processed++
		}
	}

	span.SetAttributes(attribute.Int("auctions.processed", int(processed)))
	if processed > 0 {
		s.logger.InfoContext(ctx, "finalized due auctions", slog.Int64("count", processed))
	}
	return int(processed), nil
}

// ScanOverdue defaults every waiting auction whose winner has not paid within
// the window: the auction is cancelled, the winner loses their participation
// fee and takes a reputation penalty, and everyone else is refunded.
// Re-running the scan is safe; already-cancelled auctions are skipped.
// Returns how many auctions this call defaulted.
func (s *Scanner) ScanOverdue(ctx context.Context, window time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Scanner.ScanOverdue",
		trace.WithAttributes(attribute.String("window", window.String())),
	)
	defer span.End()

	rs, err := s.rules.Rules(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading rules: %w", err)
	}

	cutoff := s.clock.Now().UTC().Add(-window)
	overdue, err := s.auctions.ListOverdueWaiting(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing overdue auctions: %w", err)
	}

	processed := 0
	for _, a := range overdue {
		done, err := s.defaultAuction(ctx, a, rs.ReputationPenalty)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to default overdue auction",
				slog.String("auction_id", a.ID),
				slog.Any("error", err),
			)
			continue
		}
		if done {
			processed++
		}
	}

	span.SetAttributes(attribute.Int("auctions.processed", processed))
	if processed > 0 {
		s.logger.InfoContext(ctx, "defaulted overdue auctions", slog.Int("count", processed))
	}
	return processed, nil
}

// RetryRefunds re-drives participation-fee refunds for a cancelled auction
// whose earlier refund pass failed partway. Refunds already paid out are not
// repeated, and a winner who defaulted stays excluded. Returns how many
// participants this call refunded.
func (s *Scanner) RetryRefunds(ctx context.Context, auctionID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Scanner.RetryRefunds",
		trace.WithAttributes(attribute.String("auction.id", auctionID)),
	)
	defer span.End()

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("loading auction: %w", err)
	}
	if a.Status != store.StatusCancelled {
		return 0, store.ErrInvalidState
	}

	// The cancel cleared the winner column, so a forfeited fee is only
	// visible in the event log.
	var exclude string
	events, err := s.events.Load(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("loading auction events: %w", err)
	}
	for _, e := range events {
		if e.Type != event.AuctionDefaulted {
			continue
		}
		var d event.DefaultedData
		if err := json.Unmarshal(e.Data, &d); err == nil {
			exclude = d.WinnerID
		}
	}

	refunded, err := s.escrow.RefundAll(ctx, auctionID, exclude)
	if err != nil {
		return 0, fmt.Errorf("refunding participants: %w", err)
	}
	if refunded > 0 {
		s.logger.InfoContext(ctx, "re-drove auction refunds",
			slog.String("auction_id", auctionID),
			slog.Int("count", refunded),
		)
	}
	return refunded, nil
}

// defaultAuction cancels one overdue auction and applies the default
// consequences. The winner id must be captured from the row before the
// cancel clears it.
func (s *Scanner) defaultAuction(ctx context.Context, a store.Auction, penalty int64) (bool, error) {
	if a.WinningBidderID == nil {
		return false, fmt.Errorf("waiting auction %s has no winner", a.ID)
	}
	winnerID := *a.WinningBidderID

	err := s.auctions.CancelFrom(ctx, a.ID, s.clock.Now().UTC(), store.StatusWaiting)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cancelling: %w", err)
	}

	if _, err := s.reputation.Penalize(ctx, winnerID, penalty); err != nil {
		s.logger.ErrorContext(ctx, "failed to penalize defaulting winner",
			slog.String("auction_id", a.ID),
			slog.String("winner_id", winnerID),
			slog.Any("error", err),
		)
	}

	// The defaulting winner forfeits their fee.
	if _, err := s.escrow.RefundAll(ctx, a.ID, winnerID); err != nil {
		return true, fmt.Errorf("refunding participants: %w", err)
	}

	data, _ := json.Marshal(event.DefaultedData{WinnerID: winnerID, Penalty: penalty})
	s.appendEvent(ctx, a.ID, event.AuctionDefaulted, data)
	go s.notifier.Notify(context.WithoutCancel(ctx), notify.EventDefaulted,
		"Payment defaulted",
		fmt.Sprintf("winner %s did not pay for auction %s in time", winnerID, a.ID))

	s.logger.InfoContext(ctx, "auction defaulted",
		slog.String("auction_id", a.ID),
		slog.String("winner_id", winnerID),
	)
	return true, nil
}

func (s *Scanner) appendEvent(ctx context.Context, aggregateID string, t event.Type, data json.RawMessage) {
	if err := s.events.Append(ctx, event.Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        data,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to append event",
			slog.String("aggregate_id", aggregateID),
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}

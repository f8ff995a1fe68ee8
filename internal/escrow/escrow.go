// Package escrow charges and refunds the fixed participation fee that gates
// bidding eligibility.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gavelhouse/settlement/internal/rules"
	"github.com/gavelhouse/settlement/internal/store"
	"github.com/gavelhouse/settlement/internal/wallet"
)

// Escrow manages participation fees. The fee is forfeited on normal auction
// completion; refunds happen only through cancellation and overdue handling.
type Escrow struct {
	auctions     store.AuctionRepository
	participants store.ParticipantRepository
	payments     store.PaymentRepository
	ledger       *wallet.Ledger
	rules        rules.Provider
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewEscrow returns a new Escrow.
func NewEscrow(
	auctions store.AuctionRepository,
	participants store.ParticipantRepository,
	payments store.PaymentRepository,
	ledger *wallet.Ledger,
	rulesProvider rules.Provider,
	logger *slog.Logger,
	tp trace.TracerProvider,
) *Escrow {
	return &Escrow{
		auctions:     auctions,
		participants: participants,
		payments:     payments,
		ledger:       ledger,
		rules:        rulesProvider,
		logger:       logger,
		tracer:       tp.Tracer("github.com/gavelhouse/settlement/internal/escrow"),
	}
}

// Join charges the participation fee and records the escrow row. Joining an
// auction the user already joined is a no-op, not an error, so presentation
// retries are harmless. If the fee is charged but the row cannot be written,
// the fee is refunded before returning -- no orphaned debit.
func (e *Escrow) Join(ctx context.Context, auctionID, userID string) error {
	ctx, span := e.tracer.Start(ctx, "Escrow.Join",
		trace.WithAttributes(
			attribute.String("auction.id", auctionID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("loading auction: %w", err)
	}
	if a.Status != store.StatusActive {
		return store.ErrAuctionClosed
	}

	joined, err := e.participants.Exists(ctx, auctionID, userID)
	if err != nil {
		return fmt.Errorf("checking participant: %w", err)
	}
	if joined {
		e.logger.InfoContext(ctx, "already joined, no-op",
			slog.String("auction_id", auctionID),
			slog.String("user_id", userID),
		)
		return nil
	}

	rs, err := e.rules.Rules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	if _, err := e.ledger.Debit(ctx, userID, rs.JoinFee, store.KindParticipationFee, auctionID); err != nil {
		return err
	}

	p := &store.Participant{AuctionID: auctionID, UserID: userID}
	if err := e.participants.Create(ctx, p); err != nil {
		// The fee left the wallet but the escrow row did not land. Undo the
		// debit; a lost race with another join of the same pair is fine.
		if _, refundErr := e.ledger.Credit(ctx, userID, rs.JoinFee, store.KindFeeRefund, auctionID); refundErr != nil {
			e.logger.ErrorContext(ctx, "participant insert failed and refund failed",
				slog.String("auction_id", auctionID),
				slog.String("user_id", userID),
				slog.Any("error", refundErr),
			)
			return fmt.Errorf("refunding after failed join: %w", refundErr)
		}
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("recording participant: %w", err)
	}

	e.logger.InfoContext(ctx, "auction joined",
		slog.String("auction_id", auctionID),
		slog.String("user_id", userID),
		slog.Int64("fee", rs.JoinFee),
	)
	return nil
}

// RefundAll refunds the participation fee of every participant except
// excludeUserID (empty to refund everyone). Refund amounts come from the
// recorded fee payments, so a fee change between join and refund cannot
// over- or under-refund; fees already refunded for this auction are skipped,
// which keeps repeated settlement sweeps from producing duplicate records.
// Returns the number of refunds issued.
func (e *Escrow) RefundAll(ctx context.Context, auctionID, excludeUserID string) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Escrow.RefundAll",
		trace.WithAttributes(attribute.String("auction.id", auctionID)),
	)
	defer span.End()

	records, err := e.payments.ListByCorrelation(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("listing auction payments: %w", err)
	}

	// Net fee still held per user: fees charged minus refunds issued.
	owed := make(map[string]int64)
	for _, rec := range records {
		if rec.Status != store.PaymentSucceeded {
			continue
		}
		switch rec.Kind {
		case store.KindParticipationFee:
			owed[rec.UserID] += rec.Amount
		case store.KindFeeRefund:
			owed[rec.UserID] -= rec.Amount
		}
	}

	refunded := 0
	var errs []error
	for userID, amount := range owed {
		if userID == excludeUserID || amount <= 0 {
			continue
		}
		if _, err := e.ledger.Credit(ctx, userID, amount, store.KindFeeRefund, auctionID); err != nil {
			e.logger.ErrorContext(ctx, "refund failed",
				slog.String("auction_id", auctionID),
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("refunding %s: %w", userID, err))
			continue
		}
		refunded++
	}

	if len(errs) > 0 {
		return refunded, errors.Join(errs...)
	}
	return refunded, nil
}

// Package wallet implements the ledger: every balance mutation happens here
// and produces exactly one payment record in the same transaction.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gavelhouse/settlement/internal/event"
	"github.com/gavelhouse/settlement/internal/store"
)

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// Ledger is the single entry point for money movement.
type Ledger struct {
	accounts store.AccountRepository
	payments store.PaymentRepository
	events   event.Store
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewLedger returns a new Ledger.
func NewLedger(accounts store.AccountRepository, payments store.PaymentRepository, events event.Store, logger *slog.Logger, tp trace.TracerProvider) *Ledger {
	return &Ledger{
		accounts: accounts,
		payments: payments,
		events:   events,
		logger:   logger,
		tracer:   tp.Tracer("github.com/gavelhouse/settlement/internal/wallet"),
	}
}

// Debit removes amount from the user's balance. The funds check and the
// write are one atomic operation in the store; store.ErrInsufficientFunds
// means nothing was written, payment record included.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, kind, correlationID string) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Debit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("amount", amount),
			attribute.String("kind", kind),
		),
	)
	defer span.End()

	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	rec := record(amount, kind, correlationID)
	newBalance, err := l.accounts.ApplyBalance(ctx, userID, -amount, rec)
	if err != nil {
		return 0, fmt.Errorf("debiting %s: %w", userID, err)
	}

	l.appendWalletEvent(ctx, event.WalletDebited, userID, amount, kind, correlationID)
	l.logger.InfoContext(ctx, "wallet debited",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.String("kind", kind),
		slog.Int64("balance", newBalance),
	)
	return newBalance, nil
}

// Credit adds amount to the user's balance. Credits cannot fail on funds.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, kind, correlationID string) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Credit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("amount", amount),
			attribute.String("kind", kind),
		),
	)
	defer span.End()

	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	rec := record(amount, kind, correlationID)
	newBalance, err := l.accounts.ApplyBalance(ctx, userID, amount, rec)
	if err != nil {
		return 0, fmt.Errorf("crediting %s: %w", userID, err)
	}

	l.appendWalletEvent(ctx, event.WalletCredited, userID, amount, kind, correlationID)
	l.logger.InfoContext(ctx, "wallet credited",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.String("kind", kind),
		slog.Int64("balance", newBalance),
	)
	return newBalance, nil
}

// Deposit tops up the user's balance from an external source. The first
// deposit provisions the account.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount int64) (int64, error) {
	balance, err := l.Credit(ctx, userID, amount, store.KindDeposit, "")
	if !errors.Is(err, store.ErrNotFound) {
		return balance, err
	}

	createErr := l.accounts.Create(ctx, &store.Account{ID: userID})
	if createErr != nil && !errors.Is(createErr, store.ErrAlreadyExists) {
		return 0, fmt.Errorf("provisioning account %s: %w", userID, createErr)
	}
	return l.Credit(ctx, userID, amount, store.KindDeposit, "")
}

// Withdraw moves funds out of the user's balance to an external destination.
func (l *Ledger) Withdraw(ctx context.Context, userID string, amount int64) (int64, error) {
	return l.Debit(ctx, userID, amount, store.KindWithdrawal, "")
}

// Balance returns the user's account.
func (l *Ledger) Balance(ctx context.Context, userID string) (*store.Account, error) {
	return l.accounts.GetByID(ctx, userID)
}

// History returns the user's payment records.
func (l *Ledger) History(ctx context.Context, userID string) ([]store.PaymentRecord, error) {
	return l.payments.ListByUser(ctx, userID)
}

func record(amount int64, kind, correlationID string) *store.PaymentRecord {
	rec := &store.PaymentRecord{
		Amount: amount,
		Kind:   kind,
	}
	if correlationID != "" {
		rec.CorrelationID = &correlationID
	}
	return rec
}

func (l *Ledger) appendWalletEvent(ctx context.Context, t event.Type, userID string, amount int64, kind, correlationID string) {
	data, _ := json.Marshal(event.WalletChangeData{
		UserID:        userID,
		Amount:        amount,
		Kind:          kind,
		CorrelationID: correlationID,
	})
	if err := l.events.Append(ctx, event.Event{
		AggregateID: userID,
		Type:        t,
		Data:        data,
	}); err != nil {
		l.logger.ErrorContext(ctx, "failed to append wallet event", slog.Any("error", err))
	}
}

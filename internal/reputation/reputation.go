// Package reputation applies trust-score deltas as settlement side effects.
package reputation

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gavelhouse/settlement/internal/store"
)

// Service mutates reputation scores. Each change is a single atomic
// read-modify-write in the store, clamped at a floor of zero.
type Service struct {
	accounts store.AccountRepository
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService returns a new reputation Service.
func NewService(accounts store.AccountRepository, logger *slog.Logger, tp trace.TracerProvider) *Service {
	return &Service{
		accounts: accounts,
		logger:   logger,
		tracer:   tp.Tracer("github.com/gavelhouse/settlement/internal/reputation"),
	}
}

// Penalize lowers the user's score by amount, never below zero.
func (s *Service) Penalize(ctx context.Context, userID string, amount int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "Reputation.Penalize",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	newScore, err := s.accounts.AdjustReputation(ctx, userID, -amount)
	if err != nil {
		return 0, fmt.Errorf("penalizing %s: %w", userID, err)
	}

	s.logger.InfoContext(ctx, "reputation penalized",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("score", newScore),
	)
	return newScore, nil
}

// Credit raises the user's score by amount.
func (s *Service) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "Reputation.Credit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	newScore, err := s.accounts.AdjustReputation(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("crediting reputation of %s: %w", userID, err)
	}

	s.logger.InfoContext(ctx, "reputation credited",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("score", newScore),
	)
	return newScore, nil
}

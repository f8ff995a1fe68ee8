package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/gavelhouse/settlement/internal/rules"
)

// Runner drives the scanner on a fixed interval. Only one instance should
// run it at a time; in a multi-replica deployment gate it behind leader
// election.
type Runner struct {
	scanner  *Scanner
	rules    rules.Provider
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner that sweeps every interval. Rule values are
// read fresh on every sweep so operator changes take effect on the next
// tick.
func NewRunner(scanner *Scanner, rulesProvider rules.Provider, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		scanner:  scanner,
		rules:    rulesProvider,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until the context is cancelled. Call in a goroutine.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	if _, err := r.scanner.FinalizeDue(ctx); err != nil {
		r.logger.ErrorContext(ctx, "finalize sweep failed", slog.Any("error", err))
	}
	rs, err := r.rules.Rules(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "loading rules for sweep", slog.Any("error", err))
		return
	}
	if _, err := r.scanner.ScanOverdue(ctx, rs.PaymentWindow); err != nil {
		r.logger.ErrorContext(ctx, "overdue sweep failed", slog.Any("error", err))
	}
}

package rules_test

import (
	"context"
	"testing"
	"time"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/config"
	"github.com/gavelhouse/settlement/internal/rules"
	"github.com/gavelhouse/settlement/internal/store/memstore"
)

func TestStoreProvider_Defaults(t *testing.T) {
	repos := memstore.New(clock.NewMock(time.Now())).Repositories()
	p := rules.NewStoreProvider(repos.Settings, config.Defaults().Rules)

	rs, err := p.Rules(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rs.MinStep != 10_000 {
		t.Errorf("MinStep = %d, want default 10000", rs.MinStep)
	}
	if rs.PaymentWindow != 24*time.Hour {
		t.Errorf("PaymentWindow = %v, want 24h", rs.PaymentWindow)
	}
}

// Stored values win over configured defaults, and changes show up on the very
// next read.
func TestStoreProvider_Overrides(t *testing.T) {
	repos := memstore.New(clock.NewMock(time.Now())).Repositories()
	p := rules.NewStoreProvider(repos.Settings, config.Defaults().Rules)
	ctx := context.Background()

	if err := repos.Settings.Set(ctx, rules.KeyMinStep, 25_000); err != nil {
		t.Fatal(err)
	}
	if err := repos.Settings.Set(ctx, rules.KeySnipeWindowSec, 300); err != nil {
		t.Fatal(err)
	}

	rs, err := p.Rules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rs.MinStep != 25_000 {
		t.Errorf("MinStep = %d, want overridden 25000", rs.MinStep)
	}
	if rs.SnipeWindow != 5*time.Minute {
		t.Errorf("SnipeWindow = %v, want 5m", rs.SnipeWindow)
	}
	// Untouched keys keep their defaults.
	if rs.JoinFee != 5_000 {
		t.Errorf("JoinFee = %d, want default 5000", rs.JoinFee)
	}

	if err := repos.Settings.Set(ctx, rules.KeyMinStep, 30_000); err != nil {
		t.Fatal(err)
	}
	rs, err = p.Rules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rs.MinStep != 30_000 {
		t.Errorf("MinStep after change = %d, want 30000", rs.MinStep)
	}
}

package escrow_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/escrow"
	"github.com/gavelhouse/settlement/internal/rules"
	"github.com/gavelhouse/settlement/internal/store"
	"github.com/gavelhouse/settlement/internal/store/memstore"
	"github.com/gavelhouse/settlement/internal/wallet"
)

var testTP = noop.NewTracerProvider()

const joinFee = 5_000

type fixture struct {
	escrow *escrow.Escrow
	ledger *wallet.Ledger
	repos  *store.Repositories
	clk    *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repos := memstore.New(clk).Repositories()
	logger := slog.Default()
	ledger := wallet.NewLedger(repos.Accounts, repos.Payments, repos.Events, logger, testTP)
	rp := rules.Static{Set: rules.RuleSet{JoinFee: joinFee, MinStep: 10_000}}
	return &fixture{
		escrow: escrow.NewEscrow(repos.Auctions, repos.Participants, repos.Payments, ledger, rp, logger, testTP),
		ledger: ledger,
		repos:  repos,
		clk:    clk,
	}
}

func (f *fixture) createAuction(t *testing.T, id string) {
	t.Helper()
	err := f.repos.Auctions.Create(context.Background(), &store.Auction{
		ID:          id,
		ProductID:   "p1",
		SellerID:    "seller",
		StartingBid: 100_000,
		StartTime:   f.clk.Now(),
		EndTime:     f.clk.Now().Add(time.Hour),
		Status:      store.StatusActive,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) createAccount(t *testing.T, id string, balance int64) {
	t.Helper()
	if err := f.repos.Accounts.Create(context.Background(), &store.Account{ID: id, Balance: balance}); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	acct, err := f.repos.Accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return acct.Balance
}

func TestEscrow_Join(t *testing.T) {
	f := newFixture(t)
	f.createAuction(t, "a1")
	f.createAccount(t, "u1", 20_000)
	ctx := context.Background()

	if err := f.escrow.Join(ctx, "a1", "u1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got := f.balance(t, "u1"); got != 20_000-joinFee {
		t.Errorf("balance = %d, want %d", got, 20_000-joinFee)
	}

	joined, err := f.repos.Participants.Exists(ctx, "a1", "u1")
	if err != nil || !joined {
		t.Errorf("Exists() = %v, %v; want true, nil", joined, err)
	}
}

// A second Join for the same pair must not charge a second fee.
func TestEscrow_JoinTwiceChargesOnce(t *testing.T) {
	f := newFixture(t)
	f.createAuction(t, "a1")
	f.createAccount(t, "u1", 20_000)
	ctx := context.Background()

	if err := f.escrow.Join(ctx, "a1", "u1"); err != nil {
		t.Fatalf("first Join() error = %v", err)
	}
	if err := f.escrow.Join(ctx, "a1", "u1"); err != nil {
		t.Fatalf("second Join() error = %v", err)
	}

	if got := f.balance(t, "u1"); got != 20_000-joinFee {
		t.Errorf("balance = %d, want %d", got, 20_000-joinFee)
	}
	records, _ := f.repos.Payments.ListByUser(ctx, "u1")
	if len(records) != 1 {
		t.Errorf("payment records = %d, want 1", len(records))
	}
}

func TestEscrow_JoinInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.createAuction(t, "a1")
	f.createAccount(t, "u1", joinFee-1)
	ctx := context.Background()

	err := f.escrow.Join(ctx, "a1", "u1")
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	joined, _ := f.repos.Participants.Exists(ctx, "a1", "u1")
	if joined {
		t.Error("participant recorded despite failed fee")
	}
}

func TestEscrow_JoinClosedAuction(t *testing.T) {
	f := newFixture(t)
	f.createAuction(t, "a1")
	f.createAccount(t, "u1", 20_000)
	ctx := context.Background()

	if err := f.repos.Auctions.CancelFrom(ctx, "a1", f.clk.Now(), store.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := f.escrow.Join(ctx, "a1", "u1"); !errors.Is(err, store.ErrAuctionClosed) {
		t.Fatalf("error = %v, want ErrAuctionClosed", err)
	}
	if got := f.balance(t, "u1"); got != 20_000 {
		t.Errorf("balance = %d, want untouched 20000", got)
	}
}

func TestEscrow_RefundAll(t *testing.T) {
	f := newFixture(t)
	f.createAuction(t, "a1")
	for _, id := range []string{"u1", "u2", "u3"} {
		f.createAccount(t, id, 20_000)
		if err := f.escrow.Join(context.Background(), "a1", id); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()

	refunded, err := f.escrow.RefundAll(ctx, "a1", "u2")
	if err != nil {
		t.Fatalf("RefundAll() error = %v", err)
	}
	if refunded != 2 {
		t.Errorf("refunded = %d, want 2", refunded)
	}

	for id, want := range map[string]int64{"u1": 20_000, "u2": 20_000 - joinFee, "u3": 20_000} {
		if got := f.balance(t, id); got != want {
			t.Errorf("balance[%s] = %d, want %d", id, got, want)
		}
	}
}

// A repeated sweep must not refund the same fee twice.
func TestEscrow_RefundAllIdempotent(t *testing.T) {
	f := newFixture(t)
	f.createAuction(t, "a1")
	f.createAccount(t, "u1", 20_000)
	ctx := context.Background()
	if err := f.escrow.Join(ctx, "a1", "u1"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.escrow.RefundAll(ctx, "a1", ""); err != nil {
		t.Fatal(err)
	}
	refunded, err := f.escrow.RefundAll(ctx, "a1", "")
	if err != nil {
		t.Fatal(err)
	}
	if refunded != 0 {
		t.Errorf("second sweep refunded = %d, want 0", refunded)
	}
	if got := f.balance(t, "u1"); got != 20_000 {
		t.Errorf("balance = %d, want 20000", got)
	}
}

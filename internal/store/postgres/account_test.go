package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/store"
	"github.com/gavelhouse/settlement/internal/store/postgres"
)

func TestAccountRepo_ApplyBalance(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAccountRepo(db, clock.Real{})
	payments := postgres.NewPaymentRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &store.Account{ID: "u1", Balance: 100}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, &store.Account{ID: "u1"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate create error = %v, want ErrAlreadyExists", err)
	}

	rec := &store.PaymentRecord{Amount: 60, Kind: store.KindWithdrawal}
	balance, err := repo.ApplyBalance(ctx, "u1", -60, rec)
	if err != nil {
		t.Fatalf("ApplyBalance: %v", err)
	}
	if balance != 40 {
		t.Errorf("balance = %d, want 40", balance)
	}
	if rec.ID == "" || rec.Status != store.PaymentSucceeded {
		t.Errorf("record not finalized: %+v", rec)
	}

	// Overdraft fails and writes no record.
	if _, err := repo.ApplyBalance(ctx, "u1", -41, &store.PaymentRecord{Amount: 41, Kind: store.KindWithdrawal}); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("overdraft error = %v, want ErrInsufficientFunds", err)
	}
	records, err := payments.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}

	if _, err := repo.ApplyBalance(ctx, "missing", 10, &store.PaymentRecord{Amount: 10, Kind: store.KindDeposit}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing account error = %v, want ErrNotFound", err)
	}
}

func TestAccountRepo_AdjustReputation(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAccountRepo(db, clock.Real{})
	ctx := context.Background()

	if err := repo.Create(ctx, &store.Account{ID: "u1", Reputation: 5}); err != nil {
		t.Fatal(err)
	}

	score, err := repo.AdjustReputation(ctx, "u1", -10)
	if err != nil {
		t.Fatalf("AdjustReputation: %v", err)
	}
	if score != 0 {
		t.Errorf("score = %d, want clamped to 0", score)
	}

	score, err = repo.AdjustReputation(ctx, "u1", 7)
	if err != nil {
		t.Fatal(err)
	}
	if score != 7 {
		t.Errorf("score = %d, want 7", score)
	}

	if _, err := repo.AdjustReputation(ctx, "missing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing account error = %v, want ErrNotFound", err)
	}
}

func TestPaymentRepo_ListByCorrelation(t *testing.T) {
	db := newTestDB(t)
	accounts := postgres.NewAccountRepo(db, clock.Real{})
	payments := postgres.NewPaymentRepo(db)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		if err := accounts.Create(ctx, &store.Account{ID: id, Balance: 1000}); err != nil {
			t.Fatal(err)
		}
	}
	corr := "auction-1"
	for _, id := range []string{"u1", "u2"} {
		rec := &store.PaymentRecord{Amount: 50, Kind: store.KindParticipationFee, CorrelationID: &corr}
		if _, err := accounts.ApplyBalance(ctx, id, -50, rec); err != nil {
			t.Fatal(err)
		}
	}
	// Unrelated record.
	if _, err := accounts.ApplyBalance(ctx, "u1", 10, &store.PaymentRecord{Amount: 10, Kind: store.KindDeposit}); err != nil {
		t.Fatal(err)
	}

	records, err := payments.ListByCorrelation(ctx, corr)
	if err != nil {
		t.Fatalf("ListByCorrelation: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestSettingsRepo(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewSettingsRepo(db)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "min_step"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing key error = %v, want ErrNotFound", err)
	}
	if err := repo.Set(ctx, "min_step", 25_000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Upsert overwrites.
	if err := repo.Set(ctx, "min_step", 30_000); err != nil {
		t.Fatalf("second Set: %v", err)
	}
	v, err := repo.Get(ctx, "min_step")
	if err != nil || v != 30_000 {
		t.Fatalf("Get = %d, %v; want 30000, nil", v, err)
	}
}

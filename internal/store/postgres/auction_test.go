package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/store"
	"github.com/gavelhouse/settlement/internal/store/postgres"
)

func seedAuction(t *testing.T, db *sqlx.DB, repo *postgres.AuctionRepo, bidders ...string) *store.Auction {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond) // timestamptz resolution
	a := &store.Auction{
		ProductID:   "prod-1",
		SellerID:    "seller",
		StartingBid: 100_000,
		StartTime:   now,
		EndTime:     now.Add(time.Hour),
		Status:      store.StatusActive,
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	participants := postgres.NewParticipantRepo(db, clock.Real{})
	for _, b := range bidders {
		if err := participants.Create(ctx, &store.Participant{AuctionID: a.ID, UserID: b}); err != nil {
			t.Fatalf("joining %s: %v", b, err)
		}
	}
	return a
}

func admission(a *store.Auction, bidder string, amount int64, now time.Time) store.BidAdmission {
	return store.BidAdmission{
		AuctionID:      a.ID,
		BidderID:       bidder,
		Amount:         amount,
		MinStep:        10_000,
		SnipeWindow:    2 * time.Minute,
		SnipeExtension: 2 * time.Minute,
		Now:            now,
	}
}

func TestAuctionRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()

	a := seedAuction(t, db, repo)
	if a.ID == "" {
		t.Fatal("expected ID to be set after Create")
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != store.StatusActive || got.SellerID != "seller" {
		t.Errorf("got %+v", got)
	}

	if _, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing auction error = %v, want ErrNotFound", err)
	}
}

func TestAuctionRepo_AdmitBid(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()
	a := seedAuction(t, db, repo, "b1", "b2")
	now := time.Now().UTC()

	if _, err := repo.AdmitBid(ctx, admission(a, "outsider", 100_000, now)); !errors.Is(err, store.ErrNotParticipant) {
		t.Errorf("outsider error = %v, want ErrNotParticipant", err)
	}
	if _, err := repo.AdmitBid(ctx, admission(a, "b1", 99_999, now)); !errors.Is(err, store.ErrBidTooLow) {
		t.Errorf("low bid error = %v, want ErrBidTooLow", err)
	}

	outcome, err := repo.AdmitBid(ctx, admission(a, "b1", 100_000, now))
	if err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if outcome.Bid.ID == "" || outcome.PreviousHighBidder != "" {
		t.Errorf("outcome = %+v", outcome)
	}

	if _, err := repo.AdmitBid(ctx, admission(a, "b1", 120_000, now)); !errors.Is(err, store.ErrAlreadyHighestBidder) {
		t.Errorf("self-raise error = %v, want ErrAlreadyHighestBidder", err)
	}
	if _, err := repo.AdmitBid(ctx, admission(a, "b2", 105_000, now)); !errors.Is(err, store.ErrBidTooLow) {
		t.Errorf("short raise error = %v, want ErrBidTooLow", err)
	}

	outcome, err = repo.AdmitBid(ctx, admission(a, "b2", 110_000, now))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if outcome.PreviousHighBidder != "b1" {
		t.Errorf("previous bidder = %q, want b1", outcome.PreviousHighBidder)
	}
}

func TestAuctionRepo_AdmitBid_AntiSnipe(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()
	a := seedAuction(t, db, repo, "b1")

	// Bid one minute before the deadline.
	bidTime := a.EndTime.Add(-time.Minute)
	outcome, err := repo.AdmitBid(ctx, admission(a, "b1", 100_000, bidTime))
	if err != nil {
		t.Fatalf("AdmitBid: %v", err)
	}
	if !outcome.Extended {
		t.Fatal("bid inside snipe window did not extend")
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := bidTime.Add(2 * time.Minute)
	if !got.EndTime.Equal(want) {
		t.Errorf("stored end time = %v, want %v", got.EndTime, want)
	}
}

// An extension shorter than the remaining time must leave the deadline alone.
func TestAuctionRepo_AdmitBid_AntiSnipeNeverShortens(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()
	a := seedAuction(t, db, repo, "b1")

	adm := admission(a, "b1", 100_000, a.EndTime.Add(-90*time.Second))
	adm.SnipeExtension = 30 * time.Second
	outcome, err := repo.AdmitBid(ctx, adm)
	if err != nil {
		t.Fatalf("AdmitBid: %v", err)
	}
	if outcome.Extended {
		t.Error("bid reported an extension that would have shortened the deadline")
	}
	if !outcome.EndTime.Equal(a.EndTime) {
		t.Errorf("outcome end time = %v, want unchanged %v", outcome.EndTime, a.EndTime)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EndTime.Equal(a.EndTime) {
		t.Errorf("stored end time = %v, want unchanged %v", got.EndTime, a.EndTime)
	}
}

// Concurrent bids at the same amount serialize on the row lock; exactly one
// lands.
func TestAuctionRepo_AdmitBid_Concurrent(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()
	a := seedAuction(t, db, repo, "b1", "b2")
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, bidder := range []string{"b1", "b2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.AdmitBid(ctx, admission(a, bidder, 100_000, now))
		}()
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if !errors.Is(err, store.ErrBidTooLow) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}
}

func TestAuctionRepo_Transitions(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()
	a := seedAuction(t, db, repo)
	now := time.Now().UTC()

	if err := repo.TransitionToWaiting(ctx, a.ID, "b1", now); err != nil {
		t.Fatalf("TransitionToWaiting: %v", err)
	}
	if err := repo.TransitionToWaiting(ctx, a.ID, "b1", now); !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Errorf("repeat transition error = %v, want ErrAlreadyProcessed", err)
	}

	got, _ := repo.GetByID(ctx, a.ID)
	if got.WinningBidderID == nil || *got.WinningBidderID != "b1" {
		t.Fatalf("winner = %v, want b1", got.WinningBidderID)
	}

	if err := repo.TransitionToEnded(ctx, a.ID, now); err != nil {
		t.Fatalf("TransitionToEnded: %v", err)
	}
	if err := repo.TransitionToEnded(ctx, a.ID, now); !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Errorf("repeat end error = %v, want ErrAlreadyProcessed", err)
	}
}

func TestAuctionRepo_CancelFromClearsWinner(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()
	a := seedAuction(t, db, repo)
	now := time.Now().UTC()

	if err := repo.TransitionToWaiting(ctx, a.ID, "b1", now); err != nil {
		t.Fatal(err)
	}
	if err := repo.CancelFrom(ctx, a.ID, now, store.StatusWaiting); err != nil {
		t.Fatalf("CancelFrom: %v", err)
	}

	got, _ := repo.GetByID(ctx, a.ID)
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if got.WinningBidderID != nil {
		t.Errorf("winner = %v after cancel, want NULL", got.WinningBidderID)
	}
	if got.ClosedAt == nil {
		t.Error("closed_at not set")
	}

	if err := repo.CancelFrom(ctx, a.ID, now, store.StatusActive, store.StatusWaiting); !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Errorf("repeat cancel error = %v, want ErrAlreadyProcessed", err)
	}
}

func TestAuctionRepo_Listings(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()
	now := time.Now().UTC()

	due1 := seedAuction(t, db, repo)
	due2 := seedAuction(t, db, repo)
	waiting := seedAuction(t, db, repo)
	if err := repo.TransitionToWaiting(ctx, waiting.ID, "b1", now); err != nil {
		t.Fatal(err)
	}

	later := now.Add(2 * time.Hour)
	dueList, err := repo.ListDueActive(ctx, later)
	if err != nil {
		t.Fatalf("ListDueActive: %v", err)
	}
	ids := map[string]bool{}
	for _, a := range dueList {
		ids[a.ID] = true
	}
	if !ids[due1.ID] || !ids[due2.ID] || ids[waiting.ID] {
		t.Errorf("due list = %v", ids)
	}

	overdue, err := repo.ListOverdueWaiting(ctx, later)
	if err != nil {
		t.Fatalf("ListOverdueWaiting: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != waiting.ID {
		t.Errorf("overdue = %+v, want only the waiting auction", overdue)
	}
}

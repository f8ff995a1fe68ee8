// Package memstore provides an in-memory store.Driver registered as "memory".
// It backs unit tests and local development; the coarse lock keeps every
// operation serialized, which trivially satisfies the per-auction and
// per-account single-writer requirements.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/config"
	"github.com/gavelhouse/settlement/internal/event"
	"github.com/gavelhouse/settlement/internal/store"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return New(clk).Repositories(), nil
}

// Store holds all in-memory state. The repository views returned by
// Repositories share it.
type Store struct {
	mu sync.Mutex

	clk clock.Clock

	auctions     map[string]*store.Auction
	bids         map[string][]store.Bid
	participants map[string]map[string]store.Participant
	accounts     map[string]*store.Account
	payments     []store.PaymentRecord
	settings     map[string]int64
	events       []event.Event
}

// New returns an empty Store using the given clock.
func New(clk clock.Clock) *Store {
	return &Store{
		clk:          clk,
		auctions:     make(map[string]*store.Auction),
		bids:         make(map[string][]store.Bid),
		participants: make(map[string]map[string]store.Participant),
		accounts:     make(map[string]*store.Account),
		settings:     make(map[string]int64),
	}
}

// Repositories exposes the store as a driver result.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Auctions:     &auctionRepo{s},
		Bids:         &bidRepo{s},
		Participants: &participantRepo{s},
		Accounts:     &accountRepo{s},
		Payments:     &paymentRepo{s},
		Settings:     &settingsRepo{s},
		Events:       &eventStore{s},
		Closer:       closerFunc(func() error { return nil }),
		Ping:         func(context.Context) error { return nil },
	}
}

// --- auctions ---

type auctionRepo struct{ s *Store }

func (r *auctionRepo) Create(_ context.Context, a *store.Auction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, ok := r.s.auctions[a.ID]; ok {
		return store.ErrAlreadyExists
	}
	a.CreatedAt = r.s.clk.Now().UTC()
	cp := *a
	r.s.auctions[a.ID] = &cp
	return nil
}

func (r *auctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *auctionRepo) AdmitBid(_ context.Context, adm store.BidAdmission) (*store.BidOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[adm.AuctionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status != store.StatusActive {
		return nil, store.ErrAuctionClosed
	}
	if !adm.Now.Before(a.EndTime) {
		return nil, store.ErrAuctionClosed
	}
	if _, joined := r.s.participants[adm.AuctionID][adm.BidderID]; !joined {
		return nil, store.ErrNotParticipant
	}

	var prev string
	bids := r.s.bids[adm.AuctionID]
	if len(bids) > 0 {
		highest := bids[len(bids)-1]
		if highest.BidderID == adm.BidderID {
			return nil, store.ErrAlreadyHighestBidder
		}
		if adm.Amount < highest.Amount+adm.MinStep {
			return nil, store.ErrBidTooLow
		}
		prev = highest.BidderID
	} else if adm.Amount < a.StartingBid {
		return nil, store.ErrBidTooLow
	}

	bid := store.Bid{
		ID:        uuid.NewString(),
		AuctionID: adm.AuctionID,
		BidderID:  adm.BidderID,
		Amount:    adm.Amount,
		CreatedAt: adm.Now.UTC(),
	}
	r.s.bids[adm.AuctionID] = append(bids, bid)

	extended := false
	// The extension may only push the deadline out, never pull it in.
	if newEnd := adm.Now.Add(adm.SnipeExtension); a.EndTime.Sub(adm.Now) < adm.SnipeWindow && newEnd.After(a.EndTime) {
		a.EndTime = newEnd
		extended = true
	}

	return &store.BidOutcome{
		Bid:                bid,
		CurrentPrice:       bid.Amount,
		Extended:           extended,
		EndTime:            a.EndTime,
		PreviousHighBidder: prev,
	}, nil
}

func (r *auctionRepo) TransitionToWaiting(_ context.Context, id, winnerID string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != store.StatusActive {
		return store.ErrAlreadyProcessed
	}
	a.Status = store.StatusWaiting
	a.WinningBidderID = &winnerID
	return nil
}

func (r *auctionRepo) TransitionToEnded(_ context.Context, id string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != store.StatusWaiting {
		return store.ErrAlreadyProcessed
	}
	a.Status = store.StatusEnded
	closed := now.UTC()
	a.ClosedAt = &closed
	return nil
}

func (r *auctionRepo) CancelFrom(_ context.Context, id string, now time.Time, from ...string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return store.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if a.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return store.ErrAlreadyProcessed
	}
	a.Status = store.StatusCancelled
	// Cancelled auctions have no winner.
	a.WinningBidderID = nil
	closed := now.UTC()
	a.ClosedAt = &closed
	return nil
}

func (r *auctionRepo) ListDueActive(_ context.Context, now time.Time) ([]store.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Auction
	for _, a := range r.s.auctions {
		if a.Status == store.StatusActive && !now.Before(a.EndTime) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *auctionRepo) ListOverdueWaiting(_ context.Context, cutoff time.Time) ([]store.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Auction
	for _, a := range r.s.auctions {
		if a.Status == store.StatusWaiting && a.EndTime.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// --- bids ---

type bidRepo struct{ s *Store }

func (r *bidRepo) ListByAuction(_ context.Context, auctionID string) ([]store.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	bids := r.s.bids[auctionID]
	out := make([]store.Bid, len(bids))
	copy(out, bids)
	return out, nil
}

func (r *bidRepo) Highest(_ context.Context, auctionID string) (*store.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	bids := r.s.bids[auctionID]
	if len(bids) == 0 {
		return nil, store.ErrNotFound
	}
	cp := bids[len(bids)-1]
	return &cp, nil
}

// --- participants ---

type participantRepo struct{ s *Store }

func (r *participantRepo) Create(_ context.Context, p *store.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byUser, ok := r.s.participants[p.AuctionID]
	if !ok {
		byUser = make(map[string]store.Participant)
		r.s.participants[p.AuctionID] = byUser
	}
	if _, exists := byUser[p.UserID]; exists {
		return store.ErrAlreadyExists
	}
	p.CreatedAt = r.s.clk.Now().UTC()
	byUser[p.UserID] = *p
	return nil
}

func (r *participantRepo) Exists(_ context.Context, auctionID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, ok := r.s.participants[auctionID][userID]
	return ok, nil
}

func (r *participantRepo) ListByAuction(_ context.Context, auctionID string) ([]store.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Participant
	for _, p := range r.s.participants[auctionID] {
		out = append(out, p)
	}
	return out, nil
}

// --- accounts ---

type accountRepo struct{ s *Store }

func (r *accountRepo) Create(_ context.Context, a *store.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.accounts[a.ID]; ok {
		return store.ErrAlreadyExists
	}
	now := r.s.clk.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	r.s.accounts[a.ID] = &cp
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id string) (*store.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepo) ApplyBalance(_ context.Context, userID string, delta int64, p *store.PaymentRecord) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if a.Balance+delta < 0 {
		return 0, store.ErrInsufficientFunds
	}
	a.Balance += delta
	a.UpdatedAt = r.s.clk.Now().UTC()

	rec := *p
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UserID = userID
	rec.Status = store.PaymentSucceeded
	rec.CreatedAt = r.s.clk.Now().UTC()
	r.s.payments = append(r.s.payments, rec)
	*p = rec

	return a.Balance, nil
}

func (r *accountRepo) AdjustReputation(_ context.Context, userID string, delta int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	a.Reputation += delta
	if a.Reputation < 0 {
		a.Reputation = 0
	}
	a.UpdatedAt = r.s.clk.Now().UTC()
	return a.Reputation, nil
}

// --- payments ---

type paymentRepo struct{ s *Store }

func (r *paymentRepo) ListByUser(_ context.Context, userID string) ([]store.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.PaymentRecord
	for _, p := range r.s.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *paymentRepo) ListByCorrelation(_ context.Context, correlationID string) ([]store.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.PaymentRecord
	for _, p := range r.s.payments {
		if p.CorrelationID != nil && *p.CorrelationID == correlationID {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- settings ---

type settingsRepo struct{ s *Store }

func (r *settingsRepo) Get(_ context.Context, key string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.settings[key]
	if !ok {
		return 0, store.ErrNotFound
	}
	return v, nil
}

func (r *settingsRepo) Set(_ context.Context, key string, value int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.settings[key] = value
	return nil
}

// --- events ---

type eventStore struct{ s *Store }

func (r *eventStore) Append(_ context.Context, events ...event.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range events {
		e.ID = uuid.NewString()
		e.CreatedAt = r.s.clk.Now().UTC()
		r.s.events = append(r.s.events, e)
	}
	return nil
}

func (r *eventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []event.Event
	for _, e := range r.s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *eventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []event.Event
	for _, e := range r.s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

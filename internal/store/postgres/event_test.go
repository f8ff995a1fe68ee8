package postgres_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gavelhouse/settlement/internal/event"
	"github.com/gavelhouse/settlement/internal/store/postgres"
)

func TestEventStore_AppendAndLoad(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	aggID := "auction-001"
	events := []event.Event{
		{AggregateID: aggID, Type: event.AuctionCreated, Data: json.RawMessage(`{"title":"Vintage Lamp"}`), Version: 1},
		{AggregateID: aggID, Type: event.AuctionBidPlaced, Data: json.RawMessage(`{"bidder_id":"u1","amount":100000}`), Version: 2},
	}

	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := es.Load(ctx, aggID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load returned %d events, want 2", len(loaded))
	}

	// Should come back in append order.
	if loaded[0].Type != event.AuctionCreated || loaded[1].Type != event.AuctionBidPlaced {
		t.Errorf("types = [%s, %s], want [%s, %s]",
			loaded[0].Type, loaded[1].Type, event.AuctionCreated, event.AuctionBidPlaced)
	}
	if loaded[0].ID == "" || loaded[0].CreatedAt.IsZero() {
		t.Error("expected id and created_at to be populated")
	}

	var data struct {
		BidderID string `json:"bidder_id"`
		Amount   int64  `json:"amount"`
	}
	if err := json.Unmarshal(loaded[1].Data, &data); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if data.BidderID != "u1" || data.Amount != 100000 {
		t.Errorf("payload = %+v, want bidder u1 amount 100000", data)
	}
}

func TestEventStore_LoadByType(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	events := []event.Event{
		{AggregateID: "a1", Type: event.AuctionCreated, Data: json.RawMessage(`{}`), Version: 1},
		{AggregateID: "a1", Type: event.AuctionBidPlaced, Data: json.RawMessage(`{}`), Version: 2},
		{AggregateID: "a2", Type: event.AuctionCreated, Data: json.RawMessage(`{}`), Version: 1},
	}

	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	created, err := es.LoadByType(ctx, event.AuctionCreated)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("LoadByType(AuctionCreated) returned %d, want 2", len(created))
	}

	bids, err := es.LoadByType(ctx, event.AuctionBidPlaced)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("LoadByType(AuctionBidPlaced) returned %d, want 1", len(bids))
	}
}

func TestEventStore_LoadEmpty(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	loaded, err := es.Load(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty slice, got %d events", len(loaded))
	}
}

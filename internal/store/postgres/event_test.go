package postgres_test

import (
	"context"
	"testing"

	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store/postgres"
)

func TestEventStore_AppendAndLoad(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	events := []event.Event{
		{AggregateID: "auction-1", Type: event.AuctionStarted, Data: []byte(`{"item":"Thunderfury"}`), Version: 1},
		{AggregateID: "auction-1", Type: event.AuctionBidPlaced, Data: []byte(`{"amount":60}`), Version: 2},
		{AggregateID: "auction-2", Type: event.AuctionStarted, Data: []byte(`{"item":"Tear"}`), Version: 1},
	}
	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := es.Load(ctx, "auction-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d events, want 2", len(got))
	}
	if got[0].Version != 1 || got[1].Version != 2 {
		t.Errorf("events out of version order: %+v", got)
	}

	byType, err := es.LoadByType(ctx, event.AuctionStarted)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("loaded %d started events, want 2", len(byType))
	}
}

func TestEventStore_Load_Empty(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)

	got, err := es.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("loaded %d events, want 0", len(got))
	}
}

package strategy_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
)

func newCouncil(loot *mockLootRepo, ledger *mockLedger, es *mockEventStore) *strategy.LootCouncil {
	return strategy.NewLootCouncil(loot, ledger, es, event.NopPublisher{}, clock.Real{}, slog.Default(), testTP)
}

func TestLootCouncil_OpenDecisionAndAward(t *testing.T) {
	loot := newMockLootRepo()
	ledger := newMockLedger()
	ledger.seed("u1", 0, decimal.Zero, decimal.Zero)
	es := &mockEventStore{}
	s := newCouncil(loot, ledger, es)
	officer := store.Actor{UserID: "officer", Role: store.RoleOfficer}

	d, err := s.OpenDecision(context.Background(), "Neltharion's Tear", officer)
	if err != nil {
		t.Fatalf("OpenDecision() error = %v", err)
	}
	if d.Status != store.DecisionOpen {
		t.Errorf("status = %q, want open", d.Status)
	}

	_, err = s.AwardItem(context.Background(), strategy.ItemAward{
		WinnerUserID: "u1",
		ItemName:     "Neltharion's Tear",
		DecisionID:   d.ID,
		Actor:        officer,
	})
	if err != nil {
		t.Fatalf("AwardItem() error = %v", err)
	}

	got, _ := loot.GetDecision(context.Background(), d.ID)
	if got.Status != store.DecisionDecided {
		t.Errorf("status = %q, want decided", got.Status)
	}
	if len(es.events) != 1 || es.events[0].Type != event.LootDecided {
		t.Errorf("events = %+v, want one loot.decided", es.events)
	}
}

func TestLootCouncil_AwardItem_Forbidden(t *testing.T) {
	s := newCouncil(newMockLootRepo(), newMockLedger(), &mockEventStore{})

	_, err := s.AwardItem(context.Background(), strategy.ItemAward{
		WinnerUserID: "u1",
		DecisionID:   "d1",
		Actor:        store.Actor{UserID: "u2", Role: store.RoleMember},
	})
	if !errors.Is(err, store.ErrForbidden) {
		t.Errorf("AwardItem() error = %v, want ErrForbidden", err)
	}
}

func TestLootCouncil_AwardItem_DecidedTwice(t *testing.T) {
	loot := newMockLootRepo()
	ledger := newMockLedger()
	ledger.seed("u1", 0, decimal.Zero, decimal.Zero)
	s := newCouncil(loot, ledger, &mockEventStore{})
	officer := store.Actor{UserID: "officer", Role: store.RoleOfficer}

	d, _ := s.OpenDecision(context.Background(), "Item", officer)
	award := strategy.ItemAward{WinnerUserID: "u1", ItemName: "Item", DecisionID: d.ID, Actor: officer}

	if _, err := s.AwardItem(context.Background(), award); err != nil {
		t.Fatalf("first AwardItem() error = %v", err)
	}
	_, err := s.AwardItem(context.Background(), award)
	if !errors.Is(err, store.ErrDecisionClosed) {
		t.Errorf("second AwardItem() error = %v, want ErrDecisionClosed", err)
	}
}

func TestLootCouncil_Priority_FewestItemsFirst(t *testing.T) {
	loot := newMockLootRepo()
	ledger := newMockLedger()
	m1 := ledger.seed("u1", 0, decimal.Zero, decimal.Zero)
	ledger.seed("u2", 0, decimal.Zero, decimal.Zero)
	loot.counts[m1.ID] = 2
	s := newCouncil(loot, ledger, &mockEventStore{})

	p1, err := s.Priority(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Priority() error = %v", err)
	}
	p2, err := s.Priority(context.Background(), "u2")
	if err != nil {
		t.Fatalf("Priority() error = %v", err)
	}
	if p1 >= p2 {
		t.Errorf("priority: u1 (2 items) = %v should rank below u2 (0 items) = %v", p1, p2)
	}
}

func TestLootCouncil_Respond(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  error
	}{
		{name: "bis", response: "bis"},
		{name: "pass", response: "pass"},
		{name: "invalid", response: "maybe", wantErr: store.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loot := newMockLootRepo()
			ledger := newMockLedger()
			ledger.seed("u1", 0, decimal.Zero, decimal.Zero)
			s := newCouncil(loot, ledger, &mockEventStore{})
			officer := store.Actor{UserID: "officer", Role: store.RoleOfficer}

			d, _ := s.OpenDecision(context.Background(), "Item", officer)
			err := s.Respond(context.Background(), d.ID, "u1", tt.response)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Respond() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLootCouncil_Respond_ClosedDecision(t *testing.T) {
	loot := newMockLootRepo()
	ledger := newMockLedger()
	ledger.seed("u1", 0, decimal.Zero, decimal.Zero)
	s := newCouncil(loot, ledger, &mockEventStore{})
	officer := store.Actor{UserID: "officer", Role: store.RoleOfficer}

	d, _ := s.OpenDecision(context.Background(), "Item", officer)
	_, _ = s.AwardItem(context.Background(), strategy.ItemAward{
		WinnerUserID: "u1", ItemName: "Item", DecisionID: d.ID, Actor: officer,
	})

	err := s.Respond(context.Background(), d.ID, "u1", "bis")
	if !errors.Is(err, store.ErrDecisionClosed) {
		t.Errorf("Respond() error = %v, want ErrDecisionClosed", err)
	}
}

func TestLootCouncil_Vote(t *testing.T) {
	loot := newMockLootRepo()
	ledger := newMockLedger()
	ledger.seed("officer", 0, decimal.Zero, decimal.Zero)
	ledger.seed("u1", 0, decimal.Zero, decimal.Zero)
	s := newCouncil(loot, ledger, &mockEventStore{})
	officer := store.Actor{UserID: "officer", Role: store.RoleOfficer}

	d, _ := s.OpenDecision(context.Background(), "Item", officer)

	if err := s.Vote(context.Background(), d.ID, "u1", "approve", officer); err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	// Re-voting replaces the previous vote.
	if err := s.Vote(context.Background(), d.ID, "u1", "reject", officer); err != nil {
		t.Fatalf("re-Vote() error = %v", err)
	}
	votes, _ := loot.Votes(context.Background(), d.ID)
	if len(votes) != 1 {
		t.Fatalf("votes = %d, want 1", len(votes))
	}
	if votes[0].Vote != "reject" {
		t.Errorf("vote = %q, want %q", votes[0].Vote, "reject")
	}
}

func TestLootCouncil_Vote_Validation(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("officer", 0, decimal.Zero, decimal.Zero)
	s := newCouncil(newMockLootRepo(), ledger, &mockEventStore{})

	err := s.Vote(context.Background(), "d1", "u1", "approve", store.Actor{UserID: "u1", Role: store.RoleMember})
	if !errors.Is(err, store.ErrForbidden) {
		t.Errorf("member vote error = %v, want ErrForbidden", err)
	}

	err = s.Vote(context.Background(), "d1", "u1", "abstain", store.Actor{UserID: "officer", Role: store.RoleOfficer})
	if !errors.Is(err, store.ErrInvalidVote) {
		t.Errorf("invalid vote error = %v, want ErrInvalidVote", err)
	}
}

func TestLootCouncil_ApplyDecay_NoOp(t *testing.T) {
	s := newCouncil(newMockLootRepo(), newMockLedger(), &mockEventStore{})

	n, err := s.ApplyDecay(context.Background(), 10, store.Actor{UserID: "admin", Role: store.RoleAdmin})
	if err != nil {
		t.Fatalf("ApplyDecay() error = %v", err)
	}
	if n != 0 {
		t.Errorf("affected = %d, want 0", n)
	}
}

func TestLootCouncil_RaidCreditPlan_Nil(t *testing.T) {
	s := newCouncil(newMockLootRepo(), newMockLedger(), &mockEventStore{})

	plan, err := s.RaidCreditPlan(context.Background())
	if err != nil {
		t.Fatalf("RaidCreditPlan() error = %v", err)
	}
	if plan != nil {
		t.Errorf("plan = %+v, want nil", plan)
	}
}

func TestLootCouncil_SettlementCharge_Nil(t *testing.T) {
	s := newCouncil(newMockLootRepo(), newMockLedger(), &mockEventStore{})

	charge, err := s.SettlementCharge(context.Background(), &store.Auction{ItemName: "Item"})
	if err != nil {
		t.Fatalf("SettlementCharge() error = %v", err)
	}
	if charge != nil {
		t.Errorf("charge = %+v, want nil", charge)
	}
}

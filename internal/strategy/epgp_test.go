package strategy_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
)

func newEPGP(ledger *mockLedger, settings *mockSettings) *strategy.EPGP {
	return strategy.NewEPGP(ledger, settings, &mockEventStore{}, event.NopPublisher{}, slog.Default(), testTP)
}

func TestEPGP_Priority(t *testing.T) {
	tests := []struct {
		name string
		ep   string
		gp   string
		want float64
	}{
		{name: "normal ratio", ep: "100", gp: "50", want: 2},
		{name: "zero GP floors at one", ep: "100", gp: "0", want: 100},
		{name: "fractional GP floors at one", ep: "100", gp: "0.5", want: 100},
		{name: "fresh member", ep: "0", gp: "0", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMockLedger()
			ep, _ := decimal.NewFromString(tt.ep)
			gp, _ := decimal.NewFromString(tt.gp)
			ledger.seed("u1", 0, ep, gp)
			s := newEPGP(ledger, newMockSettings())

			got, err := s.Priority(context.Background(), "u1")
			if err != nil {
				t.Fatalf("Priority() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("priority = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEPGP_AwardItem_RarityDefaults(t *testing.T) {
	tests := []struct {
		name   string
		rarity string
		wantGP int64
	}{
		{name: "legendary", rarity: "legendary", wantGP: 120},
		{name: "epic", rarity: "epic", wantGP: 80},
		{name: "rare", rarity: "rare", wantGP: 50},
		{name: "unknown rarity", rarity: "common", wantGP: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMockLedger()
			ledger.seed("u1", 0, decimal.NewFromInt(100), decimal.Zero)
			s := newEPGP(ledger, newMockSettings())

			res, err := s.AwardItem(context.Background(), strategy.ItemAward{
				WinnerUserID: "u1",
				ItemName:     "Some Item",
				Rarity:       tt.rarity,
				Actor:        store.Actor{UserID: "officer", Role: store.RoleOfficer},
			})
			if err != nil {
				t.Fatalf("AwardItem() error = %v", err)
			}
			if !res.NewGP.Equal(decimal.NewFromInt(tt.wantGP)) {
				t.Errorf("NewGP = %s, want %d", res.NewGP, tt.wantGP)
			}
		})
	}
}

func TestEPGP_AwardItem_SlotOverride(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("u1", 0, decimal.NewFromInt(100), decimal.Zero)
	settings := newMockSettings()
	settings.values["epgp.gp.weapon"] = "95.5"
	s := newEPGP(ledger, settings)

	res, err := s.AwardItem(context.Background(), strategy.ItemAward{
		WinnerUserID: "u1",
		ItemName:     "Gressil",
		Rarity:       "epic",
		Slot:         "weapon",
		Actor:        store.Actor{UserID: "officer", Role: store.RoleOfficer},
	})
	if err != nil {
		t.Fatalf("AwardItem() error = %v", err)
	}
	want, _ := decimal.NewFromString("95.5")
	if !res.NewGP.Equal(want) {
		t.Errorf("NewGP = %s, want 95.5", res.NewGP)
	}
}

func TestEPGP_AwardItem_ChangesPriority(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("u1", 0, decimal.NewFromInt(100), decimal.Zero)
	s := newEPGP(ledger, newMockSettings())

	before, _ := s.Priority(context.Background(), "u1")
	if before != 100 {
		t.Fatalf("priority before = %v, want 100", before)
	}

	_, err := s.AwardItem(context.Background(), strategy.ItemAward{
		WinnerUserID: "u1",
		ItemName:     "Ring",
		Rarity:       "rare",
		Actor:        store.Actor{UserID: "officer", Role: store.RoleOfficer},
	})
	if err != nil {
		t.Fatalf("AwardItem() error = %v", err)
	}

	after, _ := s.Priority(context.Background(), "u1")
	if after != 2 {
		t.Errorf("priority after = %v, want 2 (100 EP / 50 GP)", after)
	}
}

func TestEPGP_ApplyDecay(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("u1", 0, decimal.NewFromInt(100), decimal.NewFromInt(40))
	s := newEPGP(ledger, newMockSettings())

	n, err := s.ApplyDecay(context.Background(), 10, store.Actor{UserID: "admin", Role: store.RoleAdmin})
	if err != nil {
		t.Fatalf("ApplyDecay() error = %v", err)
	}
	if n != 1 {
		t.Errorf("affected = %d, want 1", n)
	}
	if !ledger.members["u1"].EP.Equal(decimal.NewFromInt(90)) {
		t.Errorf("EP = %s, want 90", ledger.members["u1"].EP)
	}
	if !ledger.members["u1"].GP.Equal(decimal.NewFromInt(36)) {
		t.Errorf("GP = %s, want 36", ledger.members["u1"].GP)
	}
}

func TestEPGP_Leaderboard_SortedByRatio(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("low", 0, decimal.NewFromInt(50), decimal.NewFromInt(100))
	ledger.seed("high", 0, decimal.NewFromInt(200), decimal.NewFromInt(50))
	s := newEPGP(ledger, newMockSettings())

	standings, err := s.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(standings) != 2 {
		t.Fatalf("standings = %d, want 2", len(standings))
	}
	if standings[0].UserID != "high" {
		t.Errorf("top = %q, want %q", standings[0].UserID, "high")
	}
}

func TestEPGP_SettlementCharge(t *testing.T) {
	settings := newMockSettings()
	settings.values["epgp.gp.weapon"] = "95"
	s := newEPGP(newMockLedger(), settings)

	tests := []struct {
		name   string
		rarity string
		slot   string
		want   int64
	}{
		{name: "slot override wins", rarity: "epic", slot: "weapon", want: 95},
		{name: "rarity default", rarity: "epic", slot: "trinket", want: 80},
		{name: "unknown rarity falls back", rarity: "common", slot: "", want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charge, err := s.SettlementCharge(context.Background(), &store.Auction{
				ItemName:   "Item",
				ItemRarity: tt.rarity,
				ItemSlot:   tt.slot,
			})
			if err != nil {
				t.Fatalf("SettlementCharge() error = %v", err)
			}
			if charge.Currency != store.CurrencyGP {
				t.Errorf("currency = %s, want gp", charge.Currency)
			}
			if !charge.GPValue.Equal(decimal.NewFromInt(tt.want)) {
				t.Errorf("GP value = %s, want %d", charge.GPValue, tt.want)
			}
		})
	}
}

func TestEPGP_RaidCreditPlan(t *testing.T) {
	s := newEPGP(newMockLedger(), newMockSettings())

	plan, err := s.RaidCreditPlan(context.Background())
	if err != nil {
		t.Fatalf("RaidCreditPlan() error = %v", err)
	}
	if plan.Currency != store.CurrencyEP {
		t.Errorf("currency = %s, want ep", plan.Currency)
	}
	if plan.Cap != 0 {
		t.Errorf("cap = %d, want 0 (uncapped)", plan.Cap)
	}
}

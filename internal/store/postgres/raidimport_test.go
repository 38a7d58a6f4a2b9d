package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/store/postgres"
)

var dkpPlan = &store.CreditPlan{Currency: store.CurrencyDKP, Cap: 250}

func TestRaidImportRepo_Confirm(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewRaidImportRepo(db, clock.Real{})
	ledger := postgres.NewLedgerRepo(db, clock.Real{})
	ctx := context.Background()

	participants := []store.RaidParticipant{
		{UserID: "u1", Amount: 50},
		{UserID: "u2", Amount: 50},
	}

	rec, err := repo.Confirm(ctx, "report-1", participants, dkpPlan, "officer-1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if rec.Strategy != "dkp" {
		t.Errorf("strategy = %q, want dkp", rec.Strategy)
	}
	if !rec.TotalAwarded.Equal(decimal.NewFromInt(100)) {
		t.Errorf("total = %s, want 100", rec.TotalAwarded)
	}

	for _, userID := range []string{"u1", "u2"} {
		m, err := ledger.GetMember(ctx, userID)
		if err != nil {
			t.Fatalf("GetMember(%s): %v", userID, err)
		}
		if m.DKP != 50 {
			t.Errorf("%s DKP = %d, want 50", userID, m.DKP)
		}
	}
}

func TestRaidImportRepo_Confirm_Idempotent(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewRaidImportRepo(db, clock.Real{})
	ledger := postgres.NewLedgerRepo(db, clock.Real{})
	ctx := context.Background()

	participants := []store.RaidParticipant{{UserID: "u1", Amount: 50}}

	if _, err := repo.Confirm(ctx, "report-1", participants, dkpPlan, "officer-1"); err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	if _, err := repo.Confirm(ctx, "report-1", participants, dkpPlan, "officer-1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second Confirm: error = %v, want ErrConflict", err)
	}

	// The rejected retry must not double-credit.
	m, _ := ledger.GetMember(ctx, "u1")
	if m.DKP != 50 {
		t.Errorf("DKP after retry = %d, want 50", m.DKP)
	}
}

func TestRaidImportRepo_Confirm_RecordsClampedCredit(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewRaidImportRepo(db, clock.Real{})
	ledger := postgres.NewLedgerRepo(db, clock.Real{})
	ctx := context.Background()

	// u1 sits at 240 of a 250 cap; a 50-point credit only lands 10.
	if _, err := ledger.AdjustDKP(ctx, "u1", 240, 250, store.LedgerEntry{Reason: "seed", PerformedBy: "test"}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	rec, err := repo.Confirm(ctx, "report-1", []store.RaidParticipant{{UserID: "u1", Amount: 50}}, dkpPlan, "officer-1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !rec.Participants[0].Credited.Equal(decimal.NewFromInt(10)) {
		t.Errorf("credited = %s, want 10 (clamped)", rec.Participants[0].Credited)
	}
	if !rec.TotalAwarded.Equal(decimal.NewFromInt(10)) {
		t.Errorf("total = %s, want 10", rec.TotalAwarded)
	}
}

func TestRaidImportRepo_Confirm_EPGP(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewRaidImportRepo(db, clock.Real{})
	ledger := postgres.NewLedgerRepo(db, clock.Real{})
	ctx := context.Background()

	plan := &store.CreditPlan{Currency: store.CurrencyEP}
	rec, err := repo.Confirm(ctx, "report-1", []store.RaidParticipant{{UserID: "u1", Amount: 100}}, plan, "officer-1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if rec.Strategy != "epgp" {
		t.Errorf("strategy = %q, want epgp", rec.Strategy)
	}

	m, _ := ledger.GetMember(ctx, "u1")
	if !m.EP.Equal(decimal.NewFromInt(100)) {
		t.Errorf("EP = %s, want 100", m.EP)
	}
	if m.DKP != 0 {
		t.Errorf("DKP = %d, want 0 (EP plan must not touch DKP)", m.DKP)
	}
}

func TestRaidImportRepo_Revert(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewRaidImportRepo(db, clock.Real{})
	ledger := postgres.NewLedgerRepo(db, clock.Real{})
	ctx := context.Background()

	if _, err := repo.Confirm(ctx, "report-1", []store.RaidParticipant{{UserID: "u1", Amount: 50}}, dkpPlan, "officer-1"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	rec, err := repo.Revert(ctx, "report-1", "officer-2")
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if rec.RevertedAt == nil || rec.RevertedBy == nil || *rec.RevertedBy != "officer-2" {
		t.Errorf("revert metadata = %+v", rec)
	}

	m, _ := ledger.GetMember(ctx, "u1")
	if m.DKP != 0 {
		t.Errorf("DKP after revert = %d, want 0", m.DKP)
	}

	// Exactly once.
	if _, err := repo.Revert(ctx, "report-1", "officer-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Revert: error = %v, want ErrNotFound", err)
	}
}

func TestRaidImportRepo_Revert_CompensatesOriginalCredit(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewRaidImportRepo(db, clock.Real{})
	ledger := postgres.NewLedgerRepo(db, clock.Real{})
	ctx := context.Background()

	seed := store.LedgerEntry{Reason: "seed", PerformedBy: "test"}
	if _, err := ledger.AdjustDKP(ctx, "u1", 240, 250, seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	// Import lands only 10 of 50 against the cap.
	if _, err := repo.Confirm(ctx, "report-1", []store.RaidParticipant{{UserID: "u1", Amount: 50}}, dkpPlan, "officer-1"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	// Unrelated spend in between.
	if _, err := ledger.AdjustDKP(ctx, "u1", -100, 250, seed); err != nil {
		t.Fatalf("spend: %v", err)
	}

	if _, err := repo.Revert(ctx, "report-1", "officer-1"); err != nil {
		t.Fatalf("Revert: %v", err)
	}

	// 240 + 10 - 100 - 10 = 140: revert removed the credited 10, not 50.
	m, _ := ledger.GetMember(ctx, "u1")
	if m.DKP != 140 {
		t.Errorf("DKP after revert = %d, want 140", m.DKP)
	}
}

func TestRaidImportRepo_Get(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewRaidImportRepo(db, clock.Real{})
	ctx := context.Background()

	if _, err := repo.Confirm(ctx, "report-1", []store.RaidParticipant{{UserID: "u1", Amount: 50}}, dkpPlan, "officer-1"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	rec, err := repo.Get(ctx, "report-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Participants) != 1 || rec.Participants[0].UserID != "u1" {
		t.Errorf("participants = %+v", rec.Participants)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown Get: error = %v, want ErrNotFound", err)
	}
}

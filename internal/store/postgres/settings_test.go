package postgres_test

import (
	"context"
	"testing"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store/postgres"
)

func TestSettingRepo_GetDefault(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewSettingRepo(db, clock.Real{})

	got, err := repo.Get(context.Background(), "loot.strategy", "dkp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "dkp" {
		t.Errorf("value = %q, want default dkp", got)
	}
}

func TestSettingRepo_SetAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewSettingRepo(db, clock.Real{})
	ctx := context.Background()

	if err := repo.Set(ctx, "loot.strategy", "epgp"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Overwrite.
	if err := repo.Set(ctx, "loot.strategy", "lootcouncil"); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}

	got, err := repo.Get(ctx, "loot.strategy", "dkp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "lootcouncil" {
		t.Errorf("value = %q, want lootcouncil", got)
	}
}

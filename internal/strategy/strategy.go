// Package strategy implements the pluggable loot priority systems: DKP,
// EPGP and loot council. The active strategy is resolved per operation
// through the Registry; an operation that already resolved its strategy
// completes against it even if guild configuration changes mid-flight.
package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/store"
)

// SettingSource supplies guild configuration values. Satisfied by
// store.SettingRepository.
type SettingSource interface {
	Get(ctx context.Context, key, def string) (string, error)
}

// CapSource supplies the configured DKP cap. Satisfied by *Registry.
type CapSource interface {
	DKPCap(ctx context.Context) (int, error)
}

// ItemAward carries everything a strategy needs to settle an item on a
// winner.
type ItemAward struct {
	WinnerUserID string
	ItemName     string
	Rarity       string
	Slot         string
	// Amount is the winning bid; used by the DKP strategy only.
	Amount    int
	AuctionID *string
	// DecisionID identifies the open loot-council decision being finalized.
	DecisionID string
	Actor      store.Actor
}

// AwardResult reports the ledger effect of an item award.
type AwardResult struct {
	UserID string
	// Charged is the DKP debited or GP added.
	Charged decimal.Decimal
	NewDKP  int
	NewGP   decimal.Decimal
}

// Standing is one leaderboard row.
type Standing struct {
	UserID        string
	CharacterName string
	Priority      float64
	DKP           int
	EP            decimal.Decimal
	GP            decimal.Decimal
	ItemsWon      int
}

// Strategy is the capability set every loot priority system provides.
type Strategy interface {
	Name() string
	// Priority returns the member's current loot priority. Members without
	// a ledger row rank at zero.
	Priority(ctx context.Context, userID string) (float64, error)
	// AwardItem settles an item on the winner and applies the strategy's
	// ledger effect.
	AwardItem(ctx context.Context, award ItemAward) (*AwardResult, error)
	// SettlementCharge describes the ledger effect the auction repository
	// applies to the winner inside the completion transaction. Nil means
	// winning the auction moves no currency.
	SettlementCharge(ctx context.Context, a *store.Auction) (*store.SettlementCharge, error)
	// Leaderboard returns all members ordered by descending priority.
	Leaderboard(ctx context.Context) ([]Standing, error)
	// ApplyDecay reduces standing balances by pct percent. Returns the
	// number of members affected.
	ApplyDecay(ctx context.Context, pct float64, actor store.Actor) (int, error)
	// History returns the member's most recent ledger transactions.
	History(ctx context.Context, userID string, limit int) ([]store.Transaction, error)
	// RaidCreditPlan tells the raid importer which currency this strategy
	// credits. Nil means raid imports carry no ledger effect.
	RaidCreditPlan(ctx context.Context) (*store.CreditPlan, error)
}

// checkDecay validates the shared decay preconditions.
func checkDecay(pct float64, actor store.Actor) error {
	if !actor.CanManageLoot() {
		return store.ErrForbidden
	}
	if pct <= 0 || pct > 100 {
		return store.ErrInvalidPercent
	}
	return nil
}

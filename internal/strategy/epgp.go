package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
)

// Default GP values by item rarity, used when no per-slot override is
// configured.
var defaultGPByRarity = map[string]int64{
	"legendary": 120,
	"epic":      80,
	"rare":      50,
}

const defaultGP int64 = 60

// EPGP implements effort-points / gear-points priority: priority is EP/GP
// with GP floored at 1 for the ratio, raid attendance earns EP, and winning
// an item adds its GP value.
type EPGP struct {
	ledger    store.LedgerRepository
	settings  SettingSource
	events    event.Store
	publisher event.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewEPGP returns the EPGP strategy.
func NewEPGP(ledger store.LedgerRepository, settings SettingSource, events event.Store, publisher event.Publisher, logger *slog.Logger, tp trace.TracerProvider) *EPGP {
	return &EPGP{
		ledger:    ledger,
		settings:  settings,
		events:    events,
		publisher: publisher,
		logger:    logger,
		tracer:    tp.Tracer("github.com/guildtools/lootledger/internal/strategy"),
	}
}

// Name implements Strategy.
func (s *EPGP) Name() string { return "epgp" }

// Priority implements Strategy: EP divided by GP, with GP treated as 1 when
// below 1 so fresh members don't divide by zero.
func (s *EPGP) Priority(ctx context.Context, userID string) (float64, error) {
	m, err := s.ledger.GetMember(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ratio(m.EP, m.GP), nil
}

// AwardItem adds the item's GP value to the winner. EP is untouched.
func (s *EPGP) AwardItem(ctx context.Context, award ItemAward) (*AwardResult, error) {
	ctx, span := s.tracer.Start(ctx, "EPGP.AwardItem",
		trace.WithAttributes(
			attribute.String("user_id", award.WinnerUserID),
			attribute.String("item", award.ItemName),
		),
	)
	defer span.End()

	gp, err := s.gpValue(ctx, award.Rarity, award.Slot)
	if err != nil {
		return nil, err
	}

	adj, err := s.ledger.AdjustEPGP(ctx, award.WinnerUserID, decimal.Zero, gp, store.LedgerEntry{
		Reason:      fmt.Sprintf("Won item: %s", award.ItemName),
		PerformedBy: award.Actor.UserID,
		AuctionID:   award.AuctionID,
	})
	if err != nil {
		return nil, fmt.Errorf("charging GP: %w", err)
	}

	s.logger.InfoContext(ctx, "item awarded",
		slog.String("user_id", award.WinnerUserID),
		slog.String("item", award.ItemName),
		slog.String("gp_charged", adj.GPGain.String()),
	)
	return &AwardResult{
		UserID:  award.WinnerUserID,
		Charged: adj.GPGain,
		NewGP:   adj.NewGP,
	}, nil
}

// SettlementCharge adds the item's GP value to the winner.
func (s *EPGP) SettlementCharge(ctx context.Context, a *store.Auction) (*store.SettlementCharge, error) {
	gp, err := s.gpValue(ctx, a.ItemRarity, a.ItemSlot)
	if err != nil {
		return nil, err
	}
	return &store.SettlementCharge{
		Currency: store.CurrencyGP,
		GPValue:  gp,
		Entry:    store.LedgerEntry{Reason: fmt.Sprintf("Won item: %s", a.ItemName)},
	}, nil
}

// Leaderboard implements Strategy: members by descending EP/GP ratio.
func (s *EPGP) Leaderboard(ctx context.Context) ([]Standing, error) {
	members, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	standings := make([]Standing, 0, len(members))
	for _, m := range members {
		standings = append(standings, Standing{
			UserID:        m.UserID,
			CharacterName: m.CharacterName,
			Priority:      ratio(m.EP, m.GP),
			EP:            m.EP,
			GP:            m.GP,
		})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Priority > standings[j].Priority
	})
	return standings, nil
}

// ApplyDecay scales EP and GP independently, so the ratio of a member who
// holds both moves toward the guild baseline rather than staying fixed.
func (s *EPGP) ApplyDecay(ctx context.Context, pct float64, actor store.Actor) (int, error) {
	ctx, span := s.tracer.Start(ctx, "EPGP.ApplyDecay",
		trace.WithAttributes(attribute.Float64("percent", pct)),
	)
	defer span.End()

	if err := checkDecay(pct, actor); err != nil {
		return 0, err
	}

	n, err := s.ledger.DecayEPGP(ctx, pct, actor.UserID)
	if err != nil {
		return 0, fmt.Errorf("applying EPGP decay: %w", err)
	}

	data, _ := json.Marshal(event.DecayAppliedData{Strategy: s.Name(), Percent: pct, Members: n})
	recordEvent(ctx, s.logger, s.events, s.publisher, event.Event{AggregateID: "ledger", Type: event.DecayApplied, Data: data})

	s.logger.InfoContext(ctx, "decay applied",
		slog.String("strategy", s.Name()),
		slog.Float64("percent", pct),
		slog.Int("members", n),
	)
	return n, nil
}

// History implements Strategy.
func (s *EPGP) History(ctx context.Context, userID string, limit int) ([]store.Transaction, error) {
	return s.ledger.History(ctx, userID, limit)
}

// RaidCreditPlan credits EP, uncapped.
func (s *EPGP) RaidCreditPlan(context.Context) (*store.CreditPlan, error) {
	return &store.CreditPlan{Currency: store.CurrencyEP}, nil
}

// gpValue resolves an item's GP cost: a per-slot settings override wins,
// otherwise the rarity default applies.
func (s *EPGP) gpValue(ctx context.Context, rarity, slot string) (decimal.Decimal, error) {
	if slot != "" {
		raw, err := s.settings.Get(ctx, "epgp.gp."+slot, "")
		if err != nil {
			return decimal.Zero, fmt.Errorf("reading GP override for slot %q: %w", slot, err)
		}
		if raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return decimal.Zero, fmt.Errorf("invalid GP override for slot %q: %w", slot, err)
			}
			return v, nil
		}
	}
	if v, ok := defaultGPByRarity[rarity]; ok {
		return decimal.NewFromInt(v), nil
	}
	return decimal.NewFromInt(defaultGP), nil
}

// ratio computes EP/GP with the divisor floored at 1.
func ratio(ep, gp decimal.Decimal) float64 {
	one := decimal.NewFromInt(1)
	if gp.LessThan(one) {
		gp = one
	}
	f, _ := ep.Div(gp).Float64()
	return f
}

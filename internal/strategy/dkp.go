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

// DKP is the classic spendable-points system: priority equals balance, and
// winning an auction debits the winning bid.
type DKP struct {
	ledger    store.LedgerRepository
	events    event.Store
	publisher event.Publisher
	caps      CapSource
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewDKP returns the DKP strategy.
func NewDKP(ledger store.LedgerRepository, events event.Store, publisher event.Publisher, caps CapSource, logger *slog.Logger, tp trace.TracerProvider) *DKP {
	return &DKP{
		ledger:    ledger,
		events:    events,
		publisher: publisher,
		caps:      caps,
		logger:    logger,
		tracer:    tp.Tracer("github.com/guildtools/lootledger/internal/strategy"),
	}
}

// Name implements Strategy.
func (s *DKP) Name() string { return "dkp" }

// Priority implements Strategy: priority is the DKP balance.
func (s *DKP) Priority(ctx context.Context, userID string) (float64, error) {
	m, err := s.ledger.GetMember(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return float64(m.DKP), nil
}

// AwardItem debits the winner's balance by the winning bid.
func (s *DKP) AwardItem(ctx context.Context, award ItemAward) (*AwardResult, error) {
	ctx, span := s.tracer.Start(ctx, "DKP.AwardItem",
		trace.WithAttributes(
			attribute.String("user_id", award.WinnerUserID),
			attribute.String("item", award.ItemName),
			attribute.Int("amount", award.Amount),
		),
	)
	defer span.End()

	adj, err := s.ledger.AdjustDKP(ctx, award.WinnerUserID, -award.Amount, 0, store.LedgerEntry{
		Reason:      fmt.Sprintf("Won auction: %s", award.ItemName),
		PerformedBy: award.Actor.UserID,
		AuctionID:   award.AuctionID,
	})
	if err != nil {
		return nil, fmt.Errorf("debiting winner: %w", err)
	}

	s.emitDKPUpdated(ctx, award.WinnerUserID, adj, fmt.Sprintf("Won auction: %s", award.ItemName))

	s.logger.InfoContext(ctx, "item awarded",
		slog.String("user_id", award.WinnerUserID),
		slog.String("item", award.ItemName),
		slog.Int("charged", -adj.ActualGain),
	)
	return &AwardResult{
		UserID:  award.WinnerUserID,
		Charged: decimal.NewFromInt(int64(-adj.ActualGain)),
		NewDKP:  adj.NewBalance,
	}, nil
}

// SettlementCharge debits the winning bid.
func (s *DKP) SettlementCharge(_ context.Context, a *store.Auction) (*store.SettlementCharge, error) {
	return &store.SettlementCharge{
		Currency: store.CurrencyDKP,
		Entry:    store.LedgerEntry{Reason: fmt.Sprintf("Won auction: %s", a.ItemName)},
	}, nil
}

// Leaderboard implements Strategy: members by descending DKP.
func (s *DKP) Leaderboard(ctx context.Context) ([]Standing, error) {
	members, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	standings := make([]Standing, 0, len(members))
	for _, m := range members {
		standings = append(standings, Standing{
			UserID:        m.UserID,
			CharacterName: m.CharacterName,
			Priority:      float64(m.DKP),
			DKP:           m.DKP,
		})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Priority > standings[j].Priority
	})
	return standings, nil
}

// ApplyDecay truncates each decayed balance to an integer.
func (s *DKP) ApplyDecay(ctx context.Context, pct float64, actor store.Actor) (int, error) {
	ctx, span := s.tracer.Start(ctx, "DKP.ApplyDecay",
		trace.WithAttributes(attribute.Float64("percent", pct)),
	)
	defer span.End()

	if err := checkDecay(pct, actor); err != nil {
		return 0, err
	}

	n, err := s.ledger.DecayDKP(ctx, pct, actor.UserID)
	if err != nil {
		return 0, fmt.Errorf("applying DKP decay: %w", err)
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
func (s *DKP) History(ctx context.Context, userID string, limit int) ([]store.Transaction, error) {
	return s.ledger.History(ctx, userID, limit)
}

// RaidCreditPlan credits DKP up to the configured cap.
func (s *DKP) RaidCreditPlan(ctx context.Context) (*store.CreditPlan, error) {
	cap, err := s.caps.DKPCap(ctx)
	if err != nil {
		return nil, err
	}
	return &store.CreditPlan{Currency: store.CurrencyDKP, Cap: cap}, nil
}

func (s *DKP) emitDKPUpdated(ctx context.Context, userID string, adj *store.DKPAdjustment, reason string) {
	data, _ := json.Marshal(event.DKPUpdatedData{
		UserID: userID,
		NewDKP: adj.NewBalance,
		Amount: adj.ActualGain,
		Reason: reason,
	})
	recordEvent(ctx, s.logger, s.events, s.publisher, event.Event{AggregateID: adj.MemberID, Type: event.DKPUpdated, Data: data})
}

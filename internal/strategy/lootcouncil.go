package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
)

var validResponses = map[string]bool{
	"bis":     true,
	"upgrade": true,
	"minor":   true,
	"offspec": true,
	"pass":    true,
}

// LootCouncil implements council-decided allocation. No currency changes
// hands: priority is simply fewest items received, and awarding an item
// finalizes the open decision it belongs to.
type LootCouncil struct {
	loot      store.LootRepository
	ledger    store.LedgerRepository
	events    event.Store
	publisher event.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewLootCouncil returns the loot council strategy.
func NewLootCouncil(loot store.LootRepository, ledger store.LedgerRepository, events event.Store, publisher event.Publisher, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *LootCouncil {
	return &LootCouncil{
		loot:      loot,
		ledger:    ledger,
		events:    events,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		tracer:    tp.Tracer("github.com/guildtools/lootledger/internal/strategy"),
	}
}

// Name implements Strategy.
func (s *LootCouncil) Name() string { return "lootcouncil" }

// Priority implements Strategy: members with fewer awarded items rank
// higher, so priority is the negated award count.
func (s *LootCouncil) Priority(ctx context.Context, userID string) (float64, error) {
	m, err := s.ledger.GetMember(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := s.loot.AwardCount(ctx, m.ID)
	if err != nil {
		return 0, err
	}
	return -float64(n), nil
}

// AwardItem finalizes the open decision on the winner. The ledger is
// untouched.
func (s *LootCouncil) AwardItem(ctx context.Context, award ItemAward) (*AwardResult, error) {
	ctx, span := s.tracer.Start(ctx, "LootCouncil.AwardItem",
		trace.WithAttributes(
			attribute.String("user_id", award.WinnerUserID),
			attribute.String("decision_id", award.DecisionID),
		),
	)
	defer span.End()

	if !award.Actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}

	m, err := s.ledger.GetMember(ctx, award.WinnerUserID)
	if err != nil {
		return nil, fmt.Errorf("looking up winner: %w", err)
	}

	if err := s.loot.Decide(ctx, award.DecisionID, m.ID, award.Actor.UserID); err != nil {
		return nil, fmt.Errorf("finalizing decision: %w", err)
	}

	data, _ := json.Marshal(event.LootDecidedData{
		DecisionID: award.DecisionID,
		Item:       award.ItemName,
		WinnerID:   award.WinnerUserID,
		DecidedBy:  award.Actor.UserID,
	})
	recordEvent(ctx, s.logger, s.events, s.publisher, event.Event{AggregateID: award.DecisionID, Type: event.LootDecided, Data: data})

	s.logger.InfoContext(ctx, "loot decided",
		slog.String("decision_id", award.DecisionID),
		slog.String("winner", award.WinnerUserID),
	)
	return &AwardResult{UserID: award.WinnerUserID}, nil
}

// SettlementCharge is nil: council-run auctions move no currency.
func (s *LootCouncil) SettlementCharge(context.Context, *store.Auction) (*store.SettlementCharge, error) {
	return nil, nil
}

// Leaderboard implements Strategy: members ordered by fewest items won.
func (s *LootCouncil) Leaderboard(ctx context.Context) ([]Standing, error) {
	members, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.loot.AwardCounts(ctx)
	if err != nil {
		return nil, err
	}
	standings := make([]Standing, 0, len(members))
	for _, m := range members {
		n := counts[m.ID]
		standings = append(standings, Standing{
			UserID:        m.UserID,
			CharacterName: m.CharacterName,
			Priority:      -float64(n),
			ItemsWon:      n,
		})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Priority > standings[j].Priority
	})
	return standings, nil
}

// ApplyDecay validates the request but has no balances to decay.
func (s *LootCouncil) ApplyDecay(_ context.Context, pct float64, actor store.Actor) (int, error) {
	if err := checkDecay(pct, actor); err != nil {
		return 0, err
	}
	return 0, nil
}

// History implements Strategy. Loot council writes no ledger rows, so this
// returns whatever other strategies recorded for the member.
func (s *LootCouncil) History(ctx context.Context, userID string, limit int) ([]store.Transaction, error) {
	return s.ledger.History(ctx, userID, limit)
}

// RaidCreditPlan returns nil: raid imports under loot council record
// attendance only.
func (s *LootCouncil) RaidCreditPlan(context.Context) (*store.CreditPlan, error) {
	return nil, nil
}

// OpenDecision opens a new decision for an item.
func (s *LootCouncil) OpenDecision(ctx context.Context, itemName string, actor store.Actor) (*store.LootDecision, error) {
	if !actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}
	d := &store.LootDecision{
		ID:        uuid.NewString(),
		ItemName:  itemName,
		Status:    store.DecisionOpen,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.loot.CreateDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("creating decision: %w", err)
	}
	s.logger.InfoContext(ctx, "loot decision opened",
		slog.String("decision_id", d.ID),
		slog.String("item", itemName),
	)
	return d, nil
}

// Decision loads a single decision.
func (s *LootCouncil) Decision(ctx context.Context, id string) (*store.LootDecision, error) {
	return s.loot.GetDecision(ctx, id)
}

// Respond records a member's interest in an open decision. Re-responding
// replaces the previous response.
func (s *LootCouncil) Respond(ctx context.Context, decisionID, userID, response string) error {
	if !validResponses[response] {
		return store.ErrInvalidResponse
	}
	d, err := s.loot.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	if d.Status != store.DecisionOpen {
		return store.ErrDecisionClosed
	}
	m, err := s.ledger.GetMember(ctx, userID)
	if err != nil {
		return fmt.Errorf("looking up member: %w", err)
	}
	return s.loot.UpsertResponse(ctx, &store.LootResponse{
		DecisionID: decisionID,
		MemberID:   m.ID,
		Response:   response,
		CreatedAt:  s.clock.Now().UTC(),
	})
}

// Vote records a council member's vote for a candidate. Re-voting replaces
// the previous vote.
func (s *LootCouncil) Vote(ctx context.Context, decisionID, candidateUserID, vote string, actor store.Actor) error {
	if !actor.CanManageLoot() {
		return store.ErrForbidden
	}
	if vote != "approve" && vote != "reject" {
		return store.ErrInvalidVote
	}
	d, err := s.loot.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	if d.Status != store.DecisionOpen {
		return store.ErrDecisionClosed
	}
	voter, err := s.ledger.GetMember(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("looking up voter: %w", err)
	}
	candidate, err := s.ledger.GetMember(ctx, candidateUserID)
	if err != nil {
		return fmt.Errorf("looking up candidate: %w", err)
	}
	return s.loot.UpsertVote(ctx, &store.LootVote{
		DecisionID:  decisionID,
		VoterID:     voter.ID,
		CandidateID: candidate.ID,
		Vote:        vote,
		CreatedAt:   s.clock.Now().UTC(),
	})
}

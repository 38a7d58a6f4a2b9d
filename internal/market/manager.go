// Package market coordinates the auction lifecycle: creation, concurrent
// bidding and settlement through the active loot strategy. All bid
// validation and state transitions happen inside repository transactions;
// the manager adds authorization, strategy resolution and event fan-out.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
)

// Settlement is the outcome of ending an auction.
type Settlement struct {
	Auction *store.Auction
	// Winner is nil when the auction closed without bids.
	Winner *store.AuctionWinner
	// Award is the ledger effect applied to the winner; nil when there was
	// no winner or the active strategy moves no currency on a win.
	Award *strategy.AwardResult
}

// Manager coordinates auctions.
type Manager struct {
	auctions  store.AuctionRepository
	ledger    store.LedgerRepository
	registry  *strategy.Registry
	events    event.Store
	publisher event.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewManager returns a new auction Manager.
func NewManager(auctions store.AuctionRepository, ledger store.LedgerRepository, registry *strategy.Registry, events event.Store, publisher event.Publisher, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		auctions:  auctions,
		ledger:    ledger,
		registry:  registry,
		events:    events,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		tracer:    tp.Tracer("github.com/guildtools/lootledger/internal/market"),
	}
}

// Create opens a new auction for an item. Requires officer or admin.
func (m *Manager) Create(ctx context.Context, actor store.Actor, itemName, rarity, slot string, minBid int, duration time.Duration) (*store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(
			attribute.String("item", itemName),
			attribute.String("created_by", actor.UserID),
		),
	)
	defer span.End()

	if !actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}
	if minBid < 1 {
		minBid = 1
	}
	if duration <= 0 {
		return nil, fmt.Errorf("auction duration must be positive")
	}

	now := m.clock.Now().UTC()
	a := &store.Auction{
		ID:         uuid.NewString(),
		ItemName:   itemName,
		ItemRarity: rarity,
		ItemSlot:   slot,
		MinBid:     minBid,
		Status:     store.AuctionActive,
		CreatedBy:  actor.UserID,
		EndsAt:     now.Add(duration),
		CreatedAt:  now,
	}
	if err := m.auctions.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}

	data, _ := json.Marshal(event.AuctionStartedData{
		AuctionID: a.ID,
		Item:      itemName,
		MinBid:    minBid,
		EndsAt:    a.EndsAt,
		StartedBy: actor.UserID,
	})
	m.record(ctx, event.Event{AggregateID: a.ID, Type: event.AuctionStarted, Data: data})

	m.logger.InfoContext(ctx, "auction started",
		slog.String("auction_id", a.ID),
		slog.String("item", itemName),
		slog.Time("ends_at", a.EndsAt),
	)
	return a, nil
}

// PlaceBid places or raises a member's bid. The repository validates
// everything (auction state, minimum, highest bid, available balance) inside
// one transaction, so concurrent bids serialize correctly.
func (m *Manager) PlaceBid(ctx context.Context, userID, auctionID string, amount int) (*store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("user_id", userID),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	if amount < 1 {
		return nil, store.ErrInvalidAmount
	}

	member, err := m.ledger.GetMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up bidder: %w", err)
	}

	bid, err := m.auctions.PlaceBid(ctx, auctionID, member.ID, amount)
	if err != nil {
		return nil, err
	}

	// Emitted after the bid commits; ordering across concurrently accepted
	// bids is best-effort.
	data, _ := json.Marshal(event.BidPlacedData{
		AuctionID:     auctionID,
		UserID:        userID,
		CharacterName: member.CharacterName,
		Amount:        amount,
	})
	m.record(ctx, event.Event{AggregateID: auctionID, Type: event.AuctionBidPlaced, Data: data})

	m.logger.InfoContext(ctx, "bid placed",
		slog.String("auction_id", auctionID),
		slog.String("user_id", userID),
		slog.Int("amount", amount),
	)
	return bid, nil
}

// End settles an auction: the highest bid wins (earliest on ties) and the
// strategy that is active at settlement time determines the winner's ledger
// charge. The repository applies the charge inside the completion
// transaction, so the status transition and the debit commit or roll back
// together. Requires officer or admin.
func (m *Manager) End(ctx context.Context, actor store.Actor, auctionID string) (*Settlement, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.End",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	if !actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}

	a, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	// Resolve the strategy before completing so settlement runs against a
	// single strategy even if configuration changes underneath us.
	strat, err := m.registry.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving strategy: %w", err)
	}
	charge, err := strat.SettlementCharge(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("resolving settlement charge: %w", err)
	}
	if charge != nil {
		charge.Entry.PerformedBy = actor.UserID
		charge.Entry.AuctionID = &a.ID
	}

	res, err := m.auctions.Complete(ctx, auctionID, charge)
	if err != nil {
		return nil, err
	}
	winner := res.Winner

	a, err = m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("reloading auction: %w", err)
	}

	settlement := &Settlement{Auction: a, Winner: winner}
	switch {
	case res.DKP != nil:
		settlement.Award = &strategy.AwardResult{
			UserID:  winner.UserID,
			Charged: decimal.NewFromInt(int64(-res.DKP.ActualGain)),
			NewDKP:  res.DKP.NewBalance,
		}
		dkpData, _ := json.Marshal(event.DKPUpdatedData{
			UserID: winner.UserID,
			NewDKP: res.DKP.NewBalance,
			Amount: res.DKP.ActualGain,
			Reason: charge.Entry.Reason,
		})
		m.record(ctx, event.Event{AggregateID: res.DKP.MemberID, Type: event.DKPUpdated, Data: dkpData})
	case res.EPGP != nil:
		settlement.Award = &strategy.AwardResult{
			UserID:  winner.UserID,
			Charged: res.EPGP.GPGain,
			NewGP:   res.EPGP.NewGP,
		}
	}

	var winnerID string
	var winAmount int
	if winner != nil {
		winnerID = winner.UserID
		winAmount = winner.Amount
	}
	data, _ := json.Marshal(event.AuctionCompletedData{
		AuctionID: auctionID,
		WinnerID:  winnerID,
		Amount:    winAmount,
	})
	m.record(ctx, event.Event{AggregateID: auctionID, Type: event.AuctionCompleted, Data: data})

	if winner == nil {
		m.logger.InfoContext(ctx, "auction closed without bids", slog.String("auction_id", auctionID))
	} else {
		m.logger.InfoContext(ctx, "auction completed",
			slog.String("auction_id", auctionID),
			slog.String("winner", winner.UserID),
			slog.Int("amount", winner.Amount),
		)
	}
	return settlement, nil
}

// Cancel voids an active auction. Standing bids are discarded with no
// ledger effect. Requires officer or admin.
func (m *Manager) Cancel(ctx context.Context, actor store.Actor, auctionID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Cancel",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	if !actor.CanManageLoot() {
		return store.ErrForbidden
	}

	if err := m.auctions.Cancel(ctx, auctionID); err != nil {
		return err
	}

	data, _ := json.Marshal(struct {
		AuctionID string `json:"auction_id"`
	}{AuctionID: auctionID})
	m.record(ctx, event.Event{AggregateID: auctionID, Type: event.AuctionCancelled, Data: data})

	m.logger.InfoContext(ctx, "auction cancelled", slog.String("auction_id", auctionID))
	return nil
}

// Get returns an auction by ID.
func (m *Manager) Get(ctx context.Context, auctionID string) (*store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get")
	defer span.End()

	return m.auctions.GetByID(ctx, auctionID)
}

// ListActive returns all active auctions.
func (m *Manager) ListActive(ctx context.Context) ([]store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListActive")
	defer span.End()

	return m.auctions.ListActive(ctx)
}

// Bids returns the standing bids on an auction.
func (m *Manager) Bids(ctx context.Context, auctionID string) ([]store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Bids")
	defer span.End()

	return m.auctions.Bids(ctx, auctionID)
}

func (m *Manager) record(ctx context.Context, e event.Event) {
	if err := m.events.Append(ctx, e); err != nil {
		m.logger.ErrorContext(ctx, "failed to append event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
}

// Package ledger exposes the guild-facing ledger operations: manual point
// adjustments, balances, history and decay. Strategy-specific settlement
// lives in internal/strategy; this package covers what officers invoke
// directly.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
)

// Manager handles ledger operations.
type Manager struct {
	ledger    store.LedgerRepository
	registry  *strategy.Registry
	events    event.Store
	publisher event.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewManager returns a new ledger Manager.
func NewManager(ledger store.LedgerRepository, registry *strategy.Registry, events event.Store, publisher event.Publisher, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		ledger:    ledger,
		registry:  registry,
		events:    events,
		publisher: publisher,
		logger:    logger,
		tracer:    tp.Tracer("github.com/guildtools/lootledger/internal/ledger"),
	}
}

// AdjustDKP applies a manual DKP adjustment. Amount may be negative; the
// stored delta is clamped into [0, cap] and the clamped value is what gets
// logged and announced. Requires officer or admin.
func (m *Manager) AdjustDKP(ctx context.Context, actor store.Actor, userID string, amount int, reason string) (*store.DKPAdjustment, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AdjustDKP",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	if !actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}
	if amount == 0 {
		return nil, store.ErrInvalidAmount
	}

	cap, err := m.registry.DKPCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving DKP cap: %w", err)
	}

	adj, err := m.ledger.AdjustDKP(ctx, userID, amount, cap, store.LedgerEntry{
		Reason:      reason,
		PerformedBy: actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("adjusting DKP: %w", err)
	}

	data, _ := json.Marshal(event.DKPUpdatedData{
		UserID: userID,
		NewDKP: adj.NewBalance,
		Amount: adj.ActualGain,
		Reason: reason,
	})
	m.record(ctx, event.Event{AggregateID: adj.MemberID, Type: event.DKPUpdated, Data: data})

	m.logger.InfoContext(ctx, "DKP adjusted",
		slog.String("user_id", userID),
		slog.Int("amount", adj.ActualGain),
		slog.Int("new_balance", adj.NewBalance),
		slog.Bool("capped", adj.WasCapped),
		slog.String("performed_by", actor.UserID),
	)
	return adj, nil
}

// AdjustEPGP applies a manual EP/GP adjustment. Requires officer or admin.
func (m *Manager) AdjustEPGP(ctx context.Context, actor store.Actor, userID string, epDelta, gpDelta decimal.Decimal, reason string) (*store.EPGPAdjustment, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AdjustEPGP",
		trace.WithAttributes(attribute.String("user_id", userID)),
	)
	defer span.End()

	if !actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}
	if epDelta.IsZero() && gpDelta.IsZero() {
		return nil, store.ErrInvalidAmount
	}

	adj, err := m.ledger.AdjustEPGP(ctx, userID, epDelta, gpDelta, store.LedgerEntry{
		Reason:      reason,
		PerformedBy: actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("adjusting EPGP: %w", err)
	}

	m.logger.InfoContext(ctx, "EPGP adjusted",
		slog.String("user_id", userID),
		slog.String("ep_gain", adj.EPGain.String()),
		slog.String("gp_gain", adj.GPGain.String()),
		slog.String("performed_by", actor.UserID),
	)
	return adj, nil
}

// ApplyDecay runs the active strategy's decay.
func (m *Manager) ApplyDecay(ctx context.Context, actor store.Actor, pct float64) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ApplyDecay",
		trace.WithAttributes(attribute.Float64("percent", pct)),
	)
	defer span.End()

	s, err := m.registry.Active(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolving strategy: %w", err)
	}
	return s.ApplyDecay(ctx, pct, actor)
}

// GetMember returns a member's ledger row.
func (m *Manager) GetMember(ctx context.Context, userID string) (*store.Member, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetMember")
	defer span.End()

	return m.ledger.GetMember(ctx, userID)
}

// Leaderboard returns standings under the active strategy.
func (m *Manager) Leaderboard(ctx context.Context) ([]strategy.Standing, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Leaderboard")
	defer span.End()

	s, err := m.registry.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving strategy: %w", err)
	}
	return s.Leaderboard(ctx)
}

// History returns a member's most recent transactions.
func (m *Manager) History(ctx context.Context, userID string, limit int) ([]store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.History")
	defer span.End()

	return m.ledger.History(ctx, userID, limit)
}

func (m *Manager) record(ctx context.Context, e event.Event) {
	if err := m.events.Append(ctx, e); err != nil {
		m.logger.ErrorContext(ctx, "failed to append event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
}

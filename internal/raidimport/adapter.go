// Package raidimport turns raid-log reports into idempotent ledger credits.
// Each report code is importable exactly once and revertible exactly once;
// the repository guarantees atomicity, this package adds authorization,
// strategy resolution and event fan-out.
package raidimport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
)

// Adapter imports raid attendance into the ledger.
type Adapter struct {
	imports   store.RaidImportRepository
	registry  *strategy.Registry
	events    event.Store
	publisher event.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewAdapter returns a new raid import Adapter.
func NewAdapter(imports store.RaidImportRepository, registry *strategy.Registry, events event.Store, publisher event.Publisher, logger *slog.Logger, tp trace.TracerProvider) *Adapter {
	return &Adapter{
		imports:   imports,
		registry:  registry,
		events:    events,
		publisher: publisher,
		logger:    logger,
		tracer:    tp.Tracer("github.com/guildtools/lootledger/internal/raidimport"),
	}
}

// Confirm credits every participant according to the active strategy and
// records the import. Importing the same report code twice returns
// store.ErrConflict with no ledger effect. Requires officer or admin.
func (a *Adapter) Confirm(ctx context.Context, actor store.Actor, reportCode string, participants []store.RaidParticipant) (*store.RaidImportRecord, error) {
	ctx, span := a.tracer.Start(ctx, "Adapter.Confirm",
		trace.WithAttributes(
			attribute.String("report_code", reportCode),
			attribute.Int("participants", len(participants)),
		),
	)
	defer span.End()

	if !actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}
	reportCode = strings.TrimSpace(reportCode)
	if reportCode == "" {
		return nil, fmt.Errorf("report code must not be empty")
	}
	for _, p := range participants {
		if p.Amount < 0 {
			return nil, store.ErrInvalidAmount
		}
	}

	strat, err := a.registry.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving strategy: %w", err)
	}
	plan, err := strat.RaidCreditPlan(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving credit plan: %w", err)
	}

	rec, err := a.imports.Confirm(ctx, reportCode, participants, plan, actor.UserID)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(event.RaidImportData{
		ReportCode:   reportCode,
		Participants: len(rec.Participants),
		TotalAwarded: rec.TotalAwarded,
	})
	a.record(ctx, event.Event{AggregateID: reportCode, Type: event.RaidImported, Data: data})

	a.logger.InfoContext(ctx, "raid imported",
		slog.String("report_code", reportCode),
		slog.String("strategy", rec.Strategy),
		slog.Int("participants", len(rec.Participants)),
		slog.String("total_awarded", rec.TotalAwarded.String()),
	)
	return rec, nil
}

// Revert compensates a previously confirmed import by exactly the credited
// amounts. Valid once per report. Requires officer or admin.
func (a *Adapter) Revert(ctx context.Context, actor store.Actor, reportCode string) (*store.RaidImportRecord, error) {
	ctx, span := a.tracer.Start(ctx, "Adapter.Revert",
		trace.WithAttributes(attribute.String("report_code", reportCode)),
	)
	defer span.End()

	if !actor.CanManageLoot() {
		return nil, store.ErrForbidden
	}

	rec, err := a.imports.Revert(ctx, reportCode, actor.UserID)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(event.RaidImportData{
		ReportCode:   reportCode,
		Participants: len(rec.Participants),
		TotalAwarded: rec.TotalAwarded,
	})
	a.record(ctx, event.Event{AggregateID: reportCode, Type: event.RaidImportReverted, Data: data})

	a.logger.InfoContext(ctx, "raid import reverted",
		slog.String("report_code", reportCode),
		slog.String("performed_by", actor.UserID),
	)
	return rec, nil
}

// Get returns the import record for a report code.
func (a *Adapter) Get(ctx context.Context, reportCode string) (*store.RaidImportRecord, error) {
	ctx, span := a.tracer.Start(ctx, "Adapter.Get")
	defer span.End()

	return a.imports.Get(ctx, reportCode)
}

func (a *Adapter) record(ctx context.Context, e event.Event) {
	if err := a.events.Append(ctx, e); err != nil {
		a.logger.ErrorContext(ctx, "failed to append event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
	if err := a.publisher.Publish(ctx, e); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
}

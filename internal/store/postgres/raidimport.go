package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store"
)

// RaidImportRepo implements store.RaidImportRepository with sqlx.
type RaidImportRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewRaidImportRepo returns a new RaidImportRepo.
func NewRaidImportRepo(db *sqlx.DB, clk clock.Clock) *RaidImportRepo {
	return &RaidImportRepo{db: db, clock: clk}
}

// strategyName maps a credit plan back to the loot system that produced it.
func strategyName(plan *store.CreditPlan) string {
	if plan == nil {
		return "lootcouncil"
	}
	if plan.Currency == store.CurrencyEP {
		return "epgp"
	}
	return "dkp"
}

// Confirm credits every participant and records the import in one
// transaction. The stored participant list holds the actual clamped gains so
// Revert can compensate exactly.
func (r *RaidImportRepo) Confirm(ctx context.Context, reportCode string, participants []store.RaidParticipant, plan *store.CreditPlan, performedBy string) (*store.RaidImportRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM raid_imports WHERE report_code = $1)`, reportCode); err != nil {
		return nil, fmt.Errorf("checking report code: %w", err)
	}
	if exists {
		return nil, store.ErrConflict
	}

	entry := store.LedgerEntry{
		Reason:      fmt.Sprintf("Raid import %s", reportCode),
		PerformedBy: performedBy,
		ReportCode:  &reportCode,
	}

	credits := make([]store.RaidCredit, 0, len(participants))
	total := decimal.Zero
	for _, p := range participants {
		credited := decimal.Zero
		if plan != nil {
			switch plan.Currency {
			case store.CurrencyEP:
				adj, err := adjustEPGPTx(ctx, tx, r.clock, p.UserID, decimal.NewFromInt(int64(p.Amount)), decimal.Zero, entry)
				if err != nil {
					return nil, err
				}
				credited = adj.EPGain
			default:
				adj, err := adjustDKPTx(ctx, tx, r.clock, p.UserID, p.Amount, plan.Cap, entry)
				if err != nil {
					return nil, err
				}
				credited = decimal.NewFromInt(int64(adj.ActualGain))
			}
		}
		credits = append(credits, store.RaidCredit{UserID: p.UserID, Credited: credited})
		total = total.Add(credited)
	}

	data, err := json.Marshal(credits)
	if err != nil {
		return nil, fmt.Errorf("encoding participants: %w", err)
	}

	rec := &store.RaidImportRecord{
		ReportCode:   reportCode,
		Strategy:     strategyName(plan),
		Participants: credits,
		TotalAwarded: total,
		CreatedBy:    performedBy,
		CreatedAt:    r.clock.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO raid_imports (report_code, strategy, participants, total_awarded, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ReportCode, rec.Strategy, data, rec.TotalAwarded, rec.CreatedBy, rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("recording raid import: %w", mapErr(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing raid import: %w", err)
	}
	return rec, nil
}

// Revert marks the record reverted and compensates the original credited
// amounts in the same transaction. A second revert finds no revertable row
// and returns ErrNotFound.
func (r *RaidImportRepo) Revert(ctx context.Context, reportCode, performedBy string) (*store.RaidImportRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.clock.Now().UTC()
	rec := &store.RaidImportRecord{ReportCode: reportCode, RevertedAt: &now, RevertedBy: &performedBy}
	var data []byte
	err = tx.QueryRowContext(ctx,
		`UPDATE raid_imports SET reverted_at = $1, reverted_by = $2
		 WHERE report_code = $3 AND reverted_at IS NULL
		 RETURNING strategy, participants, total_awarded, created_by, created_at`,
		now, performedBy, reportCode,
	).Scan(&rec.Strategy, &data, &rec.TotalAwarded, &rec.CreatedBy, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("marking raid import reverted: %w", err)
	}
	if err := json.Unmarshal(data, &rec.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}

	entry := store.LedgerEntry{
		Reason:      fmt.Sprintf("Reverted raid import %s", reportCode),
		PerformedBy: performedBy,
		ReportCode:  &reportCode,
	}
	for _, c := range rec.Participants {
		if c.Credited.IsZero() {
			continue
		}
		switch rec.Strategy {
		case "epgp":
			if _, err := adjustEPGPTx(ctx, tx, r.clock, c.UserID, c.Credited.Neg(), decimal.Zero, entry); err != nil {
				return nil, err
			}
		default:
			if _, err := adjustDKPTx(ctx, tx, r.clock, c.UserID, -int(c.Credited.IntPart()), 0, entry); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing revert: %w", err)
	}
	return rec, nil
}

func (r *RaidImportRepo) Get(ctx context.Context, reportCode string) (*store.RaidImportRecord, error) {
	rec := &store.RaidImportRecord{}
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT report_code, strategy, participants, total_awarded, created_by, created_at, reverted_at, reverted_by
		 FROM raid_imports WHERE report_code = $1`, reportCode,
	).Scan(&rec.ReportCode, &rec.Strategy, &data, &rec.TotalAwarded, &rec.CreatedBy, &rec.CreatedAt, &rec.RevertedAt, &rec.RevertedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting raid import: %w", err)
	}
	if err := json.Unmarshal(data, &rec.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	return rec, nil
}

package entstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store"
)

// LedgerRepo implements store.LedgerRepository using database/sql.
type LedgerRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewLedgerRepo returns a new LedgerRepo.
func NewLedgerRepo(db *sql.DB, clk clock.Clock) *LedgerRepo {
	return &LedgerRepo{db: db, clock: clk}
}

const memberColumns = `id, user_id, character_name, dkp, ep, gp, created_at, updated_at`

func scanMember(row interface {
	Scan(dest ...any) error
}) (*store.Member, error) {
	m := &store.Member{}
	err := row.Scan(&m.ID, &m.UserID, &m.CharacterName, &m.DKP, &m.EP, &m.GP, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *LedgerRepo) GetMember(ctx context.Context, userID string) (*store.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("getting member by user_id: %w", mapErr(err))
	}
	return m, nil
}

func (r *LedgerRepo) GetMemberByID(ctx context.Context, id string) (*store.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", mapErr(err))
	}
	return m, nil
}

func (r *LedgerRepo) List(ctx context.Context) ([]store.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members ORDER BY dkp DESC, character_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []store.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (r *LedgerRepo) AdjustDKP(ctx context.Context, userID string, delta, cap int, entry store.LedgerEntry) (*store.DKPAdjustment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	adj, err := adjustDKPTx(ctx, tx, r.clock, userID, delta, cap, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing adjust: %w", err)
	}
	return adj, nil
}

func (r *LedgerRepo) AdjustEPGP(ctx context.Context, userID string, epDelta, gpDelta decimal.Decimal, entry store.LedgerEntry) (*store.EPGPAdjustment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	adj, err := adjustEPGPTx(ctx, tx, r.clock, userID, epDelta, gpDelta, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing adjust: %w", err)
	}
	return adj, nil
}

func (r *LedgerRepo) DecayDKP(ctx context.Context, pct float64, performedBy string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, dkp FROM members WHERE dkp > 0 ORDER BY id FOR UPDATE`)
	if err != nil {
		return 0, fmt.Errorf("locking members for decay: %w", err)
	}
	type memberRow struct {
		id  string
		dkp int
	}
	var members []memberRow
	for rows.Next() {
		var m memberRow
		if err := rows.Scan(&m.id, &m.dkp); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	factor := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	now := r.clock.Now().UTC()
	reason := fmt.Sprintf("DKP decay %g%%", pct)

	affected := 0
	for _, m := range members {
		newBal := int(decimal.NewFromInt(int64(m.dkp)).Mul(factor).IntPart())
		delta := newBal - m.dkp
		if delta == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET dkp = $1, updated_at = $2 WHERE id = $3`,
			newBal, now, m.id); err != nil {
			return 0, fmt.Errorf("decaying member %s: %w", m.id, err)
		}
		if err := logTx(ctx, tx, m.id, store.CurrencyDKP, decimal.NewFromInt(int64(delta)), store.LedgerEntry{
			Reason:      reason,
			PerformedBy: performedBy,
		}, now); err != nil {
			return 0, err
		}
		affected++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing decay: %w", err)
	}
	return affected, nil
}

func (r *LedgerRepo) DecayEPGP(ctx context.Context, pct float64, performedBy string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, ep, gp FROM members WHERE ep > 0 OR gp > 0 ORDER BY id FOR UPDATE`)
	if err != nil {
		return 0, fmt.Errorf("locking members for decay: %w", err)
	}
	type memberRow struct {
		id string
		ep decimal.Decimal
		gp decimal.Decimal
	}
	var members []memberRow
	for rows.Next() {
		var m memberRow
		if err := rows.Scan(&m.id, &m.ep, &m.gp); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	factor := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	now := r.clock.Now().UTC()
	reason := fmt.Sprintf("EPGP decay %g%%", pct)

	affected := 0
	for _, m := range members {
		newEP := m.ep.Mul(factor).Round(2)
		newGP := m.gp.Mul(factor).Round(2)
		if newEP.Equal(m.ep) && newGP.Equal(m.gp) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET ep = $1, gp = $2, updated_at = $3 WHERE id = $4`,
			newEP, newGP, now, m.id); err != nil {
			return 0, fmt.Errorf("decaying member %s: %w", m.id, err)
		}
		entry := store.LedgerEntry{Reason: reason, PerformedBy: performedBy}
		if d := newEP.Sub(m.ep); !d.IsZero() {
			if err := logTx(ctx, tx, m.id, store.CurrencyEP, d, entry, now); err != nil {
				return 0, err
			}
		}
		if d := newGP.Sub(m.gp); !d.IsZero() {
			if err := logTx(ctx, tx, m.id, store.CurrencyGP, d, entry, now); err != nil {
				return 0, err
			}
		}
		affected++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing decay: %w", err)
	}
	return affected, nil
}

func (r *LedgerRepo) History(ctx context.Context, userID string, limit int) ([]store.Transaction, error) {
	m, err := r.GetMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, member_id, currency, delta, reason, performed_by, auction_id, report_code, created_at
		 FROM transactions WHERE member_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		m.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var txs []store.Transaction
	for rows.Next() {
		var t store.Transaction
		if err := rows.Scan(&t.ID, &t.MemberID, &t.Currency, &t.Delta, &t.Reason, &t.PerformedBy, &t.AuctionID, &t.ReportCode, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// lockMember creates the member row if missing and takes its row lock for
// the rest of the transaction.
func lockMember(ctx context.Context, tx *sql.Tx, clk clock.Clock, userID string) (*store.Member, error) {
	m, err := scanMember(tx.QueryRowContext(ctx,
		`INSERT INTO members (user_id, updated_at) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING `+memberColumns,
		userID, clk.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("upserting member %s: %w", userID, err)
	}
	return m, nil
}

func adjustDKPTx(ctx context.Context, tx *sql.Tx, clk clock.Clock, userID string, delta, cap int, entry store.LedgerEntry) (*store.DKPAdjustment, error) {
	m, err := lockMember(ctx, tx, clk, userID)
	if err != nil {
		return nil, err
	}

	newBal := m.DKP + delta
	capped := false
	if delta > 0 && cap > 0 && newBal > cap {
		newBal = cap
		capped = true
	}
	if newBal < 0 {
		newBal = 0
	}
	actual := newBal - m.DKP

	now := clk.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET dkp = $1, updated_at = $2 WHERE id = $3`,
		newBal, now, m.ID); err != nil {
		return nil, fmt.Errorf("updating dkp: %w", err)
	}
	if err := logTx(ctx, tx, m.ID, store.CurrencyDKP, decimal.NewFromInt(int64(actual)), entry, now); err != nil {
		return nil, err
	}

	return &store.DKPAdjustment{
		MemberID:   m.ID,
		NewBalance: newBal,
		ActualGain: actual,
		WasCapped:  capped,
	}, nil
}

func adjustEPGPTx(ctx context.Context, tx *sql.Tx, clk clock.Clock, userID string, epDelta, gpDelta decimal.Decimal, entry store.LedgerEntry) (*store.EPGPAdjustment, error) {
	m, err := lockMember(ctx, tx, clk, userID)
	if err != nil {
		return nil, err
	}

	newEP := m.EP.Add(epDelta)
	if newEP.IsNegative() {
		newEP = decimal.Zero
	}
	newGP := m.GP.Add(gpDelta)
	if newGP.IsNegative() {
		newGP = decimal.Zero
	}

	now := clk.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET ep = $1, gp = $2, updated_at = $3 WHERE id = $4`,
		newEP, newGP, now, m.ID); err != nil {
		return nil, fmt.Errorf("updating ep/gp: %w", err)
	}

	epGain := newEP.Sub(m.EP)
	gpGain := newGP.Sub(m.GP)
	if !epGain.IsZero() {
		if err := logTx(ctx, tx, m.ID, store.CurrencyEP, epGain, entry, now); err != nil {
			return nil, err
		}
	}
	if !gpGain.IsZero() {
		if err := logTx(ctx, tx, m.ID, store.CurrencyGP, gpGain, entry, now); err != nil {
			return nil, err
		}
	}

	return &store.EPGPAdjustment{
		MemberID: m.ID,
		NewEP:    newEP,
		NewGP:    newGP,
		EPGain:   epGain,
		GPGain:   gpGain,
	}, nil
}

func logTx(ctx context.Context, tx *sql.Tx, memberID string, currency store.Currency, delta decimal.Decimal, entry store.LedgerEntry, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (member_id, currency, delta, reason, performed_by, auction_id, report_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		memberID, currency, delta, entry.Reason, entry.PerformedBy, entry.AuctionID, entry.ReportCode, now)
	if err != nil {
		return fmt.Errorf("logging transaction: %w", err)
	}
	return nil
}

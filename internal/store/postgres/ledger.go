package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store"
)

// LedgerRepo implements store.LedgerRepository with sqlx.
type LedgerRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewLedgerRepo returns a new LedgerRepo.
func NewLedgerRepo(db *sqlx.DB, clk clock.Clock) *LedgerRepo {
	return &LedgerRepo{db: db, clock: clk}
}

func (r *LedgerRepo) GetMember(ctx context.Context, userID string) (*store.Member, error) {
	var m store.Member
	err := r.db.GetContext(ctx, &m, `SELECT * FROM members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("getting member by user_id: %w", mapErr(err))
	}
	return &m, nil
}

func (r *LedgerRepo) GetMemberByID(ctx context.Context, id string) (*store.Member, error) {
	var m store.Member
	err := r.db.GetContext(ctx, &m, `SELECT * FROM members WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", mapErr(err))
	}
	return &m, nil
}

func (r *LedgerRepo) List(ctx context.Context) ([]store.Member, error) {
	var members []store.Member
	err := r.db.SelectContext(ctx, &members, `SELECT * FROM members ORDER BY dkp DESC, character_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return members, nil
}

func (r *LedgerRepo) AdjustDKP(ctx context.Context, userID string, delta, cap int, entry store.LedgerEntry) (*store.DKPAdjustment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
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
	tx, err := r.db.BeginTxx(ctx, nil)
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

// DecayDKP truncates each decayed balance to an integer. The whole sweep is
// one transaction; member rows are locked in id order.
func (r *LedgerRepo) DecayDKP(ctx context.Context, pct float64, performedBy string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	type row struct {
		ID  string `db:"id"`
		DKP int    `db:"dkp"`
	}
	var rows []row
	if err := tx.SelectContext(ctx, &rows,
		`SELECT id, dkp FROM members WHERE dkp > 0 ORDER BY id FOR UPDATE`); err != nil {
		return 0, fmt.Errorf("locking members for decay: %w", err)
	}

	factor := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	now := r.clock.Now().UTC()
	reason := fmt.Sprintf("DKP decay %g%%", pct)

	affected := 0
	for _, m := range rows {
		newBal := int(decimal.NewFromInt(int64(m.DKP)).Mul(factor).IntPart())
		delta := newBal - m.DKP
		if delta == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET dkp = $1, updated_at = $2 WHERE id = $3`,
			newBal, now, m.ID); err != nil {
			return 0, fmt.Errorf("decaying member %s: %w", m.ID, err)
		}
		if err := logTx(ctx, tx, m.ID, store.CurrencyDKP, decimal.NewFromInt(int64(delta)), store.LedgerEntry{
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

// DecayEPGP scales EP and GP independently, rounding each to 2 decimals.
func (r *LedgerRepo) DecayEPGP(ctx context.Context, pct float64, performedBy string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	type row struct {
		ID string          `db:"id"`
		EP decimal.Decimal `db:"ep"`
		GP decimal.Decimal `db:"gp"`
	}
	var rows []row
	if err := tx.SelectContext(ctx, &rows,
		`SELECT id, ep, gp FROM members WHERE ep > 0 OR gp > 0 ORDER BY id FOR UPDATE`); err != nil {
		return 0, fmt.Errorf("locking members for decay: %w", err)
	}

	factor := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	now := r.clock.Now().UTC()
	reason := fmt.Sprintf("EPGP decay %g%%", pct)

	affected := 0
	for _, m := range rows {
		newEP := m.EP.Mul(factor).Round(2)
		newGP := m.GP.Mul(factor).Round(2)
		// Rounding can leave tiny balances unchanged; those members are not
		// affected.
		if newEP.Equal(m.EP) && newGP.Equal(m.GP) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET ep = $1, gp = $2, updated_at = $3 WHERE id = $4`,
			newEP, newGP, now, m.ID); err != nil {
			return 0, fmt.Errorf("decaying member %s: %w", m.ID, err)
		}
		entry := store.LedgerEntry{Reason: reason, PerformedBy: performedBy}
		if d := newEP.Sub(m.EP); !d.IsZero() {
			if err := logTx(ctx, tx, m.ID, store.CurrencyEP, d, entry, now); err != nil {
				return 0, err
			}
		}
		if d := newGP.Sub(m.GP); !d.IsZero() {
			if err := logTx(ctx, tx, m.ID, store.CurrencyGP, d, entry, now); err != nil {
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
	var txs []store.Transaction
	err = r.db.SelectContext(ctx, &txs,
		`SELECT * FROM transactions WHERE member_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		m.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return txs, nil
}

// lockMember creates the member row if missing and takes its row lock for
// the rest of the transaction. The insert-or-update is a single upsert so no
// duplicate-row race exists.
func lockMember(ctx context.Context, tx *sqlx.Tx, clk clock.Clock, userID string) (*store.Member, error) {
	var m store.Member
	err := tx.GetContext(ctx, &m,
		`INSERT INTO members (user_id, updated_at) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING *`,
		userID, clk.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("upserting member %s: %w", userID, err)
	}
	return &m, nil
}

// adjustDKPTx performs the clamped read-modify-write on one member inside an
// existing transaction and logs the actual delta.
func adjustDKPTx(ctx context.Context, tx *sqlx.Tx, clk clock.Clock, userID string, delta, cap int, entry store.LedgerEntry) (*store.DKPAdjustment, error) {
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

// adjustEPGPTx floors EP and GP at zero and logs one row per changed
// currency.
func adjustEPGPTx(ctx context.Context, tx *sqlx.Tx, clk clock.Clock, userID string, epDelta, gpDelta decimal.Decimal, entry store.LedgerEntry) (*store.EPGPAdjustment, error) {
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

// logTx appends one immutable transaction row.
func logTx(ctx context.Context, tx *sqlx.Tx, memberID string, currency store.Currency, delta decimal.Decimal, entry store.LedgerEntry, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (member_id, currency, delta, reason, performed_by, auction_id, report_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		memberID, currency, delta, entry.Reason, entry.PerformedBy, entry.AuctionID, entry.ReportCode, now)
	if err != nil {
		return fmt.Errorf("logging transaction: %w", err)
	}
	return nil
}

package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/guildtools/lootledger/internal/clock"
)

// SettingRepo implements store.SettingRepository using database/sql.
type SettingRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSettingRepo returns a new SettingRepo.
func NewSettingRepo(db *sql.DB, clk clock.Clock) *SettingRepo {
	return &SettingRepo{db: db, clock: clk}
}

func (r *SettingRepo) Get(ctx context.Context, key, def string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting %s: %w", key, err)
	}
	return value, nil
}

func (r *SettingRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, r.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store"
)

// AuctionRepo implements store.AuctionRepository using database/sql.
type AuctionRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sql.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

const auctionColumns = `id, item_name, item_rarity, item_slot, min_bid, status, created_by, winner_id, win_amount, ends_at, created_at, closed_at`

func scanAuction(row interface {
	Scan(dest ...any) error
}) (*store.Auction, error) {
	a := &store.Auction{}
	err := row.Scan(&a.ID, &a.ItemName, &a.ItemRarity, &a.ItemSlot, &a.MinBid, &a.Status,
		&a.CreatedBy, &a.WinnerID, &a.WinAmount, &a.EndsAt, &a.CreatedAt, &a.ClosedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	a.CreatedAt = r.clock.Now().UTC()
	a.Status = store.AuctionActive
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions (id, item_name, item_rarity, item_slot, min_bid, status, created_by, ends_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ItemName, a.ItemRarity, a.ItemSlot, a.MinBid, a.Status, a.CreatedBy, a.EndsAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating auction: %w", mapErr(err))
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	a, err := scanAuction(r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", mapErr(err))
	}
	return a, nil
}

// PlaceBid mirrors the sqlx driver: auction lock first, then member lock,
// then all checks against current committed state.
func (r *AuctionRepo) PlaceBid(ctx context.Context, auctionID, memberID string, amount int) (*store.Bid, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAuction(tx.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("locking auction: %w", err)
	}
	now := r.clock.Now().UTC()
	if a.Status != store.AuctionActive || !now.Before(a.EndsAt) {
		return nil, store.ErrAuctionClosed
	}

	m, err := scanMember(tx.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, memberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("locking member: %w", err)
	}

	if amount < a.MinBid {
		return nil, store.ErrBidBelowMinimum
	}

	var highest int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(amount), 0) FROM bids WHERE auction_id = $1`, auctionID).Scan(&highest); err != nil {
		return nil, fmt.Errorf("reading highest bid: %w", err)
	}
	if amount <= highest {
		return nil, store.ErrBidTooLow
	}

	var committed int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(b.amount), 0)
		 FROM bids b JOIN auctions a ON a.id = b.auction_id
		 WHERE b.member_id = $1 AND b.auction_id <> $2 AND a.status = $3`,
		memberID, auctionID, store.AuctionActive).Scan(&committed); err != nil {
		return nil, fmt.Errorf("reading committed bids: %w", err)
	}
	if m.DKP-committed < amount {
		return nil, store.ErrInsufficientDKP
	}

	bid := &store.Bid{AuctionID: auctionID, MemberID: memberID, Amount: amount, CreatedAt: now}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bids (auction_id, member_id, amount, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (auction_id, member_id)
		 DO UPDATE SET amount = EXCLUDED.amount, created_at = EXCLUDED.created_at`,
		bid.AuctionID, bid.MemberID, bid.Amount, bid.CreatedAt); err != nil {
		return nil, fmt.Errorf("upserting bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bid: %w", err)
	}
	return bid, nil
}

// Complete mirrors the sqlx driver: the status transition, winner
// resolution and the winner's charge run in one transaction.
func (r *AuctionRepo) Complete(ctx context.Context, id string, charge *store.SettlementCharge) (*store.AuctionSettlement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAuction(tx.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("locking auction: %w", err)
	}
	if a.Status != store.AuctionActive {
		return nil, store.ErrAuctionClosed
	}

	now := r.clock.Now().UTC()

	var w store.AuctionWinner
	err = tx.QueryRowContext(ctx,
		`SELECT b.member_id, m.user_id, m.character_name, b.amount
		 FROM bids b JOIN members m ON m.id = b.member_id
		 WHERE b.auction_id = $1
		 ORDER BY b.amount DESC, b.created_at ASC
		 LIMIT 1`, id).Scan(&w.MemberID, &w.UserID, &w.CharacterName, &w.Amount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`UPDATE auctions SET status = $1, closed_at = $2 WHERE id = $3`,
			store.AuctionCompleted, now, id); err != nil {
			return nil, fmt.Errorf("completing auction: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing completion: %w", err)
		}
		return &store.AuctionSettlement{}, nil
	case err != nil:
		return nil, fmt.Errorf("selecting winner: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE auctions SET status = $1, winner_id = $2, win_amount = $3, closed_at = $4 WHERE id = $5`,
		store.AuctionCompleted, w.MemberID, w.Amount, now, id); err != nil {
		return nil, fmt.Errorf("completing auction: %w", err)
	}

	res := &store.AuctionSettlement{Winner: &w}
	if charge != nil {
		switch charge.Currency {
		case store.CurrencyDKP:
			adj, err := adjustDKPTx(ctx, tx, r.clock, w.UserID, -w.Amount, 0, charge.Entry)
			if err != nil {
				return nil, fmt.Errorf("debiting winner: %w", err)
			}
			res.DKP = adj
		case store.CurrencyGP:
			adj, err := adjustEPGPTx(ctx, tx, r.clock, w.UserID, decimal.Zero, charge.GPValue, charge.Entry)
			if err != nil {
				return nil, fmt.Errorf("charging winner GP: %w", err)
			}
			res.EPGP = adj
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing completion: %w", err)
	}
	return res, nil
}

func (r *AuctionRepo) Cancel(ctx context.Context, id string) error {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`,
		store.AuctionCancelled, now, id, store.AuctionActive)
	if err != nil {
		return fmt.Errorf("cancelling auction: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return store.ErrNotFound
		}
		return store.ErrAuctionClosed
	}
	return nil
}

func (r *AuctionRepo) ListActive(ctx context.Context) ([]store.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = $1 ORDER BY created_at ASC`,
		store.AuctionActive)
	if err != nil {
		return nil, fmt.Errorf("listing active auctions: %w", err)
	}
	defer rows.Close()

	var auctions []store.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning auction row: %w", err)
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

func (r *AuctionRepo) Bids(ctx context.Context, auctionID string) ([]store.Bid, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT auction_id, member_id, amount, created_at
		 FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	defer rows.Close()

	var bids []store.Bid
	for rows.Next() {
		var b store.Bid
		if err := rows.Scan(&b.AuctionID, &b.MemberID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bid row: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store"
)

// LootRepo implements store.LootRepository with sqlx.
type LootRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewLootRepo returns a new LootRepo.
func NewLootRepo(db *sqlx.DB, clk clock.Clock) *LootRepo {
	return &LootRepo{db: db, clock: clk}
}

func (r *LootRepo) CreateDecision(ctx context.Context, d *store.LootDecision) error {
	d.CreatedAt = r.clock.Now().UTC()
	d.Status = store.DecisionOpen
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loot_decisions (id, item_name, status, created_at) VALUES ($1, $2, $3, $4)`,
		d.ID, d.ItemName, d.Status, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating loot decision: %w", mapErr(err))
	}
	return nil
}

func (r *LootRepo) GetDecision(ctx context.Context, id string) (*store.LootDecision, error) {
	var d store.LootDecision
	err := r.db.GetContext(ctx, &d, `SELECT * FROM loot_decisions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting loot decision: %w", mapErr(err))
	}
	return &d, nil
}

func (r *LootRepo) Decide(ctx context.Context, id, winnerID, decidedBy string) error {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE loot_decisions SET status = $1, winner_id = $2, decided_by = $3, decided_at = $4
		 WHERE id = $5 AND status = $6`,
		store.DecisionDecided, winnerID, decidedBy, now, id, store.DecisionOpen)
	if err != nil {
		return fmt.Errorf("deciding loot: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := r.GetDecision(ctx, id); err != nil {
			return store.ErrNotFound
		}
		return store.ErrDecisionClosed
	}
	return nil
}

func (r *LootRepo) CancelDecision(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE loot_decisions SET status = $1 WHERE id = $2 AND status = $3`,
		store.DecisionCancelled, id, store.DecisionOpen)
	if err != nil {
		return fmt.Errorf("cancelling loot decision: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := r.GetDecision(ctx, id); err != nil {
			return store.ErrNotFound
		}
		return store.ErrDecisionClosed
	}
	return nil
}

// UpsertResponse replaces any prior response by the same member on the same
// decision in a single statement, so the row never transiently disappears.
func (r *LootRepo) UpsertResponse(ctx context.Context, resp *store.LootResponse) error {
	resp.CreatedAt = r.clock.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loot_responses (decision_id, member_id, response, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (decision_id, member_id)
		 DO UPDATE SET response = EXCLUDED.response, created_at = EXCLUDED.created_at`,
		resp.DecisionID, resp.MemberID, resp.Response, resp.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting loot response: %w", err)
	}
	return nil
}

func (r *LootRepo) UpsertVote(ctx context.Context, v *store.LootVote) error {
	v.CreatedAt = r.clock.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loot_votes (decision_id, voter_id, candidate_id, vote, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (decision_id, voter_id)
		 DO UPDATE SET candidate_id = EXCLUDED.candidate_id, vote = EXCLUDED.vote, created_at = EXCLUDED.created_at`,
		v.DecisionID, v.VoterID, v.CandidateID, v.Vote, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting loot vote: %w", err)
	}
	return nil
}

func (r *LootRepo) Responses(ctx context.Context, decisionID string) ([]store.LootResponse, error) {
	var responses []store.LootResponse
	err := r.db.SelectContext(ctx, &responses,
		`SELECT * FROM loot_responses WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("listing loot responses: %w", err)
	}
	return responses, nil
}

func (r *LootRepo) Votes(ctx context.Context, decisionID string) ([]store.LootVote, error) {
	var votes []store.LootVote
	err := r.db.SelectContext(ctx, &votes,
		`SELECT * FROM loot_votes WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("listing loot votes: %w", err)
	}
	return votes, nil
}

func (r *LootRepo) AwardCount(ctx context.Context, memberID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM loot_decisions WHERE status = $1 AND winner_id = $2`,
		store.DecisionDecided, memberID)
	if err != nil {
		return 0, fmt.Errorf("counting awards: %w", err)
	}
	return n, nil
}

func (r *LootRepo) AwardCounts(ctx context.Context) (map[string]int, error) {
	type row struct {
		WinnerID string `db:"winner_id"`
		N        int    `db:"n"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows,
		`SELECT winner_id, COUNT(*) AS n FROM loot_decisions
		 WHERE status = $1 AND winner_id IS NOT NULL
		 GROUP BY winner_id`, store.DecisionDecided)
	if err != nil {
		return nil, fmt.Errorf("counting awards: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.WinnerID] = r.N
	}
	return counts, nil
}

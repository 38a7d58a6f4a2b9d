package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/store"
)

// LootRepo implements store.LootRepository using database/sql.
type LootRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewLootRepo returns a new LootRepo.
func NewLootRepo(db *sql.DB, clk clock.Clock) *LootRepo {
	return &LootRepo{db: db, clock: clk}
}

const decisionColumns = `id, item_name, status, winner_id, decided_by, created_at, decided_at`

func scanDecision(row interface {
	Scan(dest ...any) error
}) (*store.LootDecision, error) {
	d := &store.LootDecision{}
	err := row.Scan(&d.ID, &d.ItemName, &d.Status, &d.WinnerID, &d.DecidedBy, &d.CreatedAt, &d.DecidedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
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
	d, err := scanDecision(r.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM loot_decisions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting loot decision: %w", mapErr(err))
	}
	return d, nil
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
	rows, err := r.db.QueryContext(ctx,
		`SELECT decision_id, member_id, response, created_at
		 FROM loot_responses WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("listing loot responses: %w", err)
	}
	defer rows.Close()

	var responses []store.LootResponse
	for rows.Next() {
		var resp store.LootResponse
		if err := rows.Scan(&resp.DecisionID, &resp.MemberID, &resp.Response, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning response row: %w", err)
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

func (r *LootRepo) Votes(ctx context.Context, decisionID string) ([]store.LootVote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT decision_id, voter_id, candidate_id, vote, created_at
		 FROM loot_votes WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("listing loot votes: %w", err)
	}
	defer rows.Close()

	var votes []store.LootVote
	for rows.Next() {
		var v store.LootVote
		if err := rows.Scan(&v.DecisionID, &v.VoterID, &v.CandidateID, &v.Vote, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning vote row: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func (r *LootRepo) AwardCount(ctx context.Context, memberID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loot_decisions WHERE status = $1 AND winner_id = $2`,
		store.DecisionDecided, memberID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting awards: %w", err)
	}
	return n, nil
}

func (r *LootRepo) AwardCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT winner_id, COUNT(*) FROM loot_decisions
		 WHERE status = $1 AND winner_id IS NOT NULL
		 GROUP BY winner_id`, store.DecisionDecided)
	if err != nil {
		return nil, fmt.Errorf("counting awards: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var winnerID string
		var n int
		if err := rows.Scan(&winnerID, &n); err != nil {
			return nil, fmt.Errorf("scanning award count: %w", err)
		}
		counts[winnerID] = n
	}
	return counts, rows.Err()
}

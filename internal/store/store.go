package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared by repositories and managers. Callers classify
// failures with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("insufficient privileges")
	ErrAuctionClosed   = errors.New("auction is closed")
	ErrBidBelowMinimum = errors.New("bid is below minimum")
	ErrBidTooLow       = errors.New("bid must be higher than current highest bid")
	ErrInsufficientDKP = errors.New("insufficient DKP")
	ErrInvalidAmount   = errors.New("amount must be a positive integer")
	ErrInvalidPercent  = errors.New("percentage must be between 0 and 100")
	ErrDecisionClosed  = errors.New("loot decision is closed")
	ErrInvalidResponse = errors.New("response must be one of bis, upgrade, minor, offspec, pass")
	ErrInvalidVote     = errors.New("vote must be approve or reject")
)

// Role is a guild-site role. Loot-affecting operations require officer or
// admin.
type Role string

const (
	RoleMember  Role = "member"
	RoleOfficer Role = "officer"
	RoleAdmin   Role = "admin"
)

// Actor identifies who performs an operation.
type Actor struct {
	UserID string
	Role   Role
}

// CanManageLoot reports whether the actor may create/settle auctions, adjust
// ledgers, apply decay or import raids.
func (a Actor) CanManageLoot() bool {
	return a.Role == RoleOfficer || a.Role == RoleAdmin
}

// Currency identifies a ledger dimension.
type Currency string

const (
	CurrencyDKP Currency = "dkp"
	CurrencyEP  Currency = "ep"
	CurrencyGP  Currency = "gp"
)

// Member is a guild member's ledger row. DKP is an integer balance in
// [0, cap]; EP and GP are 2-decimal balances in [0, inf). Rows are created
// lazily on first award.
type Member struct {
	ID            string          `db:"id"`
	UserID        string          `db:"user_id"`
	CharacterName string          `db:"character_name"`
	DKP           int             `db:"dkp"`
	EP            decimal.Decimal `db:"ep"`
	GP            decimal.Decimal `db:"gp"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Transaction is an immutable ledger log row. The delta recorded is the
// actual (clamped) change, so per-currency sums always equal the live
// balance.
type Transaction struct {
	ID          int64           `db:"id"`
	MemberID    string          `db:"member_id"`
	Currency    Currency        `db:"currency"`
	Delta       decimal.Decimal `db:"delta"`
	Reason      string          `db:"reason"`
	PerformedBy string          `db:"performed_by"`
	AuctionID   *string         `db:"auction_id"`
	ReportCode  *string         `db:"report_code"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Auction statuses. An auction is created active and transitions exactly
// once to a terminal state.
const (
	AuctionActive    = "active"
	AuctionCompleted = "completed"
	AuctionCancelled = "cancelled"
)

// Auction is a single item auction.
type Auction struct {
	ID         string     `db:"id"`
	ItemName   string     `db:"item_name"`
	ItemRarity string     `db:"item_rarity"`
	ItemSlot   string     `db:"item_slot"`
	MinBid     int        `db:"min_bid"`
	Status     string     `db:"status"`
	CreatedBy  string     `db:"created_by"`
	WinnerID   *string    `db:"winner_id"`
	WinAmount  *int       `db:"win_amount"`
	EndsAt     time.Time  `db:"ends_at"`
	CreatedAt  time.Time  `db:"created_at"`
	ClosedAt   *time.Time `db:"closed_at"`
}

// Bid is the single standing bid of one member on one auction. Re-bidding
// replaces the row.
type Bid struct {
	AuctionID string    `db:"auction_id"`
	MemberID  string    `db:"member_id"`
	Amount    int       `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// AuctionWinner is the settlement result joined with the member row.
type AuctionWinner struct {
	MemberID      string `db:"member_id"`
	UserID        string `db:"user_id"`
	CharacterName string `db:"character_name"`
	Amount        int    `db:"amount"`
}

// Loot council decision statuses.
const (
	DecisionOpen      = "open"
	DecisionDecided   = "decided"
	DecisionCancelled = "cancelled"
)

// LootDecision is a loot-council allocation for one item.
type LootDecision struct {
	ID        string     `db:"id"`
	ItemName  string     `db:"item_name"`
	Status    string     `db:"status"`
	WinnerID  *string    `db:"winner_id"`
	DecidedBy *string    `db:"decided_by"`
	CreatedAt time.Time  `db:"created_at"`
	DecidedAt *time.Time `db:"decided_at"`
}

// LootResponse is a member's interest response on an open decision. Keyed by
// (decision, member); re-responding replaces.
type LootResponse struct {
	DecisionID string    `db:"decision_id"`
	MemberID   string    `db:"member_id"`
	Response   string    `db:"response"`
	CreatedAt  time.Time `db:"created_at"`
}

// LootVote is a council member's vote on a candidate. Keyed by
// (decision, voter); re-voting replaces.
type LootVote struct {
	DecisionID  string    `db:"decision_id"`
	VoterID     string    `db:"voter_id"`
	CandidateID string    `db:"candidate_id"`
	Vote        string    `db:"vote"`
	CreatedAt   time.Time `db:"created_at"`
}

// RaidParticipant is one already-matched participant from a raid-log report.
type RaidParticipant struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
}

// RaidCredit records the actual credited amount for one participant, fixed
// at import time. Revert compensates exactly these amounts.
type RaidCredit struct {
	UserID   string          `json:"user_id"`
	Credited decimal.Decimal `json:"credited"`
}

// RaidImportRecord is the idempotency record of one confirmed report.
type RaidImportRecord struct {
	ReportCode   string          `db:"report_code"`
	Strategy     string          `db:"strategy"`
	Participants []RaidCredit    `db:"-"`
	TotalAwarded decimal.Decimal `db:"total_awarded"`
	CreatedBy    string          `db:"created_by"`
	CreatedAt    time.Time       `db:"created_at"`
	RevertedAt   *time.Time      `db:"reverted_at"`
	RevertedBy   *string         `db:"reverted_by"`
}

// CreditPlan tells the raid importer which currency the active strategy
// credits. Cap <= 0 means uncapped.
type CreditPlan struct {
	Currency Currency
	Cap      int
}

// SettlementCharge is the ledger effect applied to an auction winner inside
// the completion transaction. CurrencyDKP debits the winning bid;
// CurrencyGP adds GPValue. A nil charge completes the auction with no
// ledger effect.
type SettlementCharge struct {
	Currency Currency
	GPValue  decimal.Decimal
	Entry    LedgerEntry
}

// AuctionSettlement is the outcome of completing an auction. At most one of
// DKP and EPGP is set, per the charge currency; both are nil when no winner
// stood or no charge was given.
type AuctionSettlement struct {
	Winner *AuctionWinner
	DKP    *DKPAdjustment
	EPGP   *EPGPAdjustment
}

// LedgerEntry carries the audit fields attached to every ledger mutation.
type LedgerEntry struct {
	Reason      string
	PerformedBy string
	AuctionID   *string
	ReportCode  *string
}

// DKPAdjustment is the result of an atomic DKP adjust.
type DKPAdjustment struct {
	MemberID   string
	NewBalance int
	ActualGain int
	WasCapped  bool
}

// EPGPAdjustment is the result of an atomic EP/GP adjust.
type EPGPAdjustment struct {
	MemberID string
	NewEP    decimal.Decimal
	NewGP    decimal.Decimal
	EPGain   decimal.Decimal
	GPGain   decimal.Decimal
}

// LedgerRepository defines member ledger persistence. All Adjust/Decay
// methods are single atomic transactions; the logged delta is the clamped
// one.
type LedgerRepository interface {
	GetMember(ctx context.Context, userID string) (*Member, error)
	GetMemberByID(ctx context.Context, id string) (*Member, error)
	List(ctx context.Context) ([]Member, error)
	// AdjustDKP clamps delta into [0, cap] (cap <= 0 means uncapped) and
	// logs the actual gain. The member row is created lazily.
	AdjustDKP(ctx context.Context, userID string, delta, cap int, entry LedgerEntry) (*DKPAdjustment, error)
	// AdjustEPGP floors EP and GP at zero and logs the actual per-currency
	// gains. The member row is created lazily.
	AdjustEPGP(ctx context.Context, userID string, epDelta, gpDelta decimal.Decimal, entry LedgerEntry) (*EPGPAdjustment, error)
	// DecayDKP multiplies every nonzero DKP balance by (1-pct/100),
	// truncating to integer, in one transaction. Returns members affected.
	DecayDKP(ctx context.Context, pct float64, performedBy string) (int, error)
	// DecayEPGP scales EP and GP independently by (1-pct/100), rounding to
	// 2 decimals, in one transaction. Returns members affected.
	DecayEPGP(ctx context.Context, pct float64, performedBy string) (int, error)
	History(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

// AuctionRepository defines auction and bid persistence. PlaceBid and
// Complete enclose their validation in the same transaction that mutates
// state, so checks always run against current committed rows.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	// PlaceBid locks the auction row, then the bidding member's row, then
	// validates: auction active and unexpired, amount at least the min bid
	// and above the highest standing bid, and available DKP (balance minus
	// the member's standing bids on other active auctions) covering the
	// amount. Upserts the single (auction, member) bid row.
	PlaceBid(ctx context.Context, auctionID, memberID string, amount int) (*Bid, error)
	// Complete transitions active -> completed, resolves the winner
	// (highest amount, earliest bid on ties) and applies the charge to the
	// winner, all in one transaction: the transition and the winner's
	// ledger effect commit or roll back together.
	Complete(ctx context.Context, id string, charge *SettlementCharge) (*AuctionSettlement, error)
	// Cancel transitions active -> cancelled. No ledger effects.
	Cancel(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]Auction, error)
	Bids(ctx context.Context, auctionID string) ([]Bid, error)
}

// LootRepository defines loot-council persistence. Responses and votes are
// true upserts on their natural keys.
type LootRepository interface {
	CreateDecision(ctx context.Context, d *LootDecision) error
	GetDecision(ctx context.Context, id string) (*LootDecision, error)
	// Decide transitions open -> decided with a winner.
	Decide(ctx context.Context, id, winnerID, decidedBy string) error
	CancelDecision(ctx context.Context, id string) error
	UpsertResponse(ctx context.Context, r *LootResponse) error
	UpsertVote(ctx context.Context, v *LootVote) error
	Responses(ctx context.Context, decisionID string) ([]LootResponse, error)
	Votes(ctx context.Context, decisionID string) ([]LootVote, error)
	// AwardCount returns how many decided items a member has received.
	AwardCount(ctx context.Context, memberID string) (int, error)
	AwardCounts(ctx context.Context) (map[string]int, error)
}

// RaidImportRepository defines idempotent raid crediting. Confirm and Revert
// each run as one transaction covering every ledger write and the record
// itself.
type RaidImportRepository interface {
	// Confirm credits every participant per the plan and persists the
	// import record. A duplicate report code returns ErrConflict with zero
	// ledger effect. A nil plan records the import without crediting.
	Confirm(ctx context.Context, reportCode string, participants []RaidParticipant, plan *CreditPlan, performedBy string) (*RaidImportRecord, error)
	// Revert applies compensating deltas equal to the original credited
	// amounts. Valid exactly once per report; afterwards ErrNotFound.
	Revert(ctx context.Context, reportCode, performedBy string) (*RaidImportRecord, error)
	Get(ctx context.Context, reportCode string) (*RaidImportRecord, error)
}

// SettingRepository is the guild configuration source consumed by the
// strategy registry. Values are plain strings.
type SettingRepository interface {
	Get(ctx context.Context, key, def string) (string, error)
	Set(ctx context.Context, key, value string) error
}

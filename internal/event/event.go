package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	AuctionStarted   Type = "auction.started"
	AuctionBidPlaced Type = "auction.bid_placed"
	AuctionCompleted Type = "auction.completed"
	AuctionCancelled Type = "auction.cancelled"

	DKPUpdated   Type = "dkp.updated"
	DecayApplied Type = "ledger.decay_applied"

	RaidImported       Type = "raid.imported"
	RaidImportReverted Type = "raid.import_reverted"

	LootDecided Type = "loot.decided"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionStartedData is the payload for AuctionStarted events.
type AuctionStartedData struct {
	AuctionID string    `json:"id"`
	Item      string    `json:"item"`
	MinBid    int       `json:"min_bid"`
	EndsAt    time.Time `json:"ends_at"`
	StartedBy string    `json:"started_by"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	AuctionID     string `json:"auction_id"`
	UserID        string `json:"user_id"`
	CharacterName string `json:"character_name"`
	Amount        int    `json:"amount"`
}

// AuctionCompletedData is the payload for AuctionCompleted events. WinnerID
// is empty when the auction closed without bids.
type AuctionCompletedData struct {
	AuctionID string `json:"auction_id"`
	WinnerID  string `json:"winner_id,omitempty"`
	Amount    int    `json:"amount,omitempty"`
}

// DKPUpdatedData is the payload for DKPUpdated events. Amount is the actual
// (clamped) delta applied.
type DKPUpdatedData struct {
	UserID string `json:"user_id"`
	NewDKP int    `json:"new_dkp"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// DecayAppliedData is the payload for DecayApplied events.
type DecayAppliedData struct {
	Strategy string  `json:"strategy"`
	Percent  float64 `json:"percent"`
	Members  int     `json:"members"`
}

// RaidImportData is the payload for RaidImported and RaidImportReverted
// events.
type RaidImportData struct {
	ReportCode   string          `json:"report_code"`
	Participants int             `json:"participants"`
	TotalAwarded decimal.Decimal `json:"total_awarded"`
}

// LootDecidedData is the payload for LootDecided events.
type LootDecidedData struct {
	DecisionID string `json:"decision_id"`
	Item       string `json:"item"`
	WinnerID   string `json:"winner_id"`
	DecidedBy  string `json:"decided_by"`
}

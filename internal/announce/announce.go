// Package announce pushes loot events into a Discord channel. It implements
// event.Publisher, so announcement is just another fan-out target; delivery
// failures never affect the ledger.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/guildtools/lootledger/internal/event"
)

// sender is the slice of discordgo.Session the announcer needs.
type sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer publishes loot events to a Discord channel.
type Announcer struct {
	session   sender
	channelID string
	logger    *slog.Logger
}

// New wraps an existing Discord session. The session's lifecycle is owned by
// the caller (the bot opens and closes it).
func New(session sender, channelID string, logger *slog.Logger) *Announcer {
	return &Announcer{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}
}

// Publish implements event.Publisher.
func (a *Announcer) Publish(ctx context.Context, e event.Event) error {
	msg := formatMessage(e)
	if msg == "" {
		return nil
	}
	if _, err := a.session.ChannelMessageSend(a.channelID, msg); err != nil {
		return fmt.Errorf("sending announcement: %w", err)
	}
	a.logger.DebugContext(ctx, "event announced", slog.String("type", string(e.Type)))
	return nil
}

// formatMessage renders an event as a channel message. Unannounced event
// types render empty.
func formatMessage(e event.Event) string {
	switch e.Type {
	case event.AuctionStarted:
		var d event.AuctionStartedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return ""
		}
		return fmt.Sprintf("Auction started for **%s** (min bid %d). Ends <t:%d:R>.", d.Item, d.MinBid, d.EndsAt.Unix())
	case event.AuctionCompleted:
		var d event.AuctionCompletedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return ""
		}
		if d.WinnerID == "" {
			return "Auction closed with no bids."
		}
		return fmt.Sprintf("Auction won by <@%s> for **%d**.", d.WinnerID, d.Amount)
	case event.AuctionCancelled:
		return "Auction cancelled."
	case event.DecayApplied:
		var d event.DecayAppliedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return ""
		}
		return fmt.Sprintf("Applied %.0f%% decay to %d members.", d.Percent, d.Members)
	case event.RaidImported:
		var d event.RaidImportData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return ""
		}
		return fmt.Sprintf("Raid `%s` imported: %d members credited %s total.", d.ReportCode, d.Participants, d.TotalAwarded.StringFixed(0))
	case event.RaidImportReverted:
		var d event.RaidImportData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return ""
		}
		return fmt.Sprintf("Raid import `%s` reverted.", d.ReportCode)
	case event.LootDecided:
		var d event.LootDecidedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return ""
		}
		return fmt.Sprintf("Council awarded **%s** to <@%s>.", d.Item, d.WinnerID)
	}
	return ""
}

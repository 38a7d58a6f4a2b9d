package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildtools/lootledger/internal/config"
	"github.com/guildtools/lootledger/internal/ledger"
	"github.com/guildtools/lootledger/internal/market"
	"github.com/guildtools/lootledger/internal/raidimport"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
)

// Handlers process Discord interactions.
type Handlers struct {
	cfg       config.DiscordConfig
	ledgerMgr *ledger.Manager
	marketMgr *market.Manager
	imports   *raidimport.Adapter
	council   *strategy.LootCouncil
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(cfg config.DiscordConfig, ledgerMgr *ledger.Manager, marketMgr *market.Manager, imports *raidimport.Adapter, council *strategy.LootCouncil, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		cfg:       cfg,
		ledgerMgr: ledgerMgr,
		marketMgr: marketMgr,
		imports:   imports,
		council:   council,
		logger:    logger,
		tracer:    tp.Tracer("github.com/guildtools/lootledger/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "balance",
			Description: "Check your DKP / EPGP balances",
		},
		{
			Name:        "leaderboard",
			Description: "Show loot priority standings under the active strategy",
		},
		{
			Name:        "history",
			Description: "Show your recent ledger transactions",
		},
		{
			Name:        "dkp-adjust",
			Description: "Adjust a member's DKP (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "The member whose DKP to adjust",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Amount to add (negative to deduct)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason for the adjustment",
					Required:    true,
				},
			},
		},
		{
			Name:        "epgp-adjust",
			Description: "Adjust a member's EP and/or GP (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "The member whose EP/GP to adjust",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "ep",
					Description: "EP delta (decimal, default 0)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "gp",
					Description: "GP delta (decimal, default 0)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason for the adjustment",
					Required:    false,
				},
			},
		},
		{
			Name:        "auction-start",
			Description: "Start an item auction (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item",
					Description: "Item name to auction",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "rarity",
					Description: "Item rarity (e.g. epic)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "slot",
					Description: "Item slot (e.g. weapon)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "min-bid",
					Description: "Minimum bid amount (default: 1)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "duration",
					Description: "Auction duration in minutes (default: 5)",
					Required:    false,
				},
			},
		},
		{
			Name:        "auctions",
			Description: "List active auctions",
		},
		{
			Name:        "bid",
			Description: "Place a bid on an active auction",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID to bid on",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Bid amount",
					Required:    true,
				},
			},
		},
		{
			Name:        "auction-end",
			Description: "End an auction and settle the winner (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID to end",
					Required:    true,
				},
			},
		},
		{
			Name:        "auction-cancel",
			Description: "Cancel an auction without settling (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID to cancel",
					Required:    true,
				},
			},
		},
		{
			Name:        "raid-import",
			Description: "Credit a raid's participants from a report (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "report-code",
					Description: "Raid log report code",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "participants",
					Description: "Comma-separated user:amount pairs, e.g. 123:50,456:50",
					Required:    true,
				},
			},
		},
		{
			Name:        "raid-revert",
			Description: "Revert a previously imported raid (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "report-code",
					Description: "Raid log report code to revert",
					Required:    true,
				},
			},
		},
		{
			Name:        "loot-open",
			Description: "Open a loot council decision for an item (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item",
					Description: "Item name to decide on",
					Required:    true,
				},
			},
		},
		{
			Name:        "loot-respond",
			Description: "Declare your interest in an open loot decision",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "decision-id",
					Description: "Decision ID to respond to",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "response",
					Description: "One of: bis, upgrade, minor, offspec, pass",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "bis", Value: "bis"},
						{Name: "upgrade", Value: "upgrade"},
						{Name: "minor", Value: "minor"},
						{Name: "offspec", Value: "offspec"},
						{Name: "pass", Value: "pass"},
					},
				},
			},
		},
		{
			Name:        "loot-vote",
			Description: "Vote on a candidate in an open loot decision (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "decision-id",
					Description: "Decision ID to vote on",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "candidate",
					Description: "The candidate being voted on",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "vote",
					Description: "approve or reject",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "approve", Value: "approve"},
						{Name: "reject", Value: "reject"},
					},
				},
			},
		},
		{
			Name:        "loot-award",
			Description: "Award the item and close the decision (officer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "decision-id",
					Description: "Decision ID to finalize",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "winner",
					Description: "The member receiving the item",
					Required:    true,
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", i.ApplicationCommandData().Name)),
	)
	defer span.End()

	switch i.ApplicationCommandData().Name {
	case "balance":
		h.handleBalance(ctx, s, i)
	case "leaderboard":
		h.handleLeaderboard(ctx, s, i)
	case "history":
		h.handleHistory(ctx, s, i)
	case "dkp-adjust":
		h.handleDKPAdjust(ctx, s, i)
	case "epgp-adjust":
		h.handleEPGPAdjust(ctx, s, i)
	case "auction-start":
		h.handleAuctionStart(ctx, s, i)
	case "auctions":
		h.handleAuctions(ctx, s, i)
	case "bid":
		h.handleBid(ctx, s, i)
	case "auction-end":
		h.handleAuctionEnd(ctx, s, i)
	case "auction-cancel":
		h.handleAuctionCancel(ctx, s, i)
	case "raid-import":
		h.handleRaidImport(ctx, s, i)
	case "raid-revert":
		h.handleRaidRevert(ctx, s, i)
	case "loot-open":
		h.handleLootOpen(ctx, s, i)
	case "loot-respond":
		h.handleLootRespond(ctx, s, i)
	case "loot-vote":
		h.handleLootVote(ctx, s, i)
	case "loot-award":
		h.handleLootAward(ctx, s, i)
	default:
		respond(s, i, "Unknown command")
	}
}

// actor maps the invoking Discord member onto a ledger actor. Role IDs come
// from configuration; anyone without the admin or officer role is a member.
func (h *Handlers) actor(i *discordgo.InteractionCreate) store.Actor {
	a := store.Actor{UserID: i.Member.User.ID, Role: store.RoleMember}
	for _, roleID := range i.Member.Roles {
		switch roleID {
		case h.cfg.AdminRoleID:
			return store.Actor{UserID: a.UserID, Role: store.RoleAdmin}
		case h.cfg.OfficerRoleID:
			a.Role = store.RoleOfficer
		}
	}
	return a
}

func (h *Handlers) handleBalance(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	m, err := h.ledgerMgr.GetMember(ctx, i.Member.User.ID)
	if err != nil {
		respond(s, i, "You have no ledger entry yet.")
		return
	}
	respond(s, i, fmt.Sprintf("**%s** — DKP: **%d**, EP: %s, GP: %s",
		m.CharacterName, m.DKP, m.EP.StringFixed(2), m.GP.StringFixed(2)))
}

func (h *Handlers) handleLeaderboard(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	standings, err := h.ledgerMgr.Leaderboard(ctx)
	if err != nil {
		respond(s, i, fmt.Sprintf("Error listing standings: %s", err))
		return
	}
	if len(standings) == 0 {
		respond(s, i, "No members on the ledger yet.")
		return
	}
	msg := "**Standings:**\n"
	for idx, st := range standings {
		msg += fmt.Sprintf("%d. %s — priority %.2f (DKP %d)\n", idx+1, st.CharacterName, st.Priority, st.DKP)
	}
	respond(s, i, msg)
}

func (h *Handlers) handleHistory(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	txs, err := h.ledgerMgr.History(ctx, i.Member.User.ID, 10)
	if err != nil {
		respond(s, i, fmt.Sprintf("Error loading history: %s", err))
		return
	}
	if len(txs) == 0 {
		respond(s, i, "No transactions yet.")
		return
	}
	msg := "**Recent transactions:**\n"
	for _, tx := range txs {
		msg += fmt.Sprintf("%s %s %s — %s\n", tx.CreatedAt.Format("2006-01-02"), strings.ToUpper(string(tx.Currency)), tx.Delta.StringFixed(2), tx.Reason)
	}
	respond(s, i, msg)
}

func (h *Handlers) handleDKPAdjust(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	targetUser := opts[0].UserValue(s)
	amount := int(opts[1].IntValue())
	reason := opts[2].StringValue()

	adj, err := h.ledgerMgr.AdjustDKP(ctx, h.actor(i), targetUser.ID, amount, reason)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to adjust DKP: %s", err))
		return
	}
	msg := fmt.Sprintf("Adjusted <@%s> by **%d DKP** (now %d) for: %s", targetUser.ID, adj.ActualGain, adj.NewBalance, reason)
	if adj.WasCapped {
		msg += " (capped)"
	}
	respond(s, i, msg)
}

func (h *Handlers) handleEPGPAdjust(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	ep, gp := decimal.Zero, decimal.Zero
	reason := "Manual adjustment"
	var targetID string

	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "member":
			targetID = opt.UserValue(s).ID
		case "ep":
			v, err := decimal.NewFromString(opt.StringValue())
			if err != nil {
				respond(s, i, fmt.Sprintf("Invalid EP delta %q", opt.StringValue()))
				return
			}
			ep = v
		case "gp":
			v, err := decimal.NewFromString(opt.StringValue())
			if err != nil {
				respond(s, i, fmt.Sprintf("Invalid GP delta %q", opt.StringValue()))
				return
			}
			gp = v
		case "reason":
			reason = opt.StringValue()
		}
	}

	adj, err := h.ledgerMgr.AdjustEPGP(ctx, h.actor(i), targetID, ep, gp, reason)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to adjust EP/GP: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Adjusted <@%s>: EP %s, GP %s (now %s / %s)",
		targetID, adj.EPGain.StringFixed(2), adj.GPGain.StringFixed(2), adj.NewEP.StringFixed(2), adj.NewGP.StringFixed(2)))
}

func (h *Handlers) handleAuctionStart(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	itemName := opts[0].StringValue()

	rarity, slot := "", ""
	minBid := 1
	duration := 5 * time.Minute

	for _, opt := range opts[1:] {
		switch opt.Name {
		case "rarity":
			rarity = opt.StringValue()
		case "slot":
			slot = opt.StringValue()
		case "min-bid":
			minBid = int(opt.IntValue())
		case "duration":
			duration = time.Duration(opt.IntValue()) * time.Minute
		}
	}

	a, err := h.marketMgr.Create(ctx, h.actor(i), itemName, rarity, slot, minBid, duration)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to start auction: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Auction started for **%s** (ID: `%s`, Min bid: %d, ends <t:%d:R>)", itemName, a.ID, a.MinBid, a.EndsAt.Unix()))
}

func (h *Handlers) handleAuctions(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	auctions, err := h.marketMgr.ListActive(ctx)
	if err != nil {
		respond(s, i, fmt.Sprintf("Error listing auctions: %s", err))
		return
	}
	if len(auctions) == 0 {
		respond(s, i, "No active auctions.")
		return
	}
	msg := "**Active auctions:**\n"
	for _, a := range auctions {
		msg += fmt.Sprintf("`%s` — %s (min bid %d, ends <t:%d:R>)\n", a.ID, a.ItemName, a.MinBid, a.EndsAt.Unix())
	}
	respond(s, i, msg)
}

func (h *Handlers) handleBid(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	auctionID := opts[0].StringValue()
	amount := int(opts[1].IntValue())

	if _, err := h.marketMgr.PlaceBid(ctx, i.Member.User.ID, auctionID, amount); err != nil {
		respond(s, i, fmt.Sprintf("Bid failed: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Bid of **%d** placed on auction `%s`", amount, auctionID))
}

func (h *Handlers) handleAuctionEnd(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	auctionID := i.ApplicationCommandData().Options[0].StringValue()

	settlement, err := h.marketMgr.End(ctx, h.actor(i), auctionID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to end auction: %s", err))
		return
	}
	if settlement.Winner == nil {
		respond(s, i, fmt.Sprintf("Auction `%s` closed with no bids.", auctionID))
		return
	}
	respond(s, i, fmt.Sprintf("Auction `%s` won by <@%s> for **%d**.", auctionID, settlement.Winner.UserID, settlement.Winner.Amount))
}

func (h *Handlers) handleAuctionCancel(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	auctionID := i.ApplicationCommandData().Options[0].StringValue()

	if err := h.marketMgr.Cancel(ctx, h.actor(i), auctionID); err != nil {
		respond(s, i, fmt.Sprintf("Failed to cancel auction: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Auction `%s` cancelled.", auctionID))
}

func (h *Handlers) handleRaidImport(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	reportCode := opts[0].StringValue()

	participants, err := parseParticipants(opts[1].StringValue())
	if err != nil {
		respond(s, i, fmt.Sprintf("Invalid participants: %s", err))
		return
	}

	rec, err := h.imports.Confirm(ctx, h.actor(i), reportCode, participants)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to import raid: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Raid `%s` imported: %d members credited %s total.",
		rec.ReportCode, len(rec.Participants), rec.TotalAwarded.StringFixed(0)))
}

func (h *Handlers) handleRaidRevert(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	reportCode := i.ApplicationCommandData().Options[0].StringValue()

	if _, err := h.imports.Revert(ctx, h.actor(i), reportCode); err != nil {
		respond(s, i, fmt.Sprintf("Failed to revert raid: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Raid import `%s` reverted.", reportCode))
}

func (h *Handlers) handleLootOpen(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	itemName := i.ApplicationCommandData().Options[0].StringValue()

	d, err := h.council.OpenDecision(ctx, itemName, h.actor(i))
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to open decision: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Loot decision opened for **%s** (ID: `%s`). Respond with /loot-respond.", itemName, d.ID))
}

func (h *Handlers) handleLootRespond(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	decisionID := opts[0].StringValue()
	response := opts[1].StringValue()

	if err := h.council.Respond(ctx, decisionID, i.Member.User.ID, response); err != nil {
		respond(s, i, fmt.Sprintf("Failed to record response: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Response **%s** recorded on decision `%s`.", response, decisionID))
}

func (h *Handlers) handleLootVote(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	decisionID := opts[0].StringValue()
	candidate := opts[1].UserValue(s)
	vote := opts[2].StringValue()

	if err := h.council.Vote(ctx, decisionID, candidate.ID, vote, h.actor(i)); err != nil {
		respond(s, i, fmt.Sprintf("Failed to record vote: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Vote **%s** recorded for <@%s> on decision `%s`.", vote, candidate.ID, decisionID))
}

func (h *Handlers) handleLootAward(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	decisionID := opts[0].StringValue()
	winner := opts[1].UserValue(s)

	d, err := h.council.Decision(ctx, decisionID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to load decision: %s", err))
		return
	}
	if _, err := h.council.AwardItem(ctx, strategy.ItemAward{
		WinnerUserID: winner.ID,
		ItemName:     d.ItemName,
		DecisionID:   decisionID,
		Actor:        h.actor(i),
	}); err != nil {
		respond(s, i, fmt.Sprintf("Failed to award item: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("**%s** awarded to <@%s>; decision `%s` closed.", d.ItemName, winner.ID, decisionID))
}

// parseParticipants parses "user:amount" pairs separated by commas.
func parseParticipants(raw string) ([]store.RaidParticipant, error) {
	var out []store.RaidParticipant
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		userID, amountStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("%q is not a user:amount pair", pair)
		}
		amount, err := strconv.Atoi(strings.TrimSpace(amountStr))
		if err != nil {
			return nil, fmt.Errorf("amount in %q: %w", pair, err)
		}
		out = append(out, store.RaidParticipant{UserID: strings.TrimSpace(userID), Amount: amount})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no participants given")
	}
	return out, nil
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}

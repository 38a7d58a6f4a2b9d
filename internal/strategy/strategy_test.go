package strategy_test

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/store"
)

var testTP = noop.NewTracerProvider()

// mockLedger implements store.LedgerRepository for testing. Adjustments
// apply the same clamping the real repository does.
type mockLedger struct {
	members      map[string]*store.Member
	transactions []store.Transaction
	err          error
}

func newMockLedger() *mockLedger {
	return &mockLedger{members: make(map[string]*store.Member)}
}

func (m *mockLedger) seed(userID string, dkp int, ep, gp decimal.Decimal) *store.Member {
	mem := &store.Member{
		ID:            "id-" + userID,
		UserID:        userID,
		CharacterName: userID,
		DKP:           dkp,
		EP:            ep,
		GP:            gp,
	}
	m.members[userID] = mem
	return mem
}

func (m *mockLedger) GetMember(_ context.Context, userID string) (*store.Member, error) {
	if m.err != nil {
		return nil, m.err
	}
	mem, ok := m.members[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return mem, nil
}

func (m *mockLedger) GetMemberByID(_ context.Context, id string) (*store.Member, error) {
	for _, mem := range m.members {
		if mem.ID == id {
			return mem, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockLedger) List(_ context.Context) ([]store.Member, error) {
	if m.err != nil {
		return nil, m.err
	}
	result := make([]store.Member, 0, len(m.members))
	for _, mem := range m.members {
		result = append(result, *mem)
	}
	return result, nil
}

func (m *mockLedger) AdjustDKP(_ context.Context, userID string, delta, cap int, entry store.LedgerEntry) (*store.DKPAdjustment, error) {
	if m.err != nil {
		return nil, m.err
	}
	mem, ok := m.members[userID]
	if !ok {
		mem = &store.Member{ID: "id-" + userID, UserID: userID}
		m.members[userID] = mem
	}
	newBal := mem.DKP + delta
	if newBal < 0 {
		newBal = 0
	}
	capped := false
	if cap > 0 && newBal > cap {
		newBal = cap
		capped = true
	}
	actual := newBal - mem.DKP
	mem.DKP = newBal
	m.transactions = append(m.transactions, store.Transaction{
		MemberID:    mem.ID,
		Currency:    store.CurrencyDKP,
		Delta:       decimal.NewFromInt(int64(actual)),
		Reason:      entry.Reason,
		PerformedBy: entry.PerformedBy,
		AuctionID:   entry.AuctionID,
		ReportCode:  entry.ReportCode,
	})
	return &store.DKPAdjustment{MemberID: mem.ID, NewBalance: newBal, ActualGain: actual, WasCapped: capped}, nil
}

func (m *mockLedger) AdjustEPGP(_ context.Context, userID string, epDelta, gpDelta decimal.Decimal, entry store.LedgerEntry) (*store.EPGPAdjustment, error) {
	if m.err != nil {
		return nil, m.err
	}
	mem, ok := m.members[userID]
	if !ok {
		mem = &store.Member{ID: "id-" + userID, UserID: userID}
		m.members[userID] = mem
	}
	newEP := mem.EP.Add(epDelta)
	if newEP.IsNegative() {
		newEP = decimal.Zero
	}
	newGP := mem.GP.Add(gpDelta)
	if newGP.IsNegative() {
		newGP = decimal.Zero
	}
	adj := &store.EPGPAdjustment{
		MemberID: mem.ID,
		NewEP:    newEP,
		NewGP:    newGP,
		EPGain:   newEP.Sub(mem.EP),
		GPGain:   newGP.Sub(mem.GP),
	}
	mem.EP, mem.GP = newEP, newGP
	return adj, nil
}

func (m *mockLedger) DecayDKP(_ context.Context, pct float64, _ string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	factor := decimal.NewFromFloat(100 - pct).Div(decimal.NewFromInt(100))
	n := 0
	for _, mem := range m.members {
		if mem.DKP == 0 {
			continue
		}
		mem.DKP = int(decimal.NewFromInt(int64(mem.DKP)).Mul(factor).IntPart())
		n++
	}
	return n, nil
}

func (m *mockLedger) DecayEPGP(_ context.Context, pct float64, _ string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	factor := decimal.NewFromFloat(100 - pct).Div(decimal.NewFromInt(100))
	n := 0
	for _, mem := range m.members {
		if mem.EP.IsZero() && mem.GP.IsZero() {
			continue
		}
		mem.EP = mem.EP.Mul(factor).Round(2)
		mem.GP = mem.GP.Mul(factor).Round(2)
		n++
	}
	return n, nil
}

func (m *mockLedger) History(_ context.Context, userID string, limit int) ([]store.Transaction, error) {
	mem, ok := m.members[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var result []store.Transaction
	for _, tx := range m.transactions {
		if tx.MemberID == mem.ID {
			result = append(result, tx)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// mockSettings implements store.SettingRepository backed by a map.
type mockSettings struct {
	values map[string]string
	err    error
	gets   int
}

func newMockSettings() *mockSettings {
	return &mockSettings{values: make(map[string]string)}
}

func (m *mockSettings) Get(_ context.Context, key, def string) (string, error) {
	m.gets++
	if m.err != nil {
		return "", m.err
	}
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *mockSettings) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

// mockEventStore implements event.Store for testing.
type mockEventStore struct {
	events []event.Event
}

func (m *mockEventStore) Append(_ context.Context, events ...event.Event) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	var result []event.Event
	for _, e := range m.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockEventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	var result []event.Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}

// mockLootRepo implements store.LootRepository for testing.
type mockLootRepo struct {
	decisions map[string]*store.LootDecision
	responses map[string]store.LootResponse
	votes     map[string]store.LootVote
	counts    map[string]int
}

func newMockLootRepo() *mockLootRepo {
	return &mockLootRepo{
		decisions: make(map[string]*store.LootDecision),
		responses: make(map[string]store.LootResponse),
		votes:     make(map[string]store.LootVote),
		counts:    make(map[string]int),
	}
}

func (m *mockLootRepo) CreateDecision(_ context.Context, d *store.LootDecision) error {
	m.decisions[d.ID] = d
	return nil
}

func (m *mockLootRepo) GetDecision(_ context.Context, id string) (*store.LootDecision, error) {
	d, ok := m.decisions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (m *mockLootRepo) Decide(_ context.Context, id, winnerID, decidedBy string) error {
	d, ok := m.decisions[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.Status != store.DecisionOpen {
		return store.ErrDecisionClosed
	}
	d.Status = store.DecisionDecided
	d.WinnerID = &winnerID
	d.DecidedBy = &decidedBy
	m.counts[winnerID]++
	return nil
}

func (m *mockLootRepo) CancelDecision(_ context.Context, id string) error {
	d, ok := m.decisions[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.Status != store.DecisionOpen {
		return store.ErrDecisionClosed
	}
	d.Status = store.DecisionCancelled
	return nil
}

func (m *mockLootRepo) UpsertResponse(_ context.Context, r *store.LootResponse) error {
	m.responses[fmt.Sprintf("%s/%s", r.DecisionID, r.MemberID)] = *r
	return nil
}

func (m *mockLootRepo) UpsertVote(_ context.Context, v *store.LootVote) error {
	m.votes[fmt.Sprintf("%s/%s", v.DecisionID, v.VoterID)] = *v
	return nil
}

func (m *mockLootRepo) Responses(_ context.Context, decisionID string) ([]store.LootResponse, error) {
	var result []store.LootResponse
	for _, r := range m.responses {
		if r.DecisionID == decisionID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockLootRepo) Votes(_ context.Context, decisionID string) ([]store.LootVote, error) {
	var result []store.LootVote
	for _, v := range m.votes {
		if v.DecisionID == decisionID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (m *mockLootRepo) AwardCount(_ context.Context, memberID string) (int, error) {
	return m.counts[memberID], nil
}

func (m *mockLootRepo) AwardCounts(_ context.Context) (map[string]int, error) {
	return m.counts, nil
}

// staticCap implements strategy.CapSource with a fixed value.
type staticCap int

func (c staticCap) DKPCap(context.Context) (int, error) { return int(c), nil }

package strategy

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/config"
)

const (
	strategyKey = "loot.strategy"
	dkpCapKey   = "dkp.cap"
)

// Registry resolves the guild's active strategy and DKP cap from the
// settings table, caching both for the configured TTL so hot paths don't hit
// the database per call. An operation resolves its strategy once and
// completes against it; a mid-flight configuration change affects later
// operations only.
type Registry struct {
	settings   SettingSource
	clock      clock.Clock
	defaults   config.GuildConfig
	strategies map[string]Strategy

	mu        sync.Mutex
	cached    string
	cachedCap int
	expiresAt time.Time
}

// NewRegistry returns an empty registry. Register the strategies before
// calling Active.
func NewRegistry(settings SettingSource, clk clock.Clock, defaults config.GuildConfig) *Registry {
	return &Registry{
		settings:   settings,
		clock:      clk,
		defaults:   defaults,
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy under its Name. Registering twice for the same
// name panics, mirroring database/sql driver registration.
func (r *Registry) Register(s Strategy) {
	if _, dup := r.strategies[s.Name()]; dup {
		panic("strategy: Register called twice for " + s.Name())
	}
	r.strategies[s.Name()] = s
}

// Active returns the currently configured strategy.
func (r *Registry) Active(ctx context.Context) (Strategy, error) {
	name, _, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return s, nil
}

// DKPCap returns the configured DKP cap. Implements CapSource.
func (r *Registry) DKPCap(ctx context.Context) (int, error) {
	_, cap, err := r.resolve(ctx)
	return cap, err
}

// Invalidate drops the cache so the next call re-reads settings. Called
// after a settings write.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.expiresAt = time.Time{}
	r.mu.Unlock()
}

func (r *Registry) resolve(ctx context.Context) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.cached != "" && now.Before(r.expiresAt) {
		return r.cached, r.cachedCap, nil
	}

	name, err := r.settings.Get(ctx, strategyKey, r.defaults.DefaultStrategy)
	if err != nil {
		return "", 0, fmt.Errorf("reading active strategy: %w", err)
	}
	rawCap, err := r.settings.Get(ctx, dkpCapKey, strconv.Itoa(r.defaults.DKPCap))
	if err != nil {
		return "", 0, fmt.Errorf("reading DKP cap: %w", err)
	}
	cap, err := strconv.Atoi(rawCap)
	if err != nil {
		return "", 0, fmt.Errorf("invalid DKP cap %q: %w", rawCap, err)
	}

	r.cached = name
	r.cachedCap = cap
	r.expiresAt = now.Add(r.defaults.StrategyCacheTTL)
	return name, cap, nil
}

package strategy_test

import (
	"context"
	"testing"
	"time"

	"github.com/guildtools/lootledger/internal/config"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
)

// stepClock is a manually advanced clock.
type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time { return c.t }

// stubStrategy lets registry tests register names without building full
// strategies.
type stubStrategy struct {
	strategy.Strategy
	name string
}

func (s stubStrategy) Name() string { return s.name }

func testGuildConfig() config.GuildConfig {
	return config.GuildConfig{
		DefaultStrategy:  "dkp",
		DKPCap:           250,
		StrategyCacheTTL: 60 * time.Second,
	}
}

func newTestRegistry(settings *mockSettings, clk *stepClock) *strategy.Registry {
	r := strategy.NewRegistry(settings, clk, testGuildConfig())
	r.Register(stubStrategy{name: "dkp"})
	r.Register(stubStrategy{name: "epgp"})
	r.Register(stubStrategy{name: "lootcouncil"})
	return r
}

func TestRegistry_Active_Default(t *testing.T) {
	r := newTestRegistry(newMockSettings(), &stepClock{t: time.Now()})

	s, err := r.Active(context.Background())
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if s.Name() != "dkp" {
		t.Errorf("active = %q, want dkp", s.Name())
	}
}

func TestRegistry_Active_FromSettings(t *testing.T) {
	settings := newMockSettings()
	settings.values["loot.strategy"] = "epgp"
	r := newTestRegistry(settings, &stepClock{t: time.Now()})

	s, err := r.Active(context.Background())
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if s.Name() != "epgp" {
		t.Errorf("active = %q, want epgp", s.Name())
	}
}

func TestRegistry_Active_UnknownStrategy(t *testing.T) {
	settings := newMockSettings()
	settings.values["loot.strategy"] = "rolls"
	r := newTestRegistry(settings, &stepClock{t: time.Now()})

	if _, err := r.Active(context.Background()); err == nil {
		t.Fatal("expected error for unregistered strategy")
	}
}

func TestRegistry_CachesWithinTTL(t *testing.T) {
	settings := newMockSettings()
	clk := &stepClock{t: time.Now()}
	r := newTestRegistry(settings, clk)

	if _, err := r.Active(context.Background()); err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	before := settings.gets

	// A settings change inside the TTL is not observed.
	settings.values["loot.strategy"] = "epgp"
	clk.t = clk.t.Add(30 * time.Second)

	s, err := r.Active(context.Background())
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if s.Name() != "dkp" {
		t.Errorf("active = %q, want cached dkp", s.Name())
	}
	if settings.gets != before {
		t.Errorf("settings reads = %d, want %d (cached)", settings.gets, before)
	}
}

func TestRegistry_RefreshesAfterTTL(t *testing.T) {
	settings := newMockSettings()
	clk := &stepClock{t: time.Now()}
	r := newTestRegistry(settings, clk)

	if _, err := r.Active(context.Background()); err != nil {
		t.Fatalf("Active() error = %v", err)
	}

	settings.values["loot.strategy"] = "lootcouncil"
	clk.t = clk.t.Add(61 * time.Second)

	s, err := r.Active(context.Background())
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if s.Name() != "lootcouncil" {
		t.Errorf("active = %q, want lootcouncil after TTL expiry", s.Name())
	}
}

func TestRegistry_Invalidate(t *testing.T) {
	settings := newMockSettings()
	clk := &stepClock{t: time.Now()}
	r := newTestRegistry(settings, clk)

	if _, err := r.Active(context.Background()); err != nil {
		t.Fatalf("Active() error = %v", err)
	}

	settings.values["loot.strategy"] = "epgp"
	r.Invalidate()

	s, err := r.Active(context.Background())
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if s.Name() != "epgp" {
		t.Errorf("active = %q, want epgp after Invalidate", s.Name())
	}
}

func TestRegistry_DKPCap(t *testing.T) {
	settings := newMockSettings()
	r := newTestRegistry(settings, &stepClock{t: time.Now()})

	cap, err := r.DKPCap(context.Background())
	if err != nil {
		t.Fatalf("DKPCap() error = %v", err)
	}
	if cap != 250 {
		t.Errorf("cap = %d, want default 250", cap)
	}

	settings.values["dkp.cap"] = "300"
	r.Invalidate()

	cap, err = r.DKPCap(context.Background())
	if err != nil {
		t.Fatalf("DKPCap() error = %v", err)
	}
	if cap != 300 {
		t.Errorf("cap = %d, want 300", cap)
	}
}

func TestRegistry_DKPCap_Invalid(t *testing.T) {
	settings := newMockSettings()
	settings.values["dkp.cap"] = "lots"
	r := newTestRegistry(settings, &stepClock{t: time.Now()})

	if _, err := r.DKPCap(context.Background()); err == nil {
		t.Fatal("expected error for non-numeric cap")
	}
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	r := strategy.NewRegistry(newMockSettings(), &stepClock{t: time.Now()}, testGuildConfig())
	r.Register(stubStrategy{name: "dkp"})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate Register")
		}
	}()
	r.Register(stubStrategy{name: "dkp"})
}

var _ store.SettingRepository = (*mockSettings)(nil)

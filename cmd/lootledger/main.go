package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/guildtools/lootledger/internal/announce"
	"github.com/guildtools/lootledger/internal/bot"
	"github.com/guildtools/lootledger/internal/clock"
	"github.com/guildtools/lootledger/internal/config"
	"github.com/guildtools/lootledger/internal/event"
	"github.com/guildtools/lootledger/internal/health"
	"github.com/guildtools/lootledger/internal/leader"
	"github.com/guildtools/lootledger/internal/ledger"
	"github.com/guildtools/lootledger/internal/market"
	"github.com/guildtools/lootledger/internal/raidimport"
	"github.com/guildtools/lootledger/internal/schedule"
	"github.com/guildtools/lootledger/internal/store"
	"github.com/guildtools/lootledger/internal/strategy"
	"github.com/guildtools/lootledger/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/guildtools/lootledger/internal/store/entstore"
	_ "github.com/guildtools/lootledger/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (sqlx or ent).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	// One Discord session backs both the slash-command bot and the
	// announcement publisher. The bot owns opening and closing it.
	var session *discordgo.Session
	var publisher event.Publisher = event.NopPublisher{}
	if cfg.Discord.Enabled {
		session, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			return fmt.Errorf("creating discord session: %w", err)
		}
		publisher = announce.New(session, cfg.Discord.ChannelID, logger)
	}

	// Build the strategy registry and register all loot systems.
	registry := strategy.NewRegistry(repos.Settings, clk, cfg.Guild)
	registry.Register(strategy.NewDKP(repos.Ledger, repos.Events, publisher, registry, logger, tp.TracerProvider))
	registry.Register(strategy.NewEPGP(repos.Ledger, repos.Settings, repos.Events, publisher, logger, tp.TracerProvider))
	council := strategy.NewLootCouncil(repos.Loot, repos.Ledger, repos.Events, publisher, clk, logger, tp.TracerProvider)
	registry.Register(council)

	// Initialize managers.
	ledgerMgr := ledger.NewManager(repos.Ledger, registry, repos.Events, publisher, logger, tp.TracerProvider)
	marketMgr := market.NewManager(repos.Auctions, repos.Ledger, registry, repos.Events, publisher, clk, logger, tp.TracerProvider)
	importAdapter := raidimport.NewAdapter(repos.RaidImports, registry, repos.Events, publisher, logger, tp.TracerProvider)

	// Setup health checks.
	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// Start HTTP server for health checks (runs on all replicas).
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler())
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting health server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "health server error", slog.Any("error", listenErr))
		}
	}()

	// startWork is the singleton work only the leader should run: the Discord
	// command surface and the decay scheduler.
	startWork := func(ctx context.Context) {
		var discordBot *bot.Bot
		if cfg.Discord.Enabled {
			discordBot = bot.New(session, cfg.Discord, ledgerMgr, marketMgr, importAdapter, council, logger, tp.TracerProvider)
			if botErr := discordBot.Start(ctx); botErr != nil {
				logger.ErrorContext(ctx, "starting bot failed", slog.Any("error", botErr))
				return
			}
		}

		decayJob := schedule.NewDecayJob(ledgerMgr, cfg.Decay, logger)
		if jobErr := decayJob.Start(); jobErr != nil {
			logger.ErrorContext(ctx, "starting decay job failed", slog.Any("error", jobErr))
			return
		}

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "lootledger is running", slog.String("version", version))

		// Block until leadership is lost or process is shutting down.
		<-ctx.Done()

		healthHandler.SetReady(false)
		decayJob.Stop()
		if discordBot != nil {
			if stopErr := discordBot.Stop(); stopErr != nil {
				logger.Error("bot shutdown error", slog.Any("error", stopErr))
			}
		}
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, startWork, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		// No leader election, run directly.
		startWork(ctx)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

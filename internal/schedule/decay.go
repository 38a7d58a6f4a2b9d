// Package schedule runs the periodic ledger decay job. The job is started
// only on the elected leader so decay is applied once per schedule across
// replicas.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/guildtools/lootledger/internal/config"
	"github.com/guildtools/lootledger/internal/store"
)

// systemActor performs scheduled operations.
var systemActor = store.Actor{UserID: "system", Role: store.RoleAdmin}

// Decayer applies decay under the active strategy.
type Decayer interface {
	ApplyDecay(ctx context.Context, actor store.Actor, pct float64) (int, error)
}

// DecayJob applies the configured decay on a cron schedule.
type DecayJob struct {
	ledger Decayer
	cfg    config.DecayConfig
	cron   *cron.Cron
	logger *slog.Logger
}

// NewDecayJob returns a stopped decay job.
func NewDecayJob(ledger Decayer, cfg config.DecayConfig, logger *slog.Logger) *DecayJob {
	return &DecayJob{
		ledger: ledger,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the job and starts the cron runner. A disabled config is
// a no-op.
func (j *DecayJob) Start() error {
	if !j.cfg.Enabled {
		j.logger.Info("decay job disabled")
		return nil
	}
	if _, err := j.cron.AddFunc(j.cfg.Schedule, j.run); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("decay job scheduled",
		slog.String("schedule", j.cfg.Schedule),
		slog.Float64("percent", j.cfg.Percent),
	)
	return nil
}

// Stop halts the cron runner and waits for a running invocation to finish.
func (j *DecayJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// RunOnce applies one decay pass immediately, outside the schedule.
func (j *DecayJob) RunOnce(ctx context.Context) (int, error) {
	return j.ledger.ApplyDecay(ctx, systemActor, j.cfg.Percent)
}

func (j *DecayJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := j.ledger.ApplyDecay(ctx, systemActor, j.cfg.Percent)
	if err != nil {
		j.logger.ErrorContext(ctx, "scheduled decay failed", slog.Any("error", err))
		return
	}
	j.logger.InfoContext(ctx, "scheduled decay applied",
		slog.Float64("percent", j.cfg.Percent),
		slog.Int("members", n),
	)
}

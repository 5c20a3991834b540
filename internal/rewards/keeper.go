package rewards

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mbd888/computeledger/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Sweeper runs one periodic settlement as a committed ledger operation.
type Sweeper func(ctx context.Context) (*SweepResult, error)

// Keeper triggers periodic settlement on a cron schedule (with seconds).
// Sweeps that find the period not yet elapsed are not errors.
type Keeper struct {
	cron     *cron.Cron
	schedule string
	sweep    Sweeper
	logger   *slog.Logger
}

// NewKeeper creates a keeper. schedule uses six fields, e.g. "0 * * * * *".
func NewKeeper(schedule string, sweep Sweeper, logger *slog.Logger) *Keeper {
	return &Keeper{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule: schedule,
		sweep:    sweep,
		logger:   logger,
	}
}

// Start schedules the sweep and stops the scheduler when ctx is done.
func (k *Keeper) Start(ctx context.Context) error {
	if _, err := k.cron.AddFunc(k.schedule, func() { k.RunOnce(ctx) }); err != nil {
		return err
	}
	k.cron.Start()
	k.logger.Info("settlement keeper started", "schedule", k.schedule)

	go func() {
		<-ctx.Done()
		k.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
}

// RunOnce performs a single sweep.
func (k *Keeper) RunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SettlementSweepsTotal.WithLabelValues("panic").Inc()
			k.logger.Error("panic in settlement sweep", "panic", r)
		}
	}()

	res, err := k.sweep(ctx)
	switch {
	case errors.Is(err, ErrSettlementTooEarly):
		metrics.SettlementSweepsTotal.WithLabelValues("early").Inc()
		k.logger.Debug("settlement sweep skipped", "reason", err)
	case err != nil:
		metrics.SettlementSweepsTotal.WithLabelValues("error").Inc()
		k.logger.Warn("settlement sweep failed", "error", err)
	default:
		metrics.SettlementSweepsTotal.WithLabelValues("ok").Inc()
		if len(res.Batches) > 0 {
			k.logger.Info("settlement sweep completed",
				"batches", len(res.Batches),
				"net", res.Net.String(),
				"fees", res.Fees.String(),
				"more", res.More,
			)
		}
	}
}

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Clock produces blocks for a standalone node by advancing the executor's
// height by one on every tick.
type Clock struct {
	executor *Executor
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewClock creates a block clock. interval must be positive.
func NewClock(executor *Executor, interval time.Duration, logger *slog.Logger) *Clock {
	return &Clock{
		executor: executor,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Start runs the clock loop. Call in a goroutine.
func (k *Clock) Start(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.stop:
			return
		case <-ticker.C:
			k.safeTick(ctx)
		}
	}
}

// Stop signals the clock to stop.
func (k *Clock) Stop() {
	select {
	case k.stop <- struct{}{}:
	default:
	}
}

func (k *Clock) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("panic in block clock", "panic", fmt.Sprint(r))
		}
	}()
	k.tick(ctx)
}

func (k *Clock) tick(ctx context.Context) {
	h, err := k.executor.Advance(ctx, 1)
	if err != nil {
		k.logger.Warn("failed to advance block height", "error", err)
		return
	}
	k.logger.Debug("block produced", "height", h)
}

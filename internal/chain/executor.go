package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/computeledger/internal/events"
	"github.com/mbd888/computeledger/internal/metrics"
	"github.com/mbd888/computeledger/internal/state"
	"github.com/mbd888/computeledger/internal/traces"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	metaKey     = "chain/meta"
	eventPrefix = "events/"
)

// Meta is the executor's own bookkeeping, stored alongside module state.
type Meta struct {
	Height  uint64 `json:"height"`
	NextSeq uint64 `json:"nextSeq"`
}

// Executor serializes operations and commits each one atomically.
type Executor struct {
	backend state.Backend
	logger  *slog.Logger
	sinks   []events.Sink
	now     func() time.Time
	mu      sync.RWMutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithSinks registers event sinks. Sinks are called after commit, in order,
// while the executor still holds its lock, so they see events in commit order.
func WithSinks(sinks ...events.Sink) Option {
	return func(e *Executor) { e.sinks = append(e.sinks, sinks...) }
}

// WithClock overrides the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor over backend.
func NewExecutor(backend state.Backend, opts ...Option) *Executor {
	e := &Executor{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddSink registers another sink after construction.
func (e *Executor) AddSink(s events.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Execute runs fn as one atomic operation named name.
func (e *Executor) Execute(ctx context.Context, name string, fn func(c *Context) error) error {
	ctx, span := traces.StartSpan(ctx, "ledger."+name, traces.Operation(name))
	defer span.End()

	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := state.NewTx(ctx, e.backend)
	meta, err := loadMeta(tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load chain meta")
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}

	c := &Context{
		ctx:    ctx,
		store:  tx,
		height: meta.Height,
		logger: e.logger.With("op", name, "height", meta.Height),
	}

	if err := run(c, fn); err != nil {
		tx.Discard()
		metrics.OperationsTotal.WithLabelValues(name, "error").Inc()
		metrics.OperationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("operation rejected", "error", err)
		return err
	}

	evs := c.events
	if len(evs) > 0 {
		ts := e.now().UTC()
		for i := range evs {
			meta.NextSeq++
			evs[i].Seq = meta.NextSeq
			evs[i].Height = meta.Height
			evs[i].Timestamp = ts
			if err := tx.Put(eventKey(evs[i].Seq), evs[i]); err != nil {
				return fmt.Errorf("%w: %v", ErrCommit, err)
			}
		}
		if err := tx.Put(metaKey, meta); err != nil {
			return fmt.Errorf("%w: %v", ErrCommit, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.OperationsTotal.WithLabelValues(name, "commit_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		e.logger.Error("failed to commit operation", "op", name, "error", err)
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}

	span.SetAttributes(attribute.Int("ledger.events", len(evs)))
	metrics.OperationsTotal.WithLabelValues(name, "ok").Inc()
	metrics.OperationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if len(evs) > 0 {
		for _, ev := range evs {
			metrics.EventsPublishedTotal.WithLabelValues(ev.Module, ev.Type).Inc()
		}
		for _, s := range e.sinks {
			e.publish(ctx, s, evs)
		}
	}
	return nil
}

// View runs fn against committed state. Writes and events are dropped.
func (e *Executor) View(ctx context.Context, fn func(c *Context) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tx := state.NewTx(ctx, e.backend)
	meta, err := loadMeta(tx)
	if err != nil {
		return err
	}
	c := &Context{
		ctx:      ctx,
		store:    tx,
		height:   meta.Height,
		readOnly: true,
		logger:   e.logger,
	}
	return run(c, fn)
}

// Height returns the committed block height.
func (e *Executor) Height(ctx context.Context) (uint64, error) {
	var h uint64
	err := e.View(ctx, func(c *Context) error {
		h = c.Height()
		return nil
	})
	return h, err
}

// Advance moves the block height forward by n and returns the new height.
func (e *Executor) Advance(ctx context.Context, n uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := state.NewTx(ctx, e.backend)
	meta, err := loadMeta(tx)
	if err != nil {
		return 0, err
	}
	meta.Height += n
	if err := tx.Put(metaKey, meta); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCommit, err)
	}
	metrics.BlockHeight.Set(float64(meta.Height))
	return meta.Height, nil
}

// EventsSince returns up to limit committed events with Seq > after.
func (e *Executor) EventsSince(ctx context.Context, after uint64, limit int) ([]events.Event, error) {
	var out []events.Event
	err := e.View(ctx, func(c *Context) error {
		return c.Store().Scan(eventPrefix, func(key string, value []byte) error {
			var ev events.Event
			if err := json.Unmarshal(value, &ev); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if ev.Seq <= after {
				return nil
			}
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				return state.ErrStopScan
			}
			return nil
		})
	})
	return out, err
}

func (e *Executor) publish(ctx context.Context, s events.Sink, evs []events.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in event sink", "panic", fmt.Sprint(r))
		}
	}()
	s.Publish(ctx, evs)
}

func run(c *Context, fn func(c *Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(c)
}

func loadMeta(tx *state.Tx) (Meta, error) {
	var m Meta
	if _, err := tx.Get(metaKey, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func eventKey(seq uint64) string {
	return eventPrefix + HeightKey(seq)
}

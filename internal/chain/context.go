// Package chain runs ledger operations one at a time against committed
// state, making each one atomic.
//
// An operation receives a Context carrying the current block height, a
// write overlay over state, and an event buffer. When the operation returns
// nil the overlay is committed and the buffered events are published; when
// it returns an error (or panics) both are dropped.
package chain

import (
	"context"
	"log/slog"

	"github.com/mbd888/computeledger/internal/events"
	"github.com/mbd888/computeledger/internal/state"
)

// Context is the per-operation view handed to module code.
type Context struct {
	ctx      context.Context
	store    *state.Tx
	height   uint64
	readOnly bool
	events   []events.Event
	logger   *slog.Logger
}

// NewContext builds a Context directly over a Tx. Modules under test use
// this; production code goes through Executor.
func NewContext(ctx context.Context, tx *state.Tx, height uint64) *Context {
	return &Context{ctx: ctx, store: tx, height: height, logger: slog.Default()}
}

// Context returns the request context.
func (c *Context) Context() context.Context { return c.ctx }

// Store returns the operation's state overlay.
func (c *Context) Store() *state.Tx { return c.store }

// Height returns the current block height.
func (c *Context) Height() uint64 { return c.height }

// ReadOnly reports whether this is a query context whose writes are dropped.
func (c *Context) ReadOnly() bool { return c.readOnly }

// Logger returns the operation logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Emit buffers an event for publication after commit.
func (c *Context) Emit(module, eventType string, attrs ...events.Attribute) {
	if c.readOnly {
		return
	}
	c.events = append(c.events, events.New(module, eventType, attrs...))
}

// Events returns the events buffered so far.
func (c *Context) Events() []events.Event {
	out := make([]events.Event, len(c.events))
	copy(out, c.events)
	return out
}

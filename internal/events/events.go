// Package events defines the ledger event record and the sinks that
// receive committed events.
//
// Events are emitted into an operation's buffer while it runs and are only
// published once the operation's state has been committed. A failed
// operation publishes nothing.
package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Shared attribute keys.
const (
	AttributeKeyAccount  = "account"
	AttributeKeyProvider = "provider"
	AttributeKeyCreator  = "creator"
	AttributeKeyTaskID   = "task_id"
	AttributeKeyBatchID  = "batch_id"
	AttributeKeyAmount   = "amount"
	AttributeKeyFee      = "fee"
	AttributeKeyStatus   = "status"
	AttributeKeyReason   = "reason"
	AttributeKeyHeight   = "height"
	AttributeKeyFrom     = "from"
	AttributeKeyTo       = "to"
)

// Event is a committed ledger event.
type Event struct {
	Seq        uint64            `json:"seq"`
	Height     uint64            `json:"height"`
	Module     string            `json:"module"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Attr returns the attribute value, or "" when absent.
func (e Event) Attr(key string) string {
	return e.Attributes[key]
}

// Attribute is a single key/value pair attached to an event.
type Attribute struct {
	Key   string
	Value string
}

// Attr builds an Attribute.
func Attr(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// New builds an event with the given attributes. Seq, Height and Timestamp
// are assigned at commit.
func New(module, eventType string, attrs ...Attribute) Event {
	ev := Event{Module: module, Type: eventType}
	if len(attrs) > 0 {
		ev.Attributes = make(map[string]string, len(attrs))
		for _, a := range attrs {
			ev.Attributes[a.Key] = a.Value
		}
	}
	return ev
}

// Sink receives events after they have been committed, in commit order.
type Sink interface {
	Publish(ctx context.Context, evs []Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, evs []Event)

func (f SinkFunc) Publish(ctx context.Context, evs []Event) { f(ctx, evs) }

// LogSink writes every event to a structured logger at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs events.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, evs []Event) {
	for _, ev := range evs {
		args := []any{
			"seq", ev.Seq,
			"height", ev.Height,
			"module", ev.Module,
			"type", ev.Type,
		}
		keys := make([]string, 0, len(ev.Attributes))
		for k := range ev.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, k, ev.Attributes[k])
		}
		s.logger.DebugContext(ctx, "ledger event", args...)
	}
}

// Recorder keeps every published event in memory. Used by tests and by
// development nodes that want to inspect the stream.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, evs []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Reset clears the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

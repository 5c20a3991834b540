// Package state provides the keyed storage shared by every ledger module.
//
// Modules never write to a backend directly. Each operation runs against a
// Tx, which buffers writes in an overlay on top of the committed state. The
// executor applies the overlay in one atomic Backend.Apply when the
// operation succeeds and drops it otherwise, so a failed operation leaves no
// partial writes behind.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrStopScan may be returned by a Scan callback to end iteration early.
var ErrStopScan = errors.New("stop scan")

// KV is a committed key/value pair.
type KV struct {
	Key   string
	Value []byte
}

// Write is a single buffered mutation.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Backend persists committed state.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Scan returns every pair whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]KV, error)
	// Apply commits all writes atomically.
	Apply(ctx context.Context, writes []Write) error
}

// Key joins key segments with "/".
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// Prefix returns the scan prefix for the given segments (with trailing "/").
func Prefix(parts ...string) string {
	return Key(parts...) + "/"
}

// Tx is a write overlay over a Backend. It is not safe for concurrent use.
type Tx struct {
	ctx     context.Context
	backend Backend
	writes  map[string]*Write
}

// NewTx opens an overlay on backend.
func NewTx(ctx context.Context, backend Backend) *Tx {
	return &Tx{
		ctx:     ctx,
		backend: backend,
		writes:  make(map[string]*Write),
	}
}

func (t *Tx) raw(key string) ([]byte, bool, error) {
	if w, ok := t.writes[key]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return w.Value, true, nil
	}
	return t.backend.Get(t.ctx, key)
}

// Get decodes the value at key into v. It reports false when the key is absent.
func (t *Tx) Get(key string, v any) (bool, error) {
	b, ok, err := t.raw(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Has reports whether key is present.
func (t *Tx) Has(key string) (bool, error) {
	_, ok, err := t.raw(key)
	return ok, err
}

// Put encodes v and buffers it at key.
func (t *Tx) Put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	t.writes[key] = &Write{Key: key, Value: b}
	return nil
}

// Delete buffers removal of key.
func (t *Tx) Delete(key string) {
	t.writes[key] = &Write{Key: key, Delete: true}
}

// Scan visits every key with the given prefix in key order, merging buffered
// writes over committed state.
func (t *Tx) Scan(prefix string, fn func(key string, value []byte) error) error {
	committed, err := t.backend.Scan(t.ctx, prefix)
	if err != nil {
		return err
	}

	merged := make(map[string][]byte, len(committed))
	for _, kv := range committed {
		merged[kv.Key] = kv.Value
	}
	for k, w := range t.writes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.Delete {
			delete(merged, k)
		} else {
			merged[k] = w.Value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn(k, merged[k]); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

// ScanInto decodes every value under prefix as T, in key order, stopping
// after limit values when limit > 0.
func ScanInto[T any](t *Tx, prefix string, limit int) ([]*T, error) {
	var out []*T
	err := t.Scan(prefix, func(key string, value []byte) error {
		v := new(T)
		if err := json.Unmarshal(value, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, v)
		if limit > 0 && len(out) >= limit {
			return ErrStopScan
		}
		return nil
	})
	return out, err
}

// Writes returns the buffered mutations ordered by key.
func (t *Tx) Writes() []Write {
	out := make([]Write, 0, len(t.writes))
	for _, w := range t.writes {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Dirty reports whether any write is buffered.
func (t *Tx) Dirty() bool { return len(t.writes) > 0 }

// Commit applies the overlay to the backend and clears it.
func (t *Tx) Commit() error {
	if !t.Dirty() {
		return nil
	}
	if err := t.backend.Apply(t.ctx, t.Writes()); err != nil {
		return err
	}
	t.writes = make(map[string]*Write)
	return nil
}

// Discard drops every buffered write.
func (t *Tx) Discard() {
	t.writes = make(map[string]*Write)
}

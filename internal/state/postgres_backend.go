package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbd888/computeledger/internal/retry"
)

// PostgresBackend implements Backend with PostgreSQL. The schema lives in
// migrations/00001_ledger_state.sql.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a new PostgreSQL-backed state backend.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT value FROM ledger_state WHERE key = $1
	`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *PostgresBackend) Scan(ctx context.Context, prefix string) ([]KV, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if end, ok := prefixEnd(prefix); ok {
		rows, err = p.db.QueryContext(ctx, `
			SELECT key, value FROM ledger_state
			WHERE key >= $1 AND key < $2
			ORDER BY key
		`, prefix, end)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT key, value FROM ledger_state
			WHERE key >= $1
			ORDER BY key
		`, prefix)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

// Apply commits writes in one SERIALIZABLE transaction. Serialization and
// deadlock failures are retried under retry.Commit.
func (p *PostgresBackend) Apply(ctx context.Context, writes []Write) error {
	return retry.Do(ctx, retry.Commit, retry.OnlyTransient(func(ctx context.Context) error {
		return p.apply(ctx, writes)
	}))
}

func (p *PostgresBackend) apply(ctx context.Context, writes []Write) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if w.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_state WHERE key = $1`, w.Key); err != nil {
				return fmt.Errorf("failed to delete %s: %w", w.Key, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_state (key, value, updated_at)
			VALUES ($1, $2::JSONB, NOW())
			ON CONFLICT (key) DO UPDATE SET
				value      = EXCLUDED.value,
				updated_at = NOW()
		`, w.Key, string(w.Value))
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", w.Key, err)
		}
	}

	return tx.Commit()
}

// prefixEnd returns the smallest string greater than every string with the
// given prefix, under byte ordering.
func prefixEnd(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

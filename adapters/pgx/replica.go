package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/acartia/core"
)

// PutEntries inserts entries in one batch; known hashes are skipped
func (a *Adapter) PutEntries(ctx context.Context, address string, entries []*core.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.Hash, err)
		}
		batch.Queue(`
			INSERT INTO replica_entries (address, hash, clock, entry)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (address, hash) DO NOTHING
		`, address, e.Hash, int64(e.Clock.Time), b)
	}

	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	return nil
}

func (a *Adapter) LoadEntries(ctx context.Context, address string) ([]*core.Entry, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT entry FROM replica_entries
		WHERE address = $1
		ORDER BY clock, hash
	`, address)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*core.Entry, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return nil, err
		}
		var e core.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		return &e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return entries, nil
}

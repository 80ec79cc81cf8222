package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type sqlBackend struct {
	db     *sql.DB
	driver string
}

func (b *sqlBackend) get(ctx context.Context, key string) ([]byte, int64, error) {
	q := `SELECT value_json, version FROM records WHERE collection_key = ?;`

	var value string
	var version int64
	if err := b.db.QueryRowContext(ctx, b.rebind(q), key).Scan(&value, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, err
	}
	return []byte(value), version, nil
}

func (b *sqlBackend) put(ctx context.Context, key string, value []byte, nowMs int64) (int64, error) {
	q := `INSERT INTO records (collection_key, value_json, version, updated_at_ms)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(collection_key) DO UPDATE SET
			value_json = excluded.value_json,
			version = records.version + 1,
			updated_at_ms = excluded.updated_at_ms
		RETURNING version;`

	var version int64
	if err := b.db.QueryRowContext(ctx, b.rebind(q), key, string(value), nowMs).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (b *sqlBackend) compareAndSwap(ctx context.Context, key string, value []byte, expected, nowMs int64) (int64, error) {
	if expected == 0 {
		q := `INSERT INTO records (collection_key, value_json, version, updated_at_ms)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(collection_key) DO NOTHING;`
		res, err := b.db.ExecContext(ctx, b.rebind(q), key, string(value), nowMs)
		if err != nil {
			return 0, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return 0, ErrConflict
		}
		return 1, nil
	}

	q := `UPDATE records SET value_json = ?, version = version + 1, updated_at_ms = ?
		WHERE collection_key = ? AND version = ?;`
	res, err := b.db.ExecContext(ctx, b.rebind(q), string(value), nowMs, key, expected)
	if err != nil {
		return 0, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, ErrConflict
	}
	return expected + 1, nil
}

func (b *sqlBackend) delete(ctx context.Context, key string) error {
	q := `DELETE FROM records WHERE collection_key = ?;`
	_, err := b.db.ExecContext(ctx, b.rebind(q), key)
	return err
}

func (b *sqlBackend) ready(ctx context.Context) error {
	if b == nil || b.db == nil {
		return errors.New("db not initialized")
	}
	if err := b.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	if err := b.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("unexpected SELECT 1 result: %d", one)
	}
	return nil
}

func (b *sqlBackend) close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

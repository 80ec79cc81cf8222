package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const pebbleKeyPrefix = "record:"

// pebbleBackend keeps each collection under record:<key> with an 8-byte
// big-endian version header in front of the JSON document. Pebble has no
// conditional write, so compare-and-swap is serialized by mu; the database
// directory is owned by a single process.
type pebbleBackend struct {
	db *pebble.DB
	mu sync.Mutex
}

func openPebble(dir string) (*pebbleBackend, error) {
	opts := &pebble.Options{}
	if dir == ":memory:" {
		opts.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &pebbleBackend{db: db}, nil
}

func (b *pebbleBackend) get(_ context.Context, key string) ([]byte, int64, error) {
	raw, closer, err := b.db.Get([]byte(pebbleKeyPrefix + key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, err
	}
	defer closer.Close()

	if len(raw) < 8 {
		return nil, 0, fmt.Errorf("%w: %s: short record header", ErrStorageCorrupt, key)
	}
	version := int64(binary.BigEndian.Uint64(raw[:8]))
	value := make([]byte, len(raw)-8)
	copy(value, raw[8:])
	return value, version, nil
}

func (b *pebbleBackend) put(ctx context.Context, key string, value []byte, _ int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, version, err := b.get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrStorageCorrupt) {
		return 0, err
	}
	return b.set(key, value, version+1)
}

func (b *pebbleBackend) compareAndSwap(ctx context.Context, key string, value []byte, expected, _ int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, version, err := b.get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrStorageCorrupt) {
		return 0, err
	}
	if version != expected {
		return 0, ErrConflict
	}
	return b.set(key, value, expected+1)
}

func (b *pebbleBackend) set(key string, value []byte, version int64) (int64, error) {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(version))
	copy(buf[8:], value)
	if err := b.db.Set([]byte(pebbleKeyPrefix+key), buf, pebble.Sync); err != nil {
		return 0, err
	}
	return version, nil
}

func (b *pebbleBackend) delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Delete([]byte(pebbleKeyPrefix+key), pebble.Sync)
}

func (b *pebbleBackend) ready(_ context.Context) error {
	if b == nil || b.db == nil {
		return errors.New("pebble not opened")
	}
	return nil
}

func (b *pebbleBackend) close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

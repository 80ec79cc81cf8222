package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nexus-backend/internal/metrics"
)

const maxUpdateAttempts = 8

// Read returns the collection stored under key. It fails soft: a missing,
// unreadable or undecodable collection yields an empty slice.
func Read[T any](ctx context.Context, s *Store, key string) []T {
	records, _, err := load[T](ctx, s, key)
	if err != nil {
		s.logger.Warn("collection read failed, treating as empty", "key", key, "error", err)
		return []T{}
	}
	return records
}

// Write replaces the whole collection under key and signals the change.
func Write[T any](ctx context.Context, s *Store, key string, records []T) error {
	if records == nil {
		records = []T{}
	}
	value, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	unlock := s.lockKey(key)
	_, err = s.backend.put(ctx, key, value, time.Now().UnixMilli())
	unlock()
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	metrics.StoreWrites.WithLabelValues(key).Inc()
	s.notifyChanged(key)
	return nil
}

// Update runs a read-modify-write cycle on the collection under key. The
// write only lands if nobody else wrote the key since it was read; on a
// conflict the cycle restarts with fresh data, so fn may run more than once
// and must not have side effects outside the records it returns. fn must not
// call Update for the same key. Returning ErrNoChange from fn ends the cycle
// without writing; the records read are returned.
//
// The change notification fires after the key is unlocked, so listeners may
// update the same key.
func Update[T any](ctx context.Context, s *Store, key string, fn func(records []T) ([]T, error)) ([]T, error) {
	records, wrote, err := updateLocked(ctx, s, key, fn)
	if err != nil {
		return nil, err
	}
	if wrote {
		s.notifyChanged(key)
	}
	return records, nil
}

func updateLocked[T any](ctx context.Context, s *Store, key string, fn func(records []T) ([]T, error)) ([]T, bool, error) {
	unlock := s.lockKey(key)
	defer unlock()

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		records, version, err := load[T](ctx, s, key)
		if err != nil {
			if !errors.Is(err, ErrStorageCorrupt) {
				return nil, false, err
			}
			s.logger.Warn("collection corrupt, rewriting from empty", "key", key, "error", err)
			records = []T{}
		}

		next, err := fn(records)
		if errors.Is(err, ErrNoChange) {
			return records, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			next = []T{}
		}

		value, err := json.Marshal(next)
		if err != nil {
			return nil, false, fmt.Errorf("encode %s: %w", key, err)
		}

		if _, err := s.backend.compareAndSwap(ctx, key, value, version, time.Now().UnixMilli()); err != nil {
			if errors.Is(err, ErrConflict) {
				metrics.StoreConflicts.WithLabelValues(key).Inc()
				s.logger.Debug("collection changed underneath update, retrying", "key", key, "attempt", attempt)
				continue
			}
			return nil, false, fmt.Errorf("write %s: %w", key, err)
		}

		metrics.StoreWrites.WithLabelValues(key).Inc()
		return next, true, nil
	}

	return nil, false, fmt.Errorf("%w: %s after %d attempts", ErrConflict, key, maxUpdateAttempts)
}

// Delete removes the collection under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	unlock := s.lockKey(key)
	err := s.backend.delete(ctx, key)
	unlock()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	metrics.StoreWrites.WithLabelValues(key).Inc()
	s.notifyChanged(key)
	return nil
}

// load decodes the collection and reports its version. Absent keys are
// version 0. Corrupt documents keep their version so a later
// compare-and-swap can overwrite them.
func load[T any](ctx context.Context, s *Store, key string) ([]T, int64, error) {
	value, version, err := s.backend.get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []T{}, 0, nil
		}
		if errors.Is(err, ErrStorageCorrupt) {
			metrics.StoreCorruptReads.WithLabelValues(key).Inc()
		}
		return nil, version, err
	}

	var records []T
	if err := json.Unmarshal(value, &records); err != nil {
		metrics.StoreCorruptReads.WithLabelValues(key).Inc()
		return nil, version, fmt.Errorf("%w: %s: %v", ErrStorageCorrupt, key, err)
	}
	if records == nil {
		records = []T{}
	}
	return records, version, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResetIfVersionChanged compares the persisted schema marker with
// currentVersion. On mismatch every known collection is deleted and the
// marker rewritten: there is no incremental migration, data written under
// another schema version is dropped. It reports whether a reset happened.
func (s *Store) ResetIfVersionChanged(ctx context.Context, currentVersion int) (bool, error) {
	stored, err := s.schemaVersion(ctx)
	if err != nil {
		return false, err
	}
	if stored == currentVersion {
		return false, nil
	}

	s.logger.Warn("schema version changed, resetting all collections",
		"storedVersion", stored,
		"currentVersion", currentVersion,
		"collections", KnownCollections,
	)

	for _, key := range KnownCollections {
		if err := s.Delete(ctx, key); err != nil {
			return false, err
		}
	}

	unlock := s.lockKey(KeySchemaVersion)
	_, err = s.backend.put(ctx, KeySchemaVersion, []byte(strconv.Itoa(currentVersion)), time.Now().UnixMilli())
	unlock()
	if err != nil {
		return false, fmt.Errorf("write schema version: %w", err)
	}
	s.notifyChanged(KeySchemaVersion)
	return true, nil
}

// schemaVersion returns 0 when no marker exists or it cannot be parsed.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	value, _, err := s.backend.get(ctx, KeySchemaVersion)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageCorrupt) {
			return 0, nil
		}
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(value)))
	if err != nil {
		s.logger.Warn("schema version marker unreadable", "value", string(value), "error", err)
		return 0, nil
	}
	return v, nil
}

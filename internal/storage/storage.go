package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store is the shared record store: named collections persisted as whole
// JSON documents under a key, each guarded by a monotonically increasing
// version used for compare-and-swap.
type Store struct {
	backend backend
	driver  string
	logger  *slog.Logger

	locksMu  sync.Mutex
	keyLocks map[string]*sync.Mutex

	notifyMu sync.RWMutex
	notifier ChangeNotifier
}

// ChangeNotifier receives the generic "storage changed" signal after every
// successful write.
type ChangeNotifier interface {
	NotifyStorageChanged(key string)
}

type backend interface {
	get(ctx context.Context, key string) ([]byte, int64, error)
	put(ctx context.Context, key string, value []byte, nowMs int64) (int64, error)
	compareAndSwap(ctx context.Context, key string, value []byte, expected, nowMs int64) (int64, error)
	delete(ctx context.Context, key string) error
	ready(ctx context.Context) error
	close() error
}

func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	driverName, dsn, err := driverAndDSN(u, databaseURL)
	if err != nil {
		return nil, err
	}

	store := &Store{
		driver:   driverName,
		logger:   logger.With("component", "storage"),
		keyLocks: make(map[string]*sync.Mutex),
	}

	if driverName == "pebble" {
		b, err := openPebble(dsn)
		if err != nil {
			return nil, err
		}
		store.backend = b
		return store, nil
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	switch driverName {
	case "sqlite":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := applyConnectionTuning(pingCtx, db, driverName); err != nil {
		_ = db.Close()
		return nil, err
	}

	sb := &sqlBackend{db: db, driver: driverName}
	if err := sb.ready(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := initSchema(pingCtx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store.backend = sb
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.close()
}

func (s *Store) Ready(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return errors.New("store not initialized")
	}
	return s.backend.ready(ctx)
}

// Driver reports the backend in use: sqlite, pgx or pebble.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) SetChangeNotifier(n ChangeNotifier) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notifier = n
}

func (s *Store) notifyChanged(key string) {
	s.notifyMu.RLock()
	n := s.notifier
	s.notifyMu.RUnlock()
	if n != nil {
		n.NotifyStorageChanged(key)
	}
}

func (s *Store) lockKey(key string) func() {
	s.locksMu.Lock()
	mu, ok := s.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keyLocks[key] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func applyConnectionTuning(ctx context.Context, db *sql.DB, driver string) error {
	switch driver {
	case "sqlite":
		// Several processes may share one sqlite file; wait on their write locks instead of failing.
		conn, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
			return err
		}
		return nil
	default:
		return nil
	}
}

func driverAndDSN(u *url.URL, raw string) (driver string, dsn string, _ error) {
	switch strings.ToLower(u.Scheme) {
	case "sqlite":
		dsn, err := sqliteDSN(u, raw)
		if err != nil {
			return "", "", err
		}
		return "sqlite", dsn, nil
	case "postgres", "postgresql":
		return "pgx", raw, nil
	case "pebble":
		dsn, err := sqliteDSN(u, raw)
		if err != nil {
			return "", "", err
		}
		return "pebble", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme %q (expected sqlite://, postgres:// or pebble://)", u.Scheme)
	}
}

func sqliteDSN(u *url.URL, raw string) (string, error) {
	// Supported (pebble uses the same shapes):
	// - sqlite:///absolute/path.db
	// - sqlite:relative/path.db
	// - sqlite::memory:
	switch {
	case u.Opaque != "":
		return u.Opaque, nil
	case u.Path != "":
		return u.Path, nil
	default:
		return "", fmt.Errorf("invalid %s DATABASE_URL %q", u.Scheme, raw)
	}
}

func RedactedDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}

	switch strings.ToLower(u.Scheme) {
	case "sqlite", "pebble":
		// Local paths are not sensitive.
		if u.Opaque != "" {
			return u.Scheme + ":" + u.Opaque
		}
		return u.Scheme + "://" + u.Path
	case "postgres", "postgresql":
		redacted := *u
		if redacted.User != nil {
			user := redacted.User.Username()
			redacted.User = url.UserPassword(user, "***")
		}
		return redacted.String()
	default:
		return "<unknown>"
	}
}

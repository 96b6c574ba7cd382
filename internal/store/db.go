package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the pltm SQLite database. All mutating
// operations go through WriteTx, which serializes writers on one lock.
type DB struct {
	*sql.DB
	Path string

	opts    Options
	writeMu chan struct{}
}

// Options tunes write-lock contention handling. Zero fields take defaults.
type Options struct {
	// BusyRetries is how many times a write is retried after SQLITE_BUSY.
	BusyRetries int
	// BusyBackoff is the first retry delay; it doubles per attempt.
	BusyBackoff time.Duration
	// LockWait bounds how long a writer waits for the in-process write lock,
	// and is also used as SQLite's busy_timeout.
	LockWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.BusyRetries <= 0 {
		o.BusyRetries = 5
	}
	if o.BusyBackoff <= 0 {
		o.BusyBackoff = 50 * time.Millisecond
	}
	if o.LockWait <= 0 {
		o.LockWait = 10 * time.Second
	}
	return o
}

// DefaultDBPath returns the default database path: ~/.pltm/pltm.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".pltm", "pltm.db"), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string, opts Options) (*DB, error) {
	opts = opts.withDefaults()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.LockWait.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := newDB(sqlDB, path, opts)
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	return OpenMemoryWithOptions(Options{})
}

// OpenMemoryWithOptions opens an in-memory database with explicit
// contention settings.
func OpenMemoryWithOptions(opts Options) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)

	db := newDB(sqlDB, ":memory:", opts.withDefaults())
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newDB(sqlDB *sql.DB, path string, opts Options) *DB {
	return &DB{
		DB:      sqlDB,
		Path:    path,
		opts:    opts,
		writeMu: make(chan struct{}, 1),
	}
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", db.opts.LockWait.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Healthy reports whether the database answers a trivial query.
func (db *DB) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx) == nil
}

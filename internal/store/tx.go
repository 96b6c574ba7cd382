package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrStorageBusy means the write lock could not be obtained within the
// retry budget. Callers may retry later.
var ErrStorageBusy = errors.New("storage busy")

// WriteTx runs fn inside a write transaction while holding the single
// writer lock. SQLITE_BUSY/LOCKED failures are retried with exponential
// backoff; when the budget runs out the error wraps ErrStorageBusy.
//
// fn may run more than once and must only touch the database through tx.
// Never call out to the network from fn.
func (db *DB) WriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	delay := db.opts.BusyBackoff
	for attempt := 0; ; attempt++ {
		err := db.writeOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStorageBusy) {
			return err
		}
		if !isBusy(err) {
			return err
		}
		if attempt >= db.opts.BusyRetries {
			return fmt.Errorf("%w after %d attempts: %v", ErrStorageBusy, attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (db *DB) writeOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := db.acquireWrite(ctx); err != nil {
		return err
	}
	defer db.releaseWrite()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *DB) acquireWrite(ctx context.Context) error {
	timer := time.NewTimer(db.opts.LockWait)
	defer timer.Stop()

	select {
	case db.writeMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: write lock not acquired within %s", ErrStorageBusy, db.opts.LockWait)
	}
}

func (db *DB) releaseWrite() {
	<-db.writeMu
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff // strip extended result code
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// isConstraint reports whether err is a UNIQUE/CHECK constraint failure.
func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

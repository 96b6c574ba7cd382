package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
	if !db.Healthy(context.Background()) {
		t.Error("in-memory db should be healthy")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pltm.db")
	db, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("SchemaVersion = %d, want 4", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "atoms", "typed_memories", "memory_tags", "typed_memories_fts", "embeddings"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestAtomConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO atoms (id, atom_type, subject, predicate, object, graph, created_at, last_accessed)
		VALUES ('a1', 'entity', 'alice', 'is', 'engineer', 'substantiated', 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO atoms (id, atom_type, subject, predicate, object, graph, created_at, last_accessed)
		VALUES ('a2', 'entity', 'alice', 'is', 'engineer', 'limbo', 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid graph, got nil")
	}

	_, err = db.Exec(`
		INSERT INTO atoms (id, atom_type, subject, predicate, object, graph, confidence, created_at, last_accessed)
		VALUES ('a3', 'entity', 'alice', 'is', 'engineer', 'substantiated', 1.5, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for confidence > 1, got nil")
	}

	_, err = db.Exec(`
		INSERT INTO atoms (id, atom_type, subject, predicate, object, graph, created_at, last_accessed)
		VALUES ('a4', 'gossip', 'alice', 'is', 'engineer', 'substantiated', 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for unknown atom_type, got nil")
	}
}

func TestSlotUniqueness(t *testing.T) {
	db := testDB(t)

	insert := func(id, graph string) error {
		_, err := db.Exec(`
			INSERT INTO atoms (id, atom_type, subject, predicate, object, graph, slot, created_at, last_accessed)
			VALUES (?, 'affiliation', 'alice', 'works_at', 'acme', ?, 'employer', 1000, 1000)
		`, id, graph)
		return err
	}

	if err := insert("s1", "substantiated"); err != nil {
		t.Fatalf("first holder: %v", err)
	}
	if err := insert("s2", "substantiated"); err == nil {
		t.Error("second substantiated holder of the same slot should be rejected")
	}
	if err := insert("s3", "hypothesis"); err != nil {
		t.Errorf("hypothesis with a slot should not conflict: %v", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 4", v)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestWriteTxRollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO atoms (id, atom_type, subject, predicate, object, graph, created_at, last_accessed)
			VALUES ('r1', 'entity', 'alice', 'is', 'engineer', 'substantiated', 1000, 1000)
		`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WriteTx error = %v, want boom", err)
	}

	a, err := db.GetAtom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetAtom: %v", err)
	}
	if a != nil {
		t.Error("insert should have been rolled back")
	}
}

func TestWriteTxBusy(t *testing.T) {
	db, err := OpenMemoryWithOptions(Options{LockWait: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenMemoryWithOptions: %v", err)
	}
	defer db.Close()

	// Hold the writer lock as a long-running writer would.
	db.writeMu <- struct{}{}
	defer db.releaseWrite()

	start := time.Now()
	err = db.WriteTx(context.Background(), func(tx *sql.Tx) error { return nil })
	if !errors.Is(err, ErrStorageBusy) {
		t.Fatalf("WriteTx error = %v, want ErrStorageBusy", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("busy writer should fail within the lock wait")
	}
}

func TestWriteTxContextCancelled(t *testing.T) {
	db := testDB(t)

	db.writeMu <- struct{}{}
	defer db.releaseWrite()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WriteTx(ctx, func(tx *sql.Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WriteTx error = %v, want context.Canceled", err)
	}
}

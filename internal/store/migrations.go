package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "atoms: subject-predicate-object knowledge store",
		SQL: `
CREATE TABLE atoms (
    id            TEXT PRIMARY KEY,
    natural_key   TEXT UNIQUE,
    atom_type     TEXT NOT NULL CHECK (atom_type IN ('entity', 'affiliation', 'social', 'preference', 'belief',
                      'skill', 'event', 'state', 'hypothesis', 'invariant', 'relation')),
    subject       TEXT NOT NULL,
    predicate     TEXT NOT NULL,
    object        TEXT NOT NULL,
    context       TEXT NOT NULL DEFAULT '',
    provenance    TEXT NOT NULL DEFAULT 'user_stated',
    confidence    REAL NOT NULL DEFAULT 1.0 CHECK (confidence BETWEEN 0 AND 1),
    strength      REAL NOT NULL DEFAULT 1.0 CHECK (strength BETWEEN 0 AND 1),
    graph         TEXT NOT NULL CHECK (graph IN ('substantiated', 'hypothesis', 'superseded')),

    -- Exclusivity slot name, NULL for non-exclusive predicates
    slot          TEXT,
    supersedes    TEXT,
    superseded_by TEXT,

    created_at    INTEGER NOT NULL,
    last_accessed INTEGER NOT NULL
);

CREATE INDEX idx_atoms_subject   ON atoms(subject, graph);
CREATE INDEX idx_atoms_predicate ON atoms(subject, predicate);
CREATE INDEX idx_atoms_type      ON atoms(atom_type, id);

-- At most one substantiated holder per exclusive slot
CREATE UNIQUE INDEX idx_atoms_slot ON atoms(subject, slot)
    WHERE graph = 'substantiated' AND slot IS NOT NULL;
`,
	},
	{
		Version:     2,
		Description: "typed_memories: decaying typed memory records",
		SQL: `
CREATE TABLE typed_memories (
    id                TEXT PRIMARY KEY,
    memory_type       TEXT NOT NULL CHECK (memory_type IN ('episodic', 'semantic', 'belief', 'procedural')),
    user_id           TEXT NOT NULL,
    content           TEXT NOT NULL,
    context           TEXT NOT NULL DEFAULT '',
    source            TEXT NOT NULL DEFAULT '',
    strength          REAL NOT NULL CHECK (strength BETWEEN 0 AND 1),
    confidence        REAL NOT NULL CHECK (confidence BETWEEN 0 AND 1),
    created_at        INTEGER NOT NULL,
    last_accessed     INTEGER NOT NULL,
    episode_timestamp INTEGER NOT NULL DEFAULT 0,
    emotional_valence REAL NOT NULL DEFAULT 0,
    trigger_text      TEXT NOT NULL DEFAULT '',
    action_text       TEXT NOT NULL DEFAULT '',
    tags              TEXT NOT NULL DEFAULT '[]',
    evidence_for      TEXT NOT NULL DEFAULT '[]',
    evidence_against  TEXT NOT NULL DEFAULT '[]',
    success_count     INTEGER NOT NULL DEFAULT 0 CHECK (success_count >= 0),
    failure_count     INTEGER NOT NULL DEFAULT 0 CHECK (failure_count >= 0),
    metadata          TEXT NOT NULL DEFAULT '{}',
    quarantined       INTEGER NOT NULL DEFAULT 0,
    jury_reason       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_tm_user_type    ON typed_memories(user_id, memory_type);
CREATE INDEX idx_tm_user_created ON typed_memories(user_id, created_at DESC);

CREATE TABLE memory_tags (
    memory_id TEXT NOT NULL,
    tag       TEXT NOT NULL,
    PRIMARY KEY (memory_id, tag),
    FOREIGN KEY (memory_id) REFERENCES typed_memories(id) ON DELETE CASCADE
);

CREATE INDEX idx_memory_tags_tag ON memory_tags(tag);
`,
	},
	{
		Version:     3,
		Description: "typed_memories_fts: full-text index over memory content",
		SQL: `
CREATE VIRTUAL TABLE typed_memories_fts USING fts5(
    content,
    memory_id UNINDEXED,
    user_id UNINDEXED,
    tokenize = 'unicode61'
);
`,
	},
	{
		Version:     4,
		Description: "embeddings: vector side table for memories and atoms",
		SQL: `
CREATE TABLE embeddings (
    kind         TEXT NOT NULL CHECK (kind IN ('memory', 'atom')),
    record_id    TEXT NOT NULL,
    embedding    BLOB NOT NULL,
    content_hash TEXT NOT NULL,
    model        TEXT NOT NULL,
    dimensions   INTEGER NOT NULL,
    indexed_at   INTEGER NOT NULL,
    PRIMARY KEY (kind, record_id)
);
`,
	},
}

func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
	)`); err != nil {
		return fmt.Errorf("schema_versions: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return fmt.Errorf("schema v%d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// apply runs one schema step and records it in the same transaction.
func (db *DB) apply(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_versions (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

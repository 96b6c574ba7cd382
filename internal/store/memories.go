package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/google/uuid"
)

// Memory is a typed memory record. Strength is the value at LastAccessed
// (or EpisodeTimestamp for temporal types); current strength is derived
// at read time. Times are unix milliseconds.
type Memory struct {
	ID               string              `json:"id"`
	Type             ontology.MemoryType `json:"memory_type"`
	UserID           string              `json:"user_id"`
	Content          string              `json:"content"`
	Context          string              `json:"context,omitempty"`
	Source           string              `json:"source,omitempty"`
	Strength         float64             `json:"strength"`
	Confidence       float64             `json:"confidence"`
	CreatedAt        int64               `json:"created_at"`
	LastAccessed     int64               `json:"last_accessed"`
	EpisodeTimestamp int64               `json:"episode_timestamp,omitempty"`
	EmotionalValence float64             `json:"emotional_valence"`
	Trigger          string              `json:"trigger,omitempty"`
	Action           string              `json:"action,omitempty"`
	Tags             []string            `json:"tags"`
	EvidenceFor      []string            `json:"evidence_for"`
	EvidenceAgainst  []string            `json:"evidence_against"`
	SuccessCount     int                 `json:"success_count"`
	FailureCount     int                 `json:"failure_count"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
	Quarantined      bool                `json:"quarantined"`
	JuryReason       string              `json:"jury_reason,omitempty"`
}

// MemoryFilter selects memories for one user. Zero fields don't filter.
type MemoryFilter struct {
	UserID string
	Type   *ontology.MemoryType
	// Tags must all be present on a memory.
	Tags []string
}

const memoryColumns = `id, memory_type, user_id, content, context, source, strength, confidence,
	created_at, last_accessed, episode_timestamp, emotional_valence, trigger_text, action_text,
	tags, evidence_for, evidence_against, success_count, failure_count, metadata, quarantined, jury_reason`

// CreateMemory inserts a memory with its tags and full-text entry.
// An empty ID is assigned a new uuid.
func (db *DB) CreateMemory(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := nowMillis()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.LastAccessed == 0 {
		m.LastAccessed = m.CreatedAt
	}
	m.Strength = ontology.Clamp01(m.Strength)
	m.Confidence = ontology.Clamp01(m.Confidence)
	m.Tags = normalizeTags(m.Tags)

	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := insertMemoryRow(ctx, tx, m); err != nil {
			return err
		}
		if err := writeTags(ctx, tx, m.ID, m.Tags); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO typed_memories_fts (content, memory_id, user_id) VALUES (?, ?, ?)",
			m.Content, m.ID, m.UserID)
		return err
	})
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

func insertMemoryRow(ctx context.Context, tx *sql.Tx, m *Memory) error {
	tags, ef, ea, meta, err := encodeMemoryJSON(m)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO typed_memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Type.String(), m.UserID, m.Content, m.Context, m.Source, m.Strength, m.Confidence,
		m.CreatedAt, m.LastAccessed, m.EpisodeTimestamp, m.EmotionalValence, m.Trigger, m.Action,
		tags, ef, ea, m.SuccessCount, m.FailureCount, meta, boolInt(m.Quarantined), m.JuryReason)
	return err
}

func writeTags(ctx context.Context, tx *sql.Tx, id string, tags []string) error {
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)", id, t); err != nil {
			return err
		}
	}
	return nil
}

// GetMemory returns a memory by id, or nil if not found.
func (db *DB) GetMemory(ctx context.Context, id string) (*Memory, error) {
	m, err := getMemory(ctx, db.DB, id)
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func getMemory(ctx context.Context, q queryer, id string) (*Memory, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+memoryColumns+" FROM typed_memories WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return nil, nil
	}
	return &mems[0], nil
}

// QueryMemories returns a user's memories matching every filter, newest
// first.
func (db *DB) QueryMemories(ctx context.Context, f MemoryFilter) ([]Memory, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}

	if f.Type != nil {
		where = append(where, "memory_type = ?")
		args = append(args, f.Type.String())
	}
	if tags := normalizeTags(f.Tags); len(tags) > 0 {
		where = append(where, `id IN (
			SELECT memory_id FROM memory_tags WHERE tag IN (`+placeholders(len(tags))+`)
			GROUP BY memory_id HAVING COUNT(DISTINCT tag) = ?)`)
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
	}

	rows, err := db.QueryContext(ctx, "SELECT "+memoryColumns+" FROM typed_memories WHERE "+
		strings.Join(where, " AND ")+" ORDER BY created_at DESC, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	return scanMemories(rows)
}

// SearchMemories runs a full-text match over a user's memory content and
// returns matches best first. A memory matches when it contains any token
// of text. limit <= 0 returns every match.
func (db *DB) SearchMemories(ctx context.Context, userID, text string, limit int) ([]Memory, error) {
	expr := ftsExpression(text)
	if expr == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1 // no LIMIT in SQLite
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+prefixColumns("m.", memoryColumns)+`
		FROM typed_memories_fts
		JOIN typed_memories m ON m.id = typed_memories_fts.memory_id
		WHERE typed_memories_fts MATCH ? AND typed_memories_fts.user_id = ?
		ORDER BY typed_memories_fts.rank, m.created_at DESC
		LIMIT ?
	`, expr, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return scanMemories(rows)
}

// ftsExpression turns free text into an FTS5 OR-query of quoted tokens so
// user input can never be parsed as query syntax.
func ftsExpression(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		f = strings.ToLower(f)
		if seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// UpdateMemory applies fn to the stored memory inside one write
// transaction and persists the mutable fields it changed. Returns nil if the
// memory does not exist; an error from fn aborts the update.
func (db *DB) UpdateMemory(ctx context.Context, id string, fn func(m *Memory) error) (*Memory, error) {
	var out *Memory
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		out = nil
		m, err := getMemory(ctx, tx, id)
		if err != nil || m == nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m.Strength = ontology.Clamp01(m.Strength)
		m.Confidence = ontology.Clamp01(m.Confidence)

		_, ef, ea, meta, err := encodeMemoryJSON(m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE typed_memories SET
				strength = ?, confidence = ?, last_accessed = ?,
				evidence_for = ?, evidence_against = ?,
				success_count = ?, failure_count = ?, metadata = ?
			WHERE id = ?
		`, m.Strength, m.Confidence, m.LastAccessed, ef, ea,
			m.SuccessCount, m.FailureCount, meta, m.ID); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	return out, nil
}

// DeleteMemory removes a memory with its tags, full-text entry and
// embedding. Reports whether a row was deleted.
func (db *DB) DeleteMemory(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM typed_memories WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		for _, q := range []string{
			"DELETE FROM memory_tags WHERE memory_id = ?",
			"DELETE FROM typed_memories_fts WHERE memory_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			"DELETE FROM embeddings WHERE kind = ? AND record_id = ?", KindMemory, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return deleted, nil
}

// TypeCount is the per-type slice of a user's memory stats.
type TypeCount struct {
	Type          ontology.MemoryType
	Count         int
	AvgConfidence float64
	Quarantined   int
}

// CountMemories returns per-type counts for a user.
func (db *DB) CountMemories(ctx context.Context, userID string) ([]TypeCount, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT memory_type, COUNT(*), AVG(confidence), SUM(quarantined)
		FROM typed_memories WHERE user_id = ?
		GROUP BY memory_type ORDER BY memory_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	defer rows.Close()

	var out []TypeCount
	for rows.Next() {
		var tc TypeCount
		var typ string
		if err := rows.Scan(&typ, &tc.Count, &tc.AvgConfidence, &tc.Quarantined); err != nil {
			return nil, fmt.Errorf("scan memory count: %w", err)
		}
		t, err := ontology.ParseMemoryType(typ)
		if err != nil {
			return nil, err
		}
		tc.Type = t
		out = append(out, tc)
	}
	return out, rows.Err()
}

// RecentContents returns the content of a user's most recent memories.
func (db *DB) RecentContents(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT content FROM typed_memories WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent contents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	defer rows.Close()
	var mems []Memory
	for rows.Next() {
		var m Memory
		var typ, tags, ef, ea, meta string
		var quarantined int
		if err := rows.Scan(&m.ID, &typ, &m.UserID, &m.Content, &m.Context, &m.Source,
			&m.Strength, &m.Confidence, &m.CreatedAt, &m.LastAccessed, &m.EpisodeTimestamp,
			&m.EmotionalValence, &m.Trigger, &m.Action, &tags, &ef, &ea,
			&m.SuccessCount, &m.FailureCount, &meta, &quarantined, &m.JuryReason); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		t, err := ontology.ParseMemoryType(typ)
		if err != nil {
			return nil, fmt.Errorf("scan memory %s: %w", m.ID, err)
		}
		m.Type = t
		m.Quarantined = quarantined != 0
		if err := decodeMemoryJSON(&m, tags, ef, ea, meta); err != nil {
			return nil, fmt.Errorf("scan memory %s: %w", m.ID, err)
		}
		mems = append(mems, m)
	}
	return mems, rows.Err()
}

func encodeMemoryJSON(m *Memory) (tags, ef, ea, meta string, err error) {
	enc := func(v any) string {
		if err != nil {
			return ""
		}
		var b []byte
		b, err = json.Marshal(v)
		return string(b)
	}
	tags = enc(nonNil(m.Tags))
	ef = enc(nonNil(m.EvidenceFor))
	ea = enc(nonNil(m.EvidenceAgainst))
	if m.Metadata == nil {
		meta = "{}"
	} else {
		meta = enc(m.Metadata)
	}
	if err != nil {
		err = fmt.Errorf("encode memory fields: %w", err)
	}
	return
}

func decodeMemoryJSON(m *Memory, tags, ef, ea, meta string) error {
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(ef), &m.EvidenceFor); err != nil {
		return fmt.Errorf("decode evidence_for: %w", err)
	}
	if err := json.Unmarshal([]byte(ea), &m.EvidenceAgainst); err != nil {
		return fmt.Errorf("decode evidence_against: %w", err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	m.Tags = nonNil(m.Tags)
	m.EvidenceFor = nonNil(m.EvidenceFor)
	m.EvidenceAgainst = nonNil(m.EvidenceAgainst)
	return nil
}

// normalizeTags trims, lowercases, dedups and sorts tags.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// Record kinds stored in the embeddings side table.
const (
	KindMemory = "memory"
	KindAtom   = "atom"
)

// VectorRecord holds an embedding for a memory or atom.
type VectorRecord struct {
	Kind        string
	RecordID    string
	Embedding   []float64
	ContentHash string
	Model       string
	Dimensions  int
	IndexedAt   int64
}

// IndexSource is a record the semantic index may need to embed, with the
// hash and model of its current embedding if it has one.
type IndexSource struct {
	Kind     string
	RecordID string
	// Text parts; the index decides how to join them.
	Content string
	Trigger string
	Action  string

	ExistingHash  string
	ExistingModel string
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// vectorOwner is the table a kind's record lives in.
var vectorOwner = map[string]string{
	KindMemory: "typed_memories",
	KindAtom:   "atoms",
}

// SaveVectors stores or replaces a batch of embeddings in one transaction.
// A record deleted since it was embedded gets no row, so a delete racing a
// backfill cannot leave an orphan. It reports how many rows were written.
func (db *DB) SaveVectors(ctx context.Context, recs []VectorRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := nowMillis()
	var written int
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		written = 0
		for i := range recs {
			r := &recs[i]
			owner, ok := vectorOwner[r.Kind]
			if !ok {
				return fmt.Errorf("unknown kind %q", r.Kind)
			}
			if r.IndexedAt == 0 {
				r.IndexedAt = now
			}
			r.Dimensions = len(r.Embedding)
			res, err := tx.ExecContext(ctx, `
				INSERT INTO embeddings (kind, record_id, embedding, content_hash, model, dimensions, indexed_at)
				SELECT ?, ?, ?, ?, ?, ?, ?
				WHERE EXISTS (SELECT 1 FROM `+owner+` WHERE id = ?)
				ON CONFLICT(kind, record_id) DO UPDATE SET
					embedding = excluded.embedding, content_hash = excluded.content_hash,
					model = excluded.model, dimensions = excluded.dimensions,
					indexed_at = excluded.indexed_at
			`, r.Kind, r.RecordID, encodeEmbedding(r.Embedding), r.ContentHash, r.Model,
				r.Dimensions, r.IndexedAt, r.RecordID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save vectors: %w", err)
	}
	return written, nil
}

// GetVector returns the embedding for a record, or nil if not found.
func (db *DB) GetVector(ctx context.Context, kind, id string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRowContext(ctx, `
		SELECT kind, record_id, embedding, content_hash, model, dimensions, indexed_at
		FROM embeddings WHERE kind = ? AND record_id = ?
	`, kind, id).Scan(&v.Kind, &v.RecordID, &blob, &v.ContentHash, &v.Model, &v.Dimensions, &v.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// IndexSources lists every record of a kind with its current embedding
// hash, ordered by id.
func (db *DB) IndexSources(ctx context.Context, kind string) ([]IndexSource, error) {
	var query string
	switch kind {
	case KindMemory:
		query = `
			SELECT m.id, m.content, m.trigger_text, m.action_text,
				COALESCE(e.content_hash, ''), COALESCE(e.model, '')
			FROM typed_memories m
			LEFT JOIN embeddings e ON e.kind = 'memory' AND e.record_id = m.id
			ORDER BY m.id`
	case KindAtom:
		query = `
			SELECT a.id, a.subject || ' ' || a.predicate || ' ' || a.object, '', '',
				COALESCE(e.content_hash, ''), COALESCE(e.model, '')
			FROM atoms a
			LEFT JOIN embeddings e ON e.kind = 'atom' AND e.record_id = a.id
			WHERE a.graph != 'superseded'
			ORDER BY a.id`
	default:
		return nil, fmt.Errorf("index sources: unknown kind %q", kind)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index sources: %w", err)
	}
	defer rows.Close()

	var out []IndexSource
	for rows.Next() {
		s := IndexSource{Kind: kind}
		if err := rows.Scan(&s.RecordID, &s.Content, &s.Trigger, &s.Action,
			&s.ExistingHash, &s.ExistingModel); err != nil {
			return nil, fmt.Errorf("scan index source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MemoryVectors returns the embeddings of one user's memories.
func (db *DB) MemoryVectors(ctx context.Context, userID string) ([]VectorRecord, error) {
	return db.vectors(ctx, `
		SELECT e.kind, e.record_id, e.embedding, e.content_hash, e.model, e.dimensions, e.indexed_at
		FROM embeddings e
		JOIN typed_memories m ON m.id = e.record_id
		WHERE e.kind = 'memory' AND m.user_id = ?
	`, userID)
}

// AtomVectors returns the embeddings of substantiated atoms.
func (db *DB) AtomVectors(ctx context.Context) ([]VectorRecord, error) {
	return db.vectors(ctx, `
		SELECT e.kind, e.record_id, e.embedding, e.content_hash, e.model, e.dimensions, e.indexed_at
		FROM embeddings e
		JOIN atoms a ON a.id = e.record_id
		WHERE e.kind = 'atom' AND a.graph = 'substantiated'
	`)
}

func (db *DB) vectors(ctx context.Context, query string, args ...any) ([]VectorRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	defer rows.Close()

	var records []VectorRecord
	for rows.Next() {
		var v VectorRecord
		var blob []byte
		if err := rows.Scan(&v.Kind, &v.RecordID, &blob, &v.ContentHash, &v.Model,
			&v.Dimensions, &v.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Embedding = decodeEmbedding(blob)
		records = append(records, v)
	}
	return records, rows.Err()
}

// DeleteVector removes the embedding for a record.
func (db *DB) DeleteVector(ctx context.Context, kind, id string) error {
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE kind = ? AND record_id = ?", kind, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

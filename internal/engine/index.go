package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Alby2007/PLTM-sub001/internal/store"
)

const defaultSearchK = 10

// BackfillReport summarizes one backfill pass.
type BackfillReport struct {
	Model     string `json:"model"`
	Scanned   int    `json:"scanned"`
	Embedded  int    `json:"embedded"`
	Unchanged int    `json:"unchanged"`
	// Skipped records produced a zero vector. They get an empty marker row so
	// the next pass counts them Unchanged, and search never matches them.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	// Vanished records were deleted while their batch was being embedded.
	Vanished int   `json:"vanished"`
	Batches  int   `json:"batches"`
	Duration int64 `json:"duration_ms"`
}

type pendingEmbed struct {
	src  store.IndexSource
	text string
	hash string
}

// embeddingText is the text a record is embedded from.
func embeddingText(s store.IndexSource) string {
	text := s.Content
	if s.Trigger != "" {
		text += " | trigger: " + s.Trigger
	}
	if s.Action != "" {
		text += " | action: " + s.Action
	}
	return text
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Backfill embeds every memory and atom whose vector is missing, was built
// from different content, or came from a different model. Embeddings are
// computed outside any write transaction and committed once per batch, so
// an interrupted pass keeps its finished batches and a rerun over unchanged
// content embeds nothing.
func (e *Engine) Backfill(ctx context.Context, batchSize int) (*BackfillReport, error) {
	emb := e.Embedder()
	if emb == nil {
		return nil, ErrIndexUnavailable
	}
	if batchSize <= 0 {
		batchSize = e.indexBatch
	}

	e.backfillMu.Lock()
	defer e.backfillMu.Unlock()

	start := time.Now()
	var srcs []store.IndexSource
	for _, kind := range []string{store.KindMemory, store.KindAtom} {
		ks, err := e.DB.IndexSources(ctx, kind)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, ks...)
	}

	emb = e.refreshVocabulary(emb, srcs)
	model := emb.Model()
	report := &BackfillReport{Model: model, Scanned: len(srcs)}

	var stale []pendingEmbed
	for _, s := range srcs {
		text := embeddingText(s)
		hash := contentHash(text)
		if s.ExistingHash == hash && s.ExistingModel == model {
			report.Unchanged++
			continue
		}
		stale = append(stale, pendingEmbed{src: s, text: text, hash: hash})
	}

	for lo := 0; lo < len(stale); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		hi := lo + batchSize
		if hi > len(stale) {
			hi = len(stale)
		}

		recs, skipped, failed := e.embedBatch(ctx, emb, stale[lo:hi])
		written, err := e.DB.SaveVectors(ctx, recs)
		if err != nil {
			return report, fmt.Errorf("backfill batch %d: %w", report.Batches, err)
		}
		report.Batches++
		report.Vanished += len(recs) - written
		report.Embedded += max(written-skipped, 0)
		report.Skipped += skipped
		report.Failed += failed
	}

	report.Duration = time.Since(start).Milliseconds()
	e.logger.Info("backfill complete",
		zap.String("model", model),
		zap.Int("scanned", report.Scanned),
		zap.Int("embedded", report.Embedded),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("batches", report.Batches),
	)
	return report, nil
}

// embedBatch embeds a batch with bounded parallelism. A record whose
// embedding fails is counted and left for the next pass; a zero vector
// becomes an empty marker record.
func (e *Engine) embedBatch(ctx context.Context, emb Embedder, batch []pendingEmbed) ([]store.VectorRecord, int, int) {
	results := make([]*store.VectorRecord, len(batch))
	var skipped, failed atomic.Int64
	indexedAt := e.now().UnixMilli()
	model := emb.Model()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.indexWorkers)
	for i, p := range batch {
		g.Go(func() error {
			vec, err := emb.Embed(gctx, p.text)
			if err != nil {
				failed.Add(1)
				e.logger.Warn("embedding failed",
					zap.String("kind", p.src.Kind), zap.String("record_id", p.src.RecordID), zap.Error(err))
				return nil
			}
			if !normalize(vec) {
				skipped.Add(1)
				vec = nil
			}
			results[i] = &store.VectorRecord{
				Kind:        p.src.Kind,
				RecordID:    p.src.RecordID,
				Embedding:   vec,
				ContentHash: p.hash,
				Model:       model,
				IndexedAt:   indexedAt,
			}
			return nil
		})
	}
	_ = g.Wait()

	recs := make([]store.VectorRecord, 0, len(batch))
	for _, r := range results {
		if r != nil {
			recs = append(recs, *r)
		}
	}
	return recs, int(skipped.Load()), int(failed.Load())
}

// refreshVocabulary rebuilds a TF-IDF embedder over srcs when its vocabulary
// is empty or the corpus has grown past what it was built from, and returns
// the embedder the pass should use. Other embedders are returned unchanged.
func (e *Engine) refreshVocabulary(emb Embedder, srcs []store.IndexSource) Embedder {
	tf, ok := emb.(*TFIDFEmbedder)
	if !ok || (tf.Dimensions() > 0 && len(srcs) <= tf.Corpus()) {
		return emb
	}
	docs := make([]string, len(srcs))
	for i, s := range srcs {
		docs[i] = embeddingText(s)
	}
	next := NewTFIDFEmbedder(docs, tf.maxTerms)
	if next.Model() != tf.Model() {
		e.logger.Info("tfidf vocabulary rebuilt",
			zap.String("model", next.Model()), zap.Int("dimensions", next.Dimensions()), zap.Int("corpus", len(docs)))
	}
	e.SetEmbedder(next)
	return next
}

// MemoryHit is a semantic search result.
type MemoryHit struct {
	Memory MemoryView `json:"memory"`
	Score  float64    `json:"score"`
}

// AtomHit is a semantic search result over atoms.
type AtomHit struct {
	Atom  store.Atom `json:"atom"`
	Score float64    `json:"score"`
}

// SemanticSearch returns the user's k memories most similar to query.
// Ties go to the most recently indexed record.
func (e *Engine) SemanticSearch(ctx context.Context, userID, query string, k int) ([]MemoryHit, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	emb := e.Embedder()
	if emb == nil {
		return nil, ErrIndexUnavailable
	}
	qvec, err := e.queryVector(ctx, emb, query)
	if err != nil || qvec == nil {
		return nil, err
	}
	vecs, err := e.DB.MemoryVectors(ctx, userID)
	if err != nil {
		return nil, err
	}

	var hits []MemoryHit
	for _, r := range rankVectors(vecs, qvec, emb.Model(), k) {
		m, err := e.DB.GetMemory(ctx, r.RecordID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		hits = append(hits, MemoryHit{Memory: *e.view(m), Score: r.score})
	}
	return hits, nil
}

// SearchAtoms returns the k substantiated atoms most similar to query.
func (e *Engine) SearchAtoms(ctx context.Context, query string, k int) ([]AtomHit, error) {
	emb := e.Embedder()
	if emb == nil {
		return nil, ErrIndexUnavailable
	}
	qvec, err := e.queryVector(ctx, emb, query)
	if err != nil || qvec == nil {
		return nil, err
	}
	vecs, err := e.DB.AtomVectors(ctx)
	if err != nil {
		return nil, err
	}

	var hits []AtomHit
	for _, r := range rankVectors(vecs, qvec, emb.Model(), k) {
		a, err := e.DB.GetAtom(ctx, r.RecordID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		hits = append(hits, AtomHit{Atom: *a, Score: r.score})
	}
	return hits, nil
}

// queryVector embeds and normalizes a query, consulting the query cache.
// A nil vector means the query has nothing to match on.
func (e *Engine) queryVector(ctx context.Context, emb Embedder, query string) ([]float64, error) {
	key := emb.Model() + "\x00" + query
	if e.queryCache != nil {
		if v, ok := e.queryCache.Get(key); ok {
			return v.([]float64), nil
		}
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed", zap.String("model", emb.Model()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if !normalize(vec) {
		return nil, nil
	}
	if e.queryCache != nil {
		e.queryCache.Set(key, vec, 1)
	}
	return vec, nil
}

type scored struct {
	store.VectorRecord
	score float64
}

// rankVectors scores records built by model against qvec and returns the
// top k, best first, most recently indexed first among equal scores.
func rankVectors(vecs []store.VectorRecord, qvec []float64, model string, k int) []scored {
	if k <= 0 {
		k = defaultSearchK
	}
	out := make([]scored, 0, len(vecs))
	for _, v := range vecs {
		if v.Model != model || len(v.Embedding) != len(qvec) {
			continue
		}
		out = append(out, scored{VectorRecord: v, score: dot(qvec, v.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].IndexedAt != out[j].IndexedAt {
			return out[i].IndexedAt > out[j].IndexedAt
		}
		return out[i].RecordID < out[j].RecordID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

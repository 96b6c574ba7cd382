package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/config"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

// countingEmbedder hashes tokens into a small vector and counts calls.
type countingEmbedder struct {
	model string
	fail  string // texts containing this substring fail
	blank string // texts containing this substring embed to a zero vector

	mu    sync.Mutex
	calls []string
}

func (c *countingEmbedder) Model() string {
	if c.model == "" {
		return "counting"
	}
	return c.model
}

func (c *countingEmbedder) Dimensions() int { return 64 }

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	c.mu.Lock()
	c.calls = append(c.calls, text)
	c.mu.Unlock()
	if c.fail != "" && strings.Contains(text, c.fail) {
		return nil, errors.New("model unavailable")
	}
	vec := make([]float64, 64)
	if c.blank != "" && strings.Contains(text, c.blank) {
		return vec, nil
	}
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%64]++
	}
	return vec, nil
}

func (c *countingEmbedder) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, emb Embedder) *Engine {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e, err := New(db, Options{
		Embedder: emb,
		Logger:   zap.NewNop(),
		Index:    config.IndexConfig{BatchSize: 2, Workers: 2, CacheSize: 64},
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func storeMemory(t *testing.T, e *Engine, m store.Memory) string {
	t.Helper()
	res, err := e.StoreMemory(context.Background(), &m, StoreOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID, "memory %q was not admitted: %+v", m.Content, res.Decision)
	return res.ID
}

func semantic(user, content string) store.Memory {
	return store.Memory{UserID: user, Type: ontology.Semantic, Content: content}
}

// Package engine ties the stores, jury and semantic index together and
// implements the memory operations exposed to callers.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/config"
	"github.com/Alby2007/PLTM-sub001/internal/jury"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

// Engine orchestrates atom and memory storage, admission, decay, the
// semantic index and legacy atom migration.
type Engine struct {
	DB       *store.DB
	Registry *ontology.Registry
	Jury     *jury.Jury

	logger *zap.Logger

	embMu    sync.RWMutex
	embedder Embedder

	// queryCache holds query embeddings keyed by model and text. Nil when
	// disabled.
	queryCache *ristretto.Cache

	indexBatch     int
	indexWorkers   int
	migrationBatch int

	// backfillMu serializes backfill passes; migrateMu serializes migration
	// passes. Foreground writes are not blocked by either.
	backfillMu sync.Mutex
	migrateMu  sync.Mutex

	now func() time.Time
}

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	Registry  *ontology.Registry
	Jury      *jury.Jury
	Embedder  Embedder
	Logger    *zap.Logger
	Index     config.IndexConfig
	Migration config.MigrationConfig
}

// New creates an Engine over db. A nil Jury uses the default jury
// configuration without a meta-judge; a nil Embedder leaves semantic search
// unavailable until SetEmbedder is called.
func New(db *store.DB, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = ontology.Default()
	}
	j := opts.Jury
	if j == nil {
		j = jury.New(config.Default().Jury, nil, db, logger)
	}

	defaults := config.Default()
	e := &Engine{
		DB:             db,
		Registry:       reg,
		Jury:           j,
		logger:         logger,
		embedder:       opts.Embedder,
		indexBatch:     opts.Index.BatchSize,
		indexWorkers:   opts.Index.Workers,
		migrationBatch: opts.Migration.BatchSize,
		now:            time.Now,
	}
	if e.indexBatch <= 0 {
		e.indexBatch = defaults.Index.BatchSize
	}
	if e.indexWorkers <= 0 {
		e.indexWorkers = defaults.Index.Workers
	}
	if e.migrationBatch <= 0 {
		e.migrationBatch = defaults.Migration.BatchSize
	}

	if opts.Index.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: int64(opts.Index.CacheSize) * 10,
			MaxCost:     int64(opts.Index.CacheSize),
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create query cache: %w", err)
		}
		e.queryCache = cache
	}
	return e, nil
}

// SetEmbedder replaces the embedding provider. Vectors written under a
// different model are treated as stale by the next backfill.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.embMu.Lock()
	e.embedder = emb
	e.embMu.Unlock()
	if e.queryCache != nil {
		e.queryCache.Clear()
	}
}

// Embedder returns the current embedding provider, or nil.
func (e *Engine) Embedder() Embedder {
	e.embMu.RLock()
	defer e.embMu.RUnlock()
	return e.embedder
}

// Close releases in-process resources. It does not close the database.
func (e *Engine) Close() {
	if e.queryCache != nil {
		e.queryCache.Close()
	}
}

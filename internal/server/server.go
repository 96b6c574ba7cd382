package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/engine"
)

// Server is the pltm HTTP API server.
type Server struct {
	engine  *engine.Engine
	logger  *zap.Logger
	router  chi.Router
	version string
	started time.Time

	rps   float64
	burst int
}

// Options configures a Server. Zero rate limit fields disable limiting.
type Options struct {
	Version        string
	Logger         *zap.Logger
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a Server over the given engine.
func New(e *engine.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  e,
		logger:  logger,
		version: opts.Version,
		started: time.Now(),
		rps:     opts.RateLimitRPS,
		burst:   opts.RateLimitBurst,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(recoverEnvelope(s.logger))

	limited := func(r chi.Router) {
		if s.rps > 0 {
			r.Use(rateLimit(s.rps, s.burst))
		}
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/memories", s.handleQueryMemories)
		r.Get("/memories/search", s.handleSearchMemories)
		r.Get("/memories/semantic", s.handleSemanticSearch)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Get("/stats", s.handleStats)

		r.Get("/atoms", s.handleQueryAtoms)
		r.Get("/atoms/search", s.handleSearchAtoms)
		r.Get("/atoms/{id}", s.handleGetAtom)

		r.Get("/migrations/preview", s.handlePreviewMigration)
		r.Get("/migrations/validate", s.handleValidateMigration)
		r.Get("/jury/stats", s.handleJuryStats)

		r.Group(func(r chi.Router) {
			limited(r)

			r.Post("/memories", s.handleStoreMemory)
			r.Delete("/memories/{id}", s.handleDeleteMemory)
			r.Post("/memories/{id}/belief", s.handleUpdateBelief)
			r.Post("/memories/{id}/outcome", s.handleProcedureOutcome)

			r.Post("/atoms", s.handleAddAtom)
			r.Delete("/atoms/{id}", s.handleDeleteAtom)
			r.Post("/atoms/{id}/reconsolidate", s.handleReconsolidate)

			r.Post("/index/backfill", s.handleBackfill)
			r.Post("/migrations/run", s.handleRunMigration)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db := s.engine.DB
	fields := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      db.Healthy(r.Context()),
		"db_path": db.Path,
	}
	if v, err := db.SchemaVersion(); err == nil {
		fields["schema_version"] = v
	}
	if emb := s.engine.Embedder(); emb != nil {
		fields["embedder"] = emb.Model()
	}
	writeOK(w, http.StatusOK, fields)
}

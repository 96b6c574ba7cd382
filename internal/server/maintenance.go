package server

import (
	"net/http"
)

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	batch, err := queryInt(r, "batch_size")
	if err != nil {
		writeErr(w, err)
		return
	}
	report, err := s.engine.Backfill(r.Context(), batch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"report": report})
}

func (s *Server) handleRunMigration(w http.ResponseWriter, r *http.Request) {
	batch, err := queryInt(r, "batch_size")
	if err != nil {
		writeErr(w, err)
		return
	}
	report, err := s.engine.MigrateAtomsBatch(r.Context(), batch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"report": report})
}

func (s *Server) handlePreviewMigration(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.PreviewMigration(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"preview": p})
}

func (s *Server) handleValidateMigration(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.ValidateMigration(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"validation": v})
}

func (s *Server) handleJuryStats(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"stats": s.engine.Jury.Stats()})
}

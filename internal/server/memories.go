package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Alby2007/PLTM-sub001/internal/engine"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

type storeMemoryRequest struct {
	UserID           string         `json:"user_id"`
	Type             string         `json:"memory_type"`
	Content          string         `json:"content"`
	Context          string         `json:"context"`
	Source           string         `json:"source"`
	Strength         float64        `json:"strength"`
	Confidence       float64        `json:"confidence"`
	EpisodeTimestamp int64          `json:"episode_timestamp"`
	EmotionalValence float64        `json:"emotional_valence"`
	Trigger          string         `json:"trigger"`
	Action           string         `json:"action"`
	Tags             []string       `json:"tags"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	t, err := ontology.ParseMemoryType(req.Type)
	if err != nil {
		writeErr(w, err)
		return
	}

	m := &store.Memory{
		UserID:           req.UserID,
		Type:             t,
		Content:          req.Content,
		Context:          req.Context,
		Source:           req.Source,
		Strength:         req.Strength,
		Confidence:       req.Confidence,
		EpisodeTimestamp: req.EpisodeTimestamp,
		EmotionalValence: req.EmotionalValence,
		Trigger:          req.Trigger,
		Action:           req.Action,
		Tags:             req.Tags,
		Metadata:         req.Metadata,
	}
	res, err := s.engine.StoreMemory(r.Context(), m, engine.StoreOptions{})
	if err != nil {
		writeErr(w, err)
		return
	}

	status := http.StatusCreated
	if res.ID == "" {
		status = http.StatusOK
	}
	writeOK(w, status, map[string]any{"id": res.ID, "decision": res.Decision})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMemory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"memory": m})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DeleteMemory(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleQueryMemories(w http.ResponseWriter, r *http.Request) {
	q := engine.MemoryQuery{
		UserID: r.URL.Query().Get("user_id"),
		Tags:   queryList(r, "tags"),
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, err := ontology.ParseMemoryType(raw)
		if err != nil {
			writeErr(w, err)
			return
		}
		q.Type = &t
	}
	minStrength, err := queryFloat(r, "min_strength")
	if err != nil {
		writeErr(w, err)
		return
	}
	q.MinStrength = minStrength

	mems, err := s.engine.QueryMemories(r.Context(), q)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"memories": mems, "count": len(mems)})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeErr(w, err)
		return
	}
	mems, err := s.engine.SearchMemories(r.Context(), r.URL.Query().Get("user_id"), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"memories": mems, "count": len(mems)})
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	k, err := queryInt(r, "k")
	if err != nil {
		writeErr(w, err)
		return
	}
	hits, err := s.engine.SemanticSearch(r.Context(), r.URL.Query().Get("user_id"), r.URL.Query().Get("q"), k)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

func (s *Server) handleUpdateBelief(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction  string  `json:"direction"`
		EvidenceID string  `json:"evidence_id"`
		Weight     float64 `json:"weight"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	m, err := s.engine.UpdateBelief(r.Context(), chi.URLParam(r, "id"), req.Direction, req.EvidenceID, req.Weight)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"memory": m})
}

func (s *Server) handleProcedureOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Success *bool `json:"success"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Success == nil {
		writeErr(w, badRequest("success is required"))
		return
	}
	m, err := s.engine.RecordProcedureOutcome(r.Context(), chi.URLParam(r, "id"), *req.Success)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"memory": m})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	fields := map[string]any{}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		ms, err := s.engine.MemoryStats(r.Context(), userID)
		if err != nil {
			writeErr(w, err)
			return
		}
		fields["memories"] = ms
	}
	as, err := s.engine.AtomStats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	fields["atoms"] = as
	writeOK(w, http.StatusOK, fields)
}

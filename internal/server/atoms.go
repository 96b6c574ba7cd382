package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Alby2007/PLTM-sub001/internal/engine"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

type addAtomRequest struct {
	Key        string  `json:"key"`
	Type       string  `json:"atom_type"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Context    string  `json:"context"`
	Provenance string  `json:"provenance"`
	Confidence float64 `json:"confidence"`
	Strength   float64 `json:"strength"`
	Graph      string  `json:"graph"`
}

func (s *Server) handleAddAtom(w http.ResponseWriter, r *http.Request) {
	var req addAtomRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	t, err := ontology.ParseAtomType(req.Type)
	if err != nil {
		writeErr(w, err)
		return
	}
	a := &store.Atom{
		Key:        req.Key,
		Type:       t,
		Subject:    req.Subject,
		Predicate:  req.Predicate,
		Object:     req.Object,
		Context:    req.Context,
		Provenance: req.Provenance,
		Confidence: req.Confidence,
		Strength:   req.Strength,
	}
	if req.Graph != "" {
		if a.Graph, err = ontology.ParseGraph(req.Graph); err != nil {
			writeErr(w, err)
			return
		}
	}

	res, err := s.engine.AddAtom(r.Context(), a)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	superseded := res.Superseded
	if superseded == nil {
		superseded = []string{}
	}
	writeOK(w, status, map[string]any{
		"atom":       res.Atom,
		"superseded": superseded,
		"existing":   res.Existing,
		"regressed":  res.Regressed,
	})
}

func (s *Server) handleQueryAtoms(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := engine.AtomQuery{
		Subject:    v.Get("subject"),
		Predicates: queryList(r, "predicate"),
		Contains:   v.Get("contains"),
		All:        v.Get("all") == "true",
	}
	if raw := v.Get("type"); raw != "" {
		t, err := ontology.ParseAtomType(raw)
		if err != nil {
			writeErr(w, err)
			return
		}
		q.Type = &t
	}
	if raw := v.Get("graph"); raw != "" {
		g, err := ontology.ParseGraph(raw)
		if err != nil {
			writeErr(w, err)
			return
		}
		q.Graph = g
	}

	atoms, err := s.engine.QueryAtoms(r.Context(), q)
	if err != nil {
		writeErr(w, err)
		return
	}
	if atoms == nil {
		atoms = []store.Atom{}
	}
	writeOK(w, http.StatusOK, map[string]any{"atoms": atoms, "count": len(atoms)})
}

func (s *Server) handleSearchAtoms(w http.ResponseWriter, r *http.Request) {
	k, err := queryInt(r, "k")
	if err != nil {
		writeErr(w, err)
		return
	}
	hits, err := s.engine.SearchAtoms(r.Context(), r.URL.Query().Get("q"), k)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

func (s *Server) handleGetAtom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.engine.GetAtom(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.engine.AtomStability(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"atom": a, "stability": st})
}

func (s *Server) handleDeleteAtom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DeleteAtom(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleReconsolidate(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Reconsolidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"atom": a})
}

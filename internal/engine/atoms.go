package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

// AddAtom validates an atom and inserts it, superseding whatever the
// ontology says it displaces: the holder of an exclusive slot, the
// contradicting predicate for the same object, and lower progression stages.
func (e *Engine) AddAtom(ctx context.Context, a *store.Atom) (*store.InsertResult, error) {
	a.Subject = strings.TrimSpace(a.Subject)
	a.Predicate = ontology.NormalizePredicate(a.Predicate)
	a.Object = strings.TrimSpace(a.Object)
	if a.Subject == "" || a.Predicate == "" || a.Object == "" {
		return nil, fmt.Errorf("%w: subject, predicate and object are required", ErrValidation)
	}
	if !a.Type.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrValidation, a.Type)
	}
	if !e.Registry.RuleFor(a.Type).Allows(a.Predicate) {
		return nil, fmt.Errorf("%w: predicate %q not allowed for %s atoms", ErrValidation, a.Predicate, a.Type)
	}
	switch a.Graph {
	case "":
		a.Graph = ontology.Substantiated
	case ontology.Substantiated, ontology.HypothesisG:
	default:
		return nil, fmt.Errorf("%w: atoms cannot be inserted as %s", ErrValidation, a.Graph)
	}
	if a.Confidence == 0 {
		a.Confidence = 1
	}
	if a.Strength == 0 {
		a.Strength = 1
	}

	res, err := e.DB.InsertAtom(ctx, a, e.supersedePlan(a.Type, a.Predicate))
	if err != nil {
		return nil, err
	}
	if len(res.Superseded) > 0 {
		e.logger.Debug("atom superseded prior facts",
			zap.String("atom_id", res.Atom.ID),
			zap.String("subject", res.Atom.Subject),
			zap.String("predicate", res.Atom.Predicate),
			zap.Strings("superseded", res.Superseded),
		)
	}
	return res, nil
}

// slotFor names the exclusivity slot an atom of type t with this predicate
// occupies, or "" when it can coexist with others.
func (e *Engine) slotFor(t ontology.AtomType, predicate string) (string, []string) {
	group := e.Registry.ExclusiveGroup(t, predicate)
	if len(group) == 0 {
		return "", nil
	}
	if rel := ontology.RelationshipFor(predicate); rel != nil && rel.ExclusiveGroup != "" {
		return rel.ExclusiveGroup, group
	}
	return "predicate:" + ontology.NormalizePredicate(predicate), group
}

func (e *Engine) supersedePlan(t ontology.AtomType, predicate string) store.SupersedePlan {
	var plan store.SupersedePlan
	plan.Slot, plan.Group = e.slotFor(t, predicate)
	if rel := ontology.RelationshipFor(predicate); rel != nil {
		plan.Opposite = rel.Opposite
		if rel.Stage >= 0 && len(rel.Progression) > 0 {
			plan.Progression = rel.Progression
			plan.Stage = rel.Stage
		}
	}
	return plan
}

// AtomQuery selects atoms. Subject is required unless All is set; at most
// one of Predicates, Type and Contains narrows the result further.
type AtomQuery struct {
	Subject    string
	Graph      ontology.Graph
	Predicates []string
	Type       *ontology.AtomType
	Contains   string
	All        bool
}

// QueryAtoms runs an atom query against committed state.
func (e *Engine) QueryAtoms(ctx context.Context, q AtomQuery) ([]store.Atom, error) {
	if q.All {
		return e.DB.AllAtoms(ctx)
	}
	if strings.TrimSpace(q.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}

	var atoms []store.Atom
	var err error
	switch {
	case len(q.Predicates) > 0:
		atoms, err = e.DB.AtomsByPredicate(ctx, q.Subject, q.Predicates)
	case q.Type != nil:
		atoms, err = e.DB.AtomsByType(ctx, q.Subject, *q.Type)
	case q.Contains != "":
		atoms, err = e.DB.AtomsByObjectContains(ctx, q.Subject, q.Contains)
	default:
		return e.DB.AtomsBySubject(ctx, q.Subject, q.Graph)
	}
	if err != nil {
		return nil, err
	}
	if q.Graph == "" {
		return atoms, nil
	}
	out := atoms[:0]
	for _, a := range atoms {
		if a.Graph == q.Graph {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetAtom returns an atom by id.
func (e *Engine) GetAtom(ctx context.Context, id string) (*store.Atom, error) {
	a, err := e.DB.GetAtom(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("atom %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// Reconsolidate applies the retrieval boost to an atom and resets its
// access clock. Atoms of immutable types are returned unchanged.
func (e *Engine) Reconsolidate(ctx context.Context, id string) (*store.Atom, error) {
	cur, err := e.GetAtom(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Registry.RuleFor(cur.Type).Immutable {
		return cur, nil
	}
	a, err := e.DB.TouchAtom(ctx, id, ontology.Reconsolidate)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("atom %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// AtomStability reports how well an atom has held up since last access.
func (e *Engine) AtomStability(ctx context.Context, id string) (*AtomStability, error) {
	a, err := e.GetAtom(ctx, id)
	if err != nil {
		return nil, err
	}
	s := atomStability(e.Registry, a, e.now())
	return &s, nil
}

// DeleteAtom removes an atom and its embedding.
func (e *Engine) DeleteAtom(ctx context.Context, id string) error {
	ok, err := e.DB.DeleteAtom(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("atom %s: %w", id, ErrNotFound)
	}
	return nil
}

// AtomStats returns atom totals by type and graph.
func (e *Engine) AtomStats(ctx context.Context) (*store.AtomCounts, error) {
	return e.DB.CountAtoms(ctx)
}

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

func addAtom(t *testing.T, e *Engine, typ ontology.AtomType, subject, predicate, object string) *store.InsertResult {
	t.Helper()
	res, err := e.AddAtom(context.Background(), &store.Atom{Type: typ, Subject: subject, Predicate: predicate, Object: object})
	require.NoError(t, err)
	return res
}

func substantiated(atoms []store.Atom) []store.Atom {
	var out []store.Atom
	for _, a := range atoms {
		if a.Graph == ontology.Substantiated {
			out = append(out, a)
		}
	}
	return out
}

func TestExclusiveGroupSupersedes(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	first := addAtom(t, e, ontology.Affiliation, "alice", "works_at", "Initech")
	second := addAtom(t, e, ontology.Affiliation, "alice", "employed_by", "Globex")
	assert.Equal(t, []string{first.Atom.ID}, second.Superseded)

	employer, err := e.QueryAtoms(ctx, AtomQuery{Subject: "alice", Predicates: []string{"works_at", "works_for", "employed_by"}})
	require.NoError(t, err)
	current := substantiated(employer)
	require.Len(t, current, 1)
	assert.Equal(t, "Globex", current[0].Object)

	all, err := e.QueryAtoms(ctx, AtomQuery{All: true})
	require.NoError(t, err)
	require.Len(t, all, 2, "superseded atoms are kept")
	for _, a := range all {
		if a.ID == first.Atom.ID {
			assert.Equal(t, ontology.Superseded, a.Graph)
			assert.Equal(t, second.Atom.ID, a.SupersededBy)
		}
	}
}

func TestExclusiveTypeUsesPredicateSlot(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	addAtom(t, e, ontology.State, "alice", "mood_is", "tired")
	addAtom(t, e, ontology.State, "alice", "status", "on call")
	addAtom(t, e, ontology.State, "alice", "mood_is", "rested")

	atoms, err := e.QueryAtoms(ctx, AtomQuery{Subject: "alice", Graph: ontology.Substantiated})
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	objects := []string{atoms[0].Object, atoms[1].Object}
	assert.ElementsMatch(t, []string{"rested", "on call"}, objects)
}

func TestNonExclusiveCoexist(t *testing.T) {
	e := newTestEngine(t, nil)
	addAtom(t, e, ontology.Preference, "alice", "likes", "tea")
	res := addAtom(t, e, ontology.Preference, "alice", "likes", "jazz")
	assert.Empty(t, res.Superseded)

	atoms, err := e.QueryAtoms(context.Background(), AtomQuery{Subject: "alice", Graph: ontology.Substantiated})
	require.NoError(t, err)
	assert.Len(t, atoms, 2)
}

func TestOppositeSupersedes(t *testing.T) {
	e := newTestEngine(t, nil)
	liked := addAtom(t, e, ontology.Preference, "alice", "likes", "olives")
	res := addAtom(t, e, ontology.Preference, "alice", "dislikes", "Olives")
	assert.Equal(t, []string{liked.Atom.ID}, res.Superseded)
}

func TestProgression(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	learning := addAtom(t, e, ontology.Skill, "alice", "learning", "Rust")
	expert := addAtom(t, e, ontology.Skill, "alice", "expert_at", "Rust")
	assert.Equal(t, []string{learning.Atom.ID}, expert.Superseded)

	back := addAtom(t, e, ontology.Skill, "alice", "proficient_in", "Rust")
	assert.True(t, back.Regressed)
	assert.Equal(t, ontology.HypothesisG, back.Atom.Graph)
	assert.Empty(t, back.Superseded)

	got, err := e.GetAtom(ctx, expert.Atom.ID)
	require.NoError(t, err)
	assert.Equal(t, ontology.Substantiated, got.Graph)
}

func TestAddAtomValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		atom store.Atom
	}{
		{"missing object", store.Atom{Type: ontology.Preference, Subject: "alice", Predicate: "likes"}},
		{"bad type", store.Atom{Type: ontology.AtomType(77), Subject: "alice", Predicate: "likes", Object: "tea"}},
		{"predicate not allowed", store.Atom{Type: ontology.Skill, Subject: "alice", Predicate: "likes", Object: "tea"}},
		{"superseded graph", store.Atom{Type: ontology.Preference, Subject: "alice", Predicate: "likes", Object: "tea", Graph: ontology.Superseded}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.atom
			_, err := e.AddAtom(ctx, &a)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNaturalKeyIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	a := &store.Atom{Key: "import:42", Type: ontology.Preference, Subject: "alice", Predicate: "likes", Object: "tea"}
	first, err := e.AddAtom(ctx, a)
	require.NoError(t, err)

	b := &store.Atom{Key: "import:42", Type: ontology.Preference, Subject: "alice", Predicate: "likes", Object: "tea"}
	second, err := e.AddAtom(ctx, b)
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Atom.ID, second.Atom.ID)
}

func TestQueryAtomsFilters(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	addAtom(t, e, ontology.Preference, "alice", "likes", "green tea")
	addAtom(t, e, ontology.Skill, "alice", "learning", "Rust")
	addAtom(t, e, ontology.Preference, "bob", "likes", "coffee")

	typ := ontology.Skill
	skills, err := e.QueryAtoms(ctx, AtomQuery{Subject: "alice", Type: &typ})
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "Rust", skills[0].Object)

	tea, err := e.QueryAtoms(ctx, AtomQuery{Subject: "alice", Contains: "TEA"})
	require.NoError(t, err)
	require.Len(t, tea, 1)

	_, err = e.QueryAtoms(ctx, AtomQuery{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReconsolidate(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := e.AddAtom(ctx, &store.Atom{Type: ontology.Preference, Subject: "alice", Predicate: "likes", Object: "tea", Strength: 0.4})
	require.NoError(t, err)

	got, err := e.Reconsolidate(ctx, res.Atom.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Strength, 1e-9)
	assert.GreaterOrEqual(t, got.LastAccessed, res.Atom.LastAccessed)

	got, err = e.Reconsolidate(ctx, res.Atom.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Strength, 1e-9)
	got, err = e.Reconsolidate(ctx, res.Atom.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Strength)

	_, err = e.Reconsolidate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconsolidateLeavesImmutableTypes(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	for _, tt := range []struct {
		typ  ontology.AtomType
		pred string
	}{
		{ontology.Event, "completed"},
		{ontology.Invariant, "born_in"},
	} {
		t.Run(tt.typ.String(), func(t *testing.T) {
			res, err := e.AddAtom(ctx, &store.Atom{Type: tt.typ, Subject: "alice", Predicate: tt.pred, Object: "launch day", Strength: 0.4})
			require.NoError(t, err)

			got, err := e.Reconsolidate(ctx, res.Atom.ID)
			require.NoError(t, err)
			assert.InDelta(t, 0.4, got.Strength, 1e-9)

			stored, err := e.GetAtom(ctx, res.Atom.ID)
			require.NoError(t, err)
			assert.InDelta(t, 0.4, stored.Strength, 1e-9)
			assert.Equal(t, res.Atom.LastAccessed, stored.LastAccessed)
		})
	}
}

func TestAtomStabilityAndDelete(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	res := addAtom(t, e, ontology.Preference, "alice", "likes", "tea")
	s, err := e.AtomStability(ctx, res.Atom.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s.Stability, 1e-3)
	assert.False(t, s.ShouldDissolve)

	stats, err := e.AtomStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByType["preference"])

	require.NoError(t, e.DeleteAtom(ctx, res.Atom.ID))
	assert.ErrorIs(t, e.DeleteAtom(ctx, res.Atom.ID), ErrNotFound)
	_, err = e.AtomStability(ctx, res.Atom.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddAtomConcurrentExclusive(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "pltm.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	e, err := New(db, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	ctx := context.Background()

	const writers = 40
	preds := []string{"works_at", "works_for", "employed_by"}
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.AddAtom(ctx, &store.Atom{
				Type:      ontology.Affiliation,
				Subject:   "alice",
				Predicate: preds[i%len(preds)],
				Object:    fmt.Sprintf("company-%02d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := e.QueryAtoms(ctx, AtomQuery{Subject: "alice", Graph: ontology.Substantiated})
	require.NoError(t, err)
	assert.Len(t, current, 1, "one substantiated employer survives concurrent writers")

	all, err := e.QueryAtoms(ctx, AtomQuery{Subject: "alice"})
	require.NoError(t, err)
	assert.Len(t, all, writers)

	superseded, err := e.QueryAtoms(ctx, AtomQuery{Subject: "alice", Graph: ontology.Superseded})
	require.NoError(t, err)
	assert.Len(t, superseded, writers-1)
}

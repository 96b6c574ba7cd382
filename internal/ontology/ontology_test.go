package ontology

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEveryTypeHasARule(t *testing.T) {
	reg := Default()
	for _, at := range AtomTypes() {
		rule := reg.RuleFor(at)
		assert.NotEmpty(t, rule.Description, "atom type %s has no rule", at)
	}
	for _, mt := range MemoryTypes() {
		rule := reg.MemoryRuleFor(mt)
		assert.NotEmpty(t, rule.Description, "memory type %s has no rule", mt)
	}
}

func TestRuleForPanicsOnMalformedType(t *testing.T) {
	reg := Default()
	assert.Panics(t, func() { reg.RuleFor(AtomType(99)) })
	assert.Panics(t, func() { reg.MemoryRuleFor(MemoryType(-1)) })
}

func TestParseTypes(t *testing.T) {
	at, err := ParseAtomType(" Affiliation ")
	require.NoError(t, err)
	assert.Equal(t, Affiliation, at)

	mt, err := ParseMemoryType("belief")
	require.NoError(t, err)
	assert.Equal(t, BeliefMemory, mt)

	_, err = ParseAtomType("gossip")
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = ParseMemoryType("dream")
	assert.ErrorIs(t, err, ErrUnknownType)

	for _, at := range AtomTypes() {
		b, err := at.MarshalText()
		require.NoError(t, err)
		var back AtomType
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, at, back)
	}
}

func TestDecayRates(t *testing.T) {
	reg := Default()
	tests := []struct {
		typ  AtomType
		want float64
	}{
		{Entity, 0.01},
		{Affiliation, 0.03},
		{Social, 0.05},
		{Preference, 0.08},
		{Belief, 0.10},
		{Skill, 0.02},
		{Event, 0.06},
		{State, 0.50},
		{Hypothesis, 0.15},
		{Invariant, 0.00},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reg.RuleFor(tt.typ).DecayRate, tt.typ.String())
	}

	ep := reg.MemoryRuleFor(Episodic).DecayRate
	sem := reg.MemoryRuleFor(Semantic).DecayRate
	assert.Greater(t, ep, sem, "episodic must decay faster than semantic")
}

func TestOverrides(t *testing.T) {
	reg, err := New(Overrides{
		AtomRates:   map[string]float64{"state": 0.7},
		MemoryRates: map[string]float64{"semantic": 0.04},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.7, reg.RuleFor(State).DecayRate)
	assert.Equal(t, 0.04, reg.MemoryRuleFor(Semantic).DecayRate)
	// Package tables are untouched.
	assert.Equal(t, 0.50, Default().RuleFor(State).DecayRate)

	_, err = New(Overrides{AtomRates: map[string]float64{"vibes": 1}})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestFlags(t *testing.T) {
	reg := Default()
	assert.True(t, reg.RuleFor(Preference).Contextual)
	assert.False(t, reg.RuleFor(Affiliation).Contextual)
	assert.True(t, reg.RuleFor(Skill).Progressive)
	assert.True(t, reg.RuleFor(Event).Immutable)
	assert.True(t, reg.RuleFor(State).Exclusive)
	assert.True(t, reg.MemoryRuleFor(Episodic).Temporal)
}

func TestExclusiveGroup(t *testing.T) {
	reg := Default()

	assert.ElementsMatch(t, []string{"works_at", "works_for", "employed_by"}, reg.ExclusiveGroup(Affiliation, "works_at"))
	assert.Equal(t, []string{"is"}, reg.ExclusiveGroup(Entity, "is"))
	assert.Equal(t, []string{"mood_is"}, reg.ExclusiveGroup(State, "mood_is"))
	assert.Nil(t, reg.ExclusiveGroup(Preference, "likes"))
	assert.Nil(t, reg.ExclusiveGroup(Social, "knows"))
}

func TestRelationshipFor(t *testing.T) {
	rel := RelationshipFor("likes")
	require.NotNil(t, rel)
	assert.Equal(t, "dislikes", rel.Opposite)

	rel = RelationshipFor("distrusts")
	require.NotNil(t, rel)
	assert.Equal(t, "trusts", rel.Opposite)

	rel = RelationshipFor("expert_at")
	require.NotNil(t, rel)
	assert.Equal(t, 2, rel.Stage)
	assert.Equal(t, SkillProgression, rel.Progression)

	assert.Nil(t, RelationshipFor("knows"))
}

func TestAllowedPredicates(t *testing.T) {
	reg := Default()
	assert.True(t, reg.RuleFor(Affiliation).Allows("works_at"))
	assert.False(t, reg.RuleFor(Affiliation).Allows("likes"))
	assert.True(t, reg.RuleFor(Preference).Allows("LIKES"))
	assert.True(t, reg.RuleFor(Relation).Allows("anything_goes"))
	assert.Nil(t, reg.PredicatesFor(Relation))
	assert.Contains(t, reg.PredicatesFor(Entity), "is")
}

func TestTypeForPredicate(t *testing.T) {
	tests := []struct {
		pred string
		want AtomType
		ok   bool
	}{
		{"works_at", Affiliation, true},
		{"friends_with", Social, true},
		{"Prefers", Preference, true},
		{"believes", Belief, true},
		{"mastered", Skill, true},
		{"completed", Event, true},
		{"mood_is", State, true},
		{"teleports_to", 0, false},
	}
	for _, tt := range tests {
		got, ok := TypeForPredicate(tt.pred)
		assert.Equal(t, tt.ok, ok, tt.pred)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.pred)
		}
	}
}

func TestStability(t *testing.T) {
	reg := Default()

	assert.Equal(t, 1.0, reg.Stability(Invariant, 0.9, 1000*time.Hour))
	assert.Equal(t, 1.0, reg.Stability(State, 0.9, 0))

	// state: exp(-10 / (0.5 * 1.0 * 100)) = exp(-0.2)
	assert.InDelta(t, math.Exp(-0.2), reg.Stability(State, 1.0, 10*time.Hour), 1e-9)

	// State decays faster than entity.
	assert.Less(t, reg.Stability(State, 0.8, 24*time.Hour), reg.Stability(Entity, 0.8, 24*time.Hour))
}

func TestShouldDissolve(t *testing.T) {
	reg := Default()
	long := 30 * 24 * time.Hour
	assert.True(t, reg.ShouldDissolve(Hypothesis, HypothesisG, 0.2, long))
	assert.False(t, reg.ShouldDissolve(Hypothesis, Substantiated, 0.2, long))
	assert.False(t, reg.ShouldDissolve(Hypothesis, HypothesisG, 0.9, time.Hour))
}

func TestTimeToDissolution(t *testing.T) {
	reg := Default()
	assert.Equal(t, time.Duration(-1), reg.TimeToDissolution(Invariant, 0.5))

	d := reg.TimeToDissolution(State, 1.0)
	assert.InDelta(t, DissolveThreshold, reg.Stability(State, 1.0, d), 1e-6)
	assert.Len(t, reg.DecaySchedule(State, 1.0), 4)
}

func TestReconsolidate(t *testing.T) {
	assert.InDelta(t, 0.75, Reconsolidate(0.5), 1e-9)
	assert.Equal(t, 1.0, Reconsolidate(0.9))
}

func TestStabilityProperties(t *testing.T) {
	reg := Default()
	rapid.Check(t, func(t *rapid.T) {
		typ := AtomType(rapid.IntRange(0, int(numAtomTypes)-1).Draw(t, "type"))
		conf := rapid.Float64Range(0, 1).Draw(t, "confidence")
		h1 := rapid.Float64Range(0, 5000).Draw(t, "h1")
		h2 := rapid.Float64Range(0, 5000).Draw(t, "h2")
		if h1 > h2 {
			h1, h2 = h2, h1
		}
		s1 := reg.Stability(typ, conf, time.Duration(h1*float64(time.Hour)))
		s2 := reg.Stability(typ, conf, time.Duration(h2*float64(time.Hour)))
		if s1 < 0 || s1 > 1 || s2 < 0 || s2 > 1 {
			t.Fatalf("stability out of range: %v %v", s1, s2)
		}
		if s2 > s1 {
			t.Fatalf("stability increased with time: %v -> %v", s1, s2)
		}
	})
}

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

func TestEpisodicDecaysFasterThanSemantic(t *testing.T) {
	reg := ontology.Default()
	touched := testNow.Add(-72 * time.Hour).UnixMilli()

	episodic := &store.Memory{Type: ontology.Episodic, Strength: 0.9, LastAccessed: touched, EpisodeTimestamp: touched}
	semantic := &store.Memory{Type: ontology.Semantic, Strength: 0.9, LastAccessed: touched}

	ep := CurrentStrength(reg, episodic, testNow)
	se := CurrentStrength(reg, semantic, testNow)
	assert.Less(t, ep, se)
	assert.Less(t, se, 0.9)
	assert.Less(t, ep, 0.9)
}

func TestEpisodicDecayAnchoredToEpisode(t *testing.T) {
	reg := ontology.Default()
	m := &store.Memory{
		Type:             ontology.Episodic,
		Strength:         1,
		LastAccessed:     testNow.UnixMilli(),
		EpisodeTimestamp: testNow.Add(-10 * 24 * time.Hour).UnixMilli(),
	}
	// 0.30/day over 10 days.
	assert.InDelta(t, 0.0498, CurrentStrength(reg, m, testNow), 1e-3)
}

func TestDecayNoElapsed(t *testing.T) {
	reg := ontology.Default()
	m := &store.Memory{Type: ontology.Semantic, Strength: 0.7, LastAccessed: testNow.UnixMilli()}
	assert.Equal(t, 0.7, CurrentStrength(reg, m, testNow))
	// A clock behind the record never inflates strength.
	assert.Equal(t, 0.7, CurrentStrength(reg, m, testNow.Add(-time.Hour)))
}

func TestDecayRateOverride(t *testing.T) {
	reg, err := ontology.New(ontology.Overrides{MemoryRates: map[string]float64{"semantic": 0}})
	if err != nil {
		t.Fatal(err)
	}
	m := &store.Memory{Type: ontology.Semantic, Strength: 0.7, LastAccessed: testNow.Add(-1000 * time.Hour).UnixMilli()}
	assert.Equal(t, 0.7, CurrentStrength(reg, m, testNow))
}

func TestDecayBounded(t *testing.T) {
	reg := ontology.Default()
	rapid.Check(t, func(t *rapid.T) {
		typ := ontology.MemoryType(rapid.IntRange(0, len(ontology.MemoryTypes())-1).Draw(t, "type"))
		stored := rapid.Float64Range(0, 1).Draw(t, "stored")
		hours := rapid.Int64Range(-1000, 100000).Draw(t, "hours")
		at := testNow.Add(-time.Duration(hours) * time.Hour).UnixMilli()

		m := &store.Memory{Type: typ, Strength: stored, LastAccessed: at, EpisodeTimestamp: at}
		cur := CurrentStrength(reg, m, testNow)
		if cur < 0 || cur > stored {
			t.Fatalf("current %f outside [0, %f]", cur, stored)
		}
	})
}

func TestAtomStabilityView(t *testing.T) {
	reg := ontology.Default()
	a := &store.Atom{
		ID:           "a1",
		Type:         ontology.Hypothesis,
		Graph:        ontology.HypothesisG,
		Confidence:   0.5,
		LastAccessed: testNow.Add(-30 * 24 * time.Hour).UnixMilli(),
	}
	s := atomStability(reg, a, testNow)
	assert.Less(t, s.Stability, ontology.DissolveThreshold)
	assert.True(t, s.ShouldDissolve)
	assert.Len(t, s.Schedule, 4)

	inv := &store.Atom{ID: "a2", Type: ontology.Invariant, Graph: ontology.Substantiated, Confidence: 1,
		LastAccessed: a.LastAccessed}
	s = atomStability(reg, inv, testNow)
	assert.Equal(t, 1.0, s.Stability)
	assert.Equal(t, "never", s.TimeToDissolution)
}

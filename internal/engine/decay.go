package engine

import (
	"math"
	"time"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

// Decay is computed at read time and never written back:
//
//	current = stored * exp(-rate_per_day * days_elapsed)
//
// Elapsed time runs from last access, or from the episode timestamp for
// temporal types. The result is clamped to [0, stored].

// CurrentStrength returns a memory's decayed strength at now.
func CurrentStrength(reg *ontology.Registry, m *store.Memory, now time.Time) float64 {
	rule := reg.MemoryRuleFor(m.Type)
	stored := ontology.Clamp01(m.Strength)

	anchor := m.LastAccessed
	if rule.Temporal && m.EpisodeTimestamp > 0 {
		anchor = m.EpisodeTimestamp
	}
	elapsed := now.Sub(time.UnixMilli(anchor))
	if elapsed <= 0 || rule.DecayRate == 0 {
		return stored
	}

	days := elapsed.Hours() / 24
	v := stored * math.Exp(-rule.DecayRate*days)
	if v < 0 {
		return 0
	}
	if v > stored {
		return stored
	}
	return v
}

// AtomStability is the stability view of an atom as of now.
type AtomStability struct {
	AtomID            string                   `json:"atom_id"`
	Stability         float64                  `json:"stability"`
	ShouldDissolve    bool                     `json:"should_dissolve"`
	TimeToDissolution string                   `json:"time_to_dissolution"`
	Schedule          []ontology.SchedulePoint `json:"schedule"`
}

func atomStability(reg *ontology.Registry, a *store.Atom, now time.Time) AtomStability {
	elapsed := now.Sub(time.UnixMilli(a.LastAccessed))
	s := AtomStability{
		AtomID:         a.ID,
		Stability:      reg.Stability(a.Type, a.Confidence, elapsed),
		ShouldDissolve: reg.ShouldDissolve(a.Type, a.Graph, a.Confidence, elapsed),
		Schedule:       reg.DecaySchedule(a.Type, a.Confidence),
	}
	if d := reg.TimeToDissolution(a.Type, a.Confidence); d < 0 {
		s.TimeToDissolution = "never"
	} else {
		s.TimeToDissolution = d.Round(time.Minute).String()
	}
	return s
}

package ontology

import (
	"math"
	"time"
)

// DissolveThreshold is the stability below which a hypothesis is considered
// dissolved.
const DissolveThreshold = 0.1

// ReconsolidationBoost multiplies an atom's strength when it is retrieved.
const ReconsolidationBoost = 1.5

// Stability returns how well an atom of type t with the given confidence has
// held up after elapsed time: exp(-hours / (rate * confidence * 100)).
// A zero decay rate never decays.
func (r *Registry) Stability(t AtomType, confidence float64, elapsed time.Duration) float64 {
	rate := r.RuleFor(t).DecayRate
	if rate == 0 {
		return 1
	}
	if elapsed <= 0 {
		return 1
	}
	confidence = Clamp01(confidence)
	if confidence == 0 {
		return 0
	}
	hours := elapsed.Hours()
	return math.Exp(-hours / (rate * confidence * 100))
}

// ShouldDissolve reports whether a hypothesis atom has decayed past
// DissolveThreshold. Substantiated and superseded atoms never dissolve.
func (r *Registry) ShouldDissolve(t AtomType, g Graph, confidence float64, elapsed time.Duration) bool {
	if g != HypothesisG {
		return false
	}
	return r.Stability(t, confidence, elapsed) < DissolveThreshold
}

// TimeToDissolution returns how long until an atom's stability drops below
// DissolveThreshold, measured from its last access. It returns -1 if it
// never will.
func (r *Registry) TimeToDissolution(t AtomType, confidence float64) time.Duration {
	rate := r.RuleFor(t).DecayRate
	confidence = Clamp01(confidence)
	if rate == 0 {
		return -1
	}
	if confidence == 0 {
		return 0
	}
	// exp(-h/k) = threshold  =>  h = -k * ln(threshold)
	hours := -(rate * confidence * 100) * math.Log(DissolveThreshold)
	return time.Duration(hours * float64(time.Hour))
}

// SchedulePoint is one sample of a decay schedule.
type SchedulePoint struct {
	After     string  `json:"after"`
	Stability float64 `json:"stability"`
}

var scheduleOffsets = []struct {
	label string
	d     time.Duration
}{
	{"1h", time.Hour},
	{"1d", 24 * time.Hour},
	{"1w", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
}

// DecaySchedule samples stability at fixed offsets from now.
func (r *Registry) DecaySchedule(t AtomType, confidence float64) []SchedulePoint {
	out := make([]SchedulePoint, 0, len(scheduleOffsets))
	for _, o := range scheduleOffsets {
		out = append(out, SchedulePoint{After: o.label, Stability: r.Stability(t, confidence, o.d)})
	}
	return out
}

// Reconsolidate returns a retrieved atom's boosted strength, capped at 1.
func Reconsolidate(strength float64) float64 {
	return Clamp01(Clamp01(strength) * ReconsolidationBoost)
}

// Clamp01 bounds v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

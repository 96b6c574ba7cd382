package ontology

import (
	"fmt"
	"sort"
)

// Rule describes how a type behaves.
type Rule struct {
	// DecayRate is per hour for atom types and per day for memory types.
	DecayRate   float64
	Exclusive   bool
	Contextual  bool
	Progressive bool
	Temporal    bool
	Immutable   bool

	// AllowedPredicates is nil for types that accept any predicate.
	AllowedPredicates map[string]bool
	Description       string
}

// Allows reports whether the rule accepts the predicate.
func (r Rule) Allows(predicate string) bool {
	if r.AllowedPredicates == nil {
		return true
	}
	return r.AllowedPredicates[normalizePredicate(predicate)]
}

// Indexed by AtomType; every slot must be filled.
var atomRules = [numAtomTypes]Rule{
	Entity: {
		DecayRate:   0.01,
		Description: "Identity facts about a person or thing",
	},
	Affiliation: {
		DecayRate:   0.03,
		Description: "Organizational membership and employment",
	},
	Social: {
		DecayRate:   0.05,
		Description: "Relationships between people",
	},
	Preference: {
		DecayRate:   0.08,
		Contextual:  true,
		Description: "Likes, dislikes and choices, meaningful within a context",
	},
	Belief: {
		DecayRate:   0.10,
		Contextual:  true,
		Description: "Opinions and stances",
	},
	Skill: {
		DecayRate:   0.02,
		Progressive: true,
		Description: "Abilities that advance through ordered stages",
	},
	Event: {
		DecayRate:   0.06,
		Temporal:    true,
		Immutable:   true,
		Description: "Things that happened at a point in time",
	},
	State: {
		DecayRate:   0.50,
		Exclusive:   true,
		Temporal:    true,
		Description: "Transient current conditions; a new state replaces the old",
	},
	Hypothesis: {
		DecayRate:   0.15,
		Description: "Tentative inferences awaiting substantiation",
	},
	Invariant: {
		DecayRate:   0.00,
		Immutable:   true,
		Description: "Facts that never decay",
	},
	Relation: {
		DecayRate:   0.05,
		Description: "Deprecated generic relation, retyped by migration",
	},
}

// Indexed by MemoryType; every slot must be filled. Rates are per day and
// ordered so episodic decays fastest.
var memoryRules = [numMemoryTypes]Rule{
	Episodic: {
		DecayRate:   0.30,
		Temporal:    true,
		Immutable:   true,
		Description: "Events anchored to when they happened",
	},
	Semantic: {
		DecayRate:   0.02,
		Description: "General facts and knowledge",
	},
	BeliefMemory: {
		DecayRate:   0.05,
		Description: "Beliefs revised by evidence",
	},
	Procedural: {
		DecayRate:   0.01,
		Description: "Trigger/action skills weighted by outcomes",
	},
}

// Registry is the lookup table the stores consult. The zero value is not
// usable; build one with New or Default.
type Registry struct {
	atoms    [numAtomTypes]Rule
	memories [numMemoryTypes]Rule
}

// Overrides replaces built-in decay rates by type name.
type Overrides struct {
	AtomRates   map[string]float64
	MemoryRates map[string]float64
}

// Default returns the registry with built-in rules.
func Default() *Registry {
	r, _ := New(Overrides{})
	return r
}

// New returns a registry with the given decay overrides applied.
func New(o Overrides) (*Registry, error) {
	r := &Registry{atoms: atomRules, memories: memoryRules}
	for t := range r.atoms {
		r.atoms[t].AllowedPredicates = allowedFor(AtomType(t))
	}
	for name, rate := range o.AtomRates {
		t, err := ParseAtomType(name)
		if err != nil {
			return nil, err
		}
		if rate < 0 {
			return nil, fmt.Errorf("decay rate for %s must be >= 0", name)
		}
		r.atoms[t].DecayRate = rate
	}
	for name, rate := range o.MemoryRates {
		t, err := ParseMemoryType(name)
		if err != nil {
			return nil, err
		}
		if rate < 0 {
			return nil, fmt.Errorf("decay rate for %s must be >= 0", name)
		}
		r.memories[t].DecayRate = rate
	}
	return r, nil
}

// RuleFor returns the rule for an atom type. It panics on a value outside
// the enumeration, which can only come from a programming error.
func (r *Registry) RuleFor(t AtomType) Rule {
	if !t.Valid() {
		panic(fmt.Sprintf("ontology: no rule for %v", t))
	}
	return r.atoms[t]
}

// MemoryRuleFor returns the rule for a memory type. It panics on a value
// outside the enumeration.
func (r *Registry) MemoryRuleFor(t MemoryType) Rule {
	if !t.Valid() {
		panic(fmt.Sprintf("ontology: no rule for %v", t))
	}
	return r.memories[t]
}

// ExclusiveGroup returns the predicates that compete with predicate for
// the same subject slot, or nil if the predicate is not exclusive.
func (r *Registry) ExclusiveGroup(t AtomType, predicate string) []string {
	p := normalizePredicate(predicate)
	if rel := RelationshipFor(p); rel != nil && rel.ExclusiveGroup != "" {
		return exclusiveGroups[rel.ExclusiveGroup]
	}
	if t.Valid() && r.atoms[t].Exclusive {
		return []string{p}
	}
	return nil
}

// allowedFor derives a type's predicate whitelist from the migration table
// plus a few identity predicates for entities.
func allowedFor(t AtomType) map[string]bool {
	if t == Relation || t == Hypothesis || t == Invariant {
		return nil
	}
	allowed := make(map[string]bool)
	for p, pt := range predicateTypes {
		if pt == t {
			allowed[p] = true
		}
	}
	if t == Entity {
		for _, p := range entityPredicates {
			allowed[p] = true
		}
	}
	return allowed
}

// PredicatesFor lists a type's allowed predicates in sorted order; nil means
// any predicate.
func (r *Registry) PredicatesFor(t AtomType) []string {
	rule := r.RuleFor(t)
	if rule.AllowedPredicates == nil {
		return nil
	}
	out := make([]string, 0, len(rule.AllowedPredicates))
	for p := range rule.AllowedPredicates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Package ontology holds the static type behavior of the memory engine:
// decay rates, exclusivity, progression and predicate relationships. It does
// no I/O and is safe for concurrent reads.
package ontology

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned when a type name from external input does not
// parse.
var ErrUnknownType = errors.New("unknown type")

// AtomType classifies a knowledge atom.
type AtomType int

const (
	Entity AtomType = iota
	Affiliation
	Social
	Preference
	Belief
	Skill
	Event
	State
	Hypothesis
	Invariant
	// Relation is the deprecated catch-all type that legacy atoms carry
	// until the migration pass retypes them.
	Relation

	numAtomTypes
)

var atomTypeNames = [numAtomTypes]string{
	Entity:      "entity",
	Affiliation: "affiliation",
	Social:      "social",
	Preference:  "preference",
	Belief:      "belief",
	Skill:       "skill",
	Event:       "event",
	State:       "state",
	Hypothesis:  "hypothesis",
	Invariant:   "invariant",
	Relation:    "relation",
}

// AtomTypes returns every atom type in declaration order.
func AtomTypes() []AtomType {
	out := make([]AtomType, 0, numAtomTypes)
	for t := AtomType(0); t < numAtomTypes; t++ {
		out = append(out, t)
	}
	return out
}

func (t AtomType) Valid() bool { return t >= 0 && t < numAtomTypes }

func (t AtomType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("AtomType(%d)", int(t))
	}
	return atomTypeNames[t]
}

// ParseAtomType parses a type name, case-insensitively.
func ParseAtomType(s string) (AtomType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range atomTypeNames {
		if name == s {
			return AtomType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: atom type %q", ErrUnknownType, s)
}

func (t AtomType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: atom type %d", ErrUnknownType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *AtomType) UnmarshalText(b []byte) error {
	v, err := ParseAtomType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MemoryType classifies a typed memory.
type MemoryType int

const (
	Episodic MemoryType = iota
	Semantic
	BeliefMemory
	Procedural

	numMemoryTypes
)

var memoryTypeNames = [numMemoryTypes]string{
	Episodic:     "episodic",
	Semantic:     "semantic",
	BeliefMemory: "belief",
	Procedural:   "procedural",
}

// MemoryTypes returns every memory type in declaration order.
func MemoryTypes() []MemoryType {
	out := make([]MemoryType, 0, numMemoryTypes)
	for t := MemoryType(0); t < numMemoryTypes; t++ {
		out = append(out, t)
	}
	return out
}

func (t MemoryType) Valid() bool { return t >= 0 && t < numMemoryTypes }

func (t MemoryType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("MemoryType(%d)", int(t))
	}
	return memoryTypeNames[t]
}

// ParseMemoryType parses a memory type name, case-insensitively.
func ParseMemoryType(s string) (MemoryType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range memoryTypeNames {
		if name == s {
			return MemoryType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: memory type %q", ErrUnknownType, s)
}

func (t MemoryType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: memory type %d", ErrUnknownType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *MemoryType) UnmarshalText(b []byte) error {
	v, err := ParseMemoryType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Graph is the classification of an atom: whether it is currently believed,
// tentative, or retired by a newer fact.
type Graph string

const (
	Substantiated Graph = "substantiated"
	HypothesisG   Graph = "hypothesis"
	Superseded    Graph = "superseded"
)

// ParseGraph parses a graph classification name.
func ParseGraph(s string) (Graph, error) {
	switch g := Graph(strings.ToLower(strings.TrimSpace(s))); g {
	case Substantiated, HypothesisG, Superseded:
		return g, nil
	}
	return "", fmt.Errorf("%w: graph %q", ErrUnknownType, s)
}

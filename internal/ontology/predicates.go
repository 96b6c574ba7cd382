package ontology

import "strings"

// Relationship describes how a predicate interacts with others.
type Relationship struct {
	Predicate string
	// Opposite is the predicate that contradicts this one for the same
	// subject and object.
	Opposite string
	// ExclusiveGroup names the set of predicates that compete for one
	// substantiated slot per subject.
	ExclusiveGroup string
	// Progression is the ordered sequence of stages when the predicate is
	// part of one, and Stage is its position in it.
	Progression []string
	Stage       int
}

// predicateTypes maps a legacy relation predicate to its specific type.
var predicateTypes = map[string]AtomType{
	// affiliation
	"works_at": Affiliation, "works_for": Affiliation, "employed_by": Affiliation,
	"studies_at": Affiliation, "member_of": Affiliation, "part_of": Affiliation,
	"works_in": Affiliation,

	// social
	"knows": Social, "friends_with": Social, "colleagues_with": Social,
	"reports_to": Social, "manages": Social, "mentors": Social, "works_with": Social,

	// preference
	"likes": Preference, "dislikes": Preference, "loves": Preference,
	"hates": Preference, "prefers": Preference, "avoids": Preference,
	"enjoys": Preference, "neutral": Preference, "liked_past": Preference,
	"prefers_over": Preference,

	// belief
	"thinks": Belief, "believes": Belief, "assumes": Belief, "expects": Belief,
	"trusts": Belief, "distrusts": Belief, "doubts": Belief, "supports": Belief,
	"opposes": Belief, "agrees": Belief, "disagrees": Belief, "accepts": Belief,
	"rejects": Belief,

	// skill
	"can_do": Skill, "proficient_in": Skill, "expert_at": Skill,
	"learning": Skill, "started_learning": Skill, "mastered": Skill,
	"uses": Skill, "does": Skill, "drives": Skill, "will_learn": Skill,

	// event
	"completed": Event, "started": Event, "finished": Event, "failed": Event,
	"attempted": Event, "decided": Event, "happened": Event, "studied": Event,
	"worked_at_year": Event, "works_at_year": Event,

	// state
	"currently": State, "temporarily": State, "status_is": State,
	"mood_is": State, "feeling": State, "current_mood": State,
	"status": State, "condition": State,
}

var entityPredicates = []string{"is", "named", "lives_in", "located_in", "has", "owns", "born_in"}

var exclusiveGroups = map[string][]string{
	"employer":  {"works_at", "works_for", "employed_by"},
	"identity":  {"is"},
	"residence": {"lives_in", "located_in"},
}

var opposites = map[string]string{
	"likes":    "dislikes",
	"loves":    "hates",
	"trusts":   "distrusts",
	"supports": "opposes",
	"agrees":   "disagrees",
	"accepts":  "rejects",
}

// SkillProgression is the ordered sequence of skill stages.
var SkillProgression = []string{"learning", "proficient_in", "expert_at", "mastered"}

var relationships = buildRelationships()

func buildRelationships() map[string]*Relationship {
	rels := make(map[string]*Relationship)
	get := func(p string) *Relationship {
		if r, ok := rels[p]; ok {
			return r
		}
		r := &Relationship{Predicate: p, Stage: -1}
		rels[p] = r
		return r
	}
	for a, b := range opposites {
		get(a).Opposite = b
		get(b).Opposite = a
	}
	for group, preds := range exclusiveGroups {
		for _, p := range preds {
			get(p).ExclusiveGroup = group
		}
	}
	for i, p := range SkillProgression {
		r := get(p)
		r.Progression = SkillProgression
		r.Stage = i
	}
	return rels
}

func normalizePredicate(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// RelationshipFor returns the predicate's relationships, or nil when it has
// none. Most predicates have none.
func RelationshipFor(predicate string) *Relationship {
	r, ok := relationships[normalizePredicate(predicate)]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// TypeForPredicate maps a legacy predicate to its specific atom type.
func TypeForPredicate(predicate string) (AtomType, bool) {
	t, ok := predicateTypes[normalizePredicate(predicate)]
	return t, ok
}

// NormalizePredicate lowercases and trims a predicate.
func NormalizePredicate(p string) string { return normalizePredicate(p) }

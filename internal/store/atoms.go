package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/google/uuid"
)

// Atom is a subject-predicate-object fact.
type Atom struct {
	ID           string            `json:"id"`
	Key          string            `json:"key,omitempty"`
	Type         ontology.AtomType `json:"atom_type"`
	Subject      string            `json:"subject"`
	Predicate    string            `json:"predicate"`
	Object       string            `json:"object"`
	Context      string            `json:"context,omitempty"`
	Provenance   string            `json:"provenance"`
	Confidence   float64           `json:"confidence"`
	Strength     float64           `json:"strength"`
	Graph        ontology.Graph    `json:"graph"`
	Slot         string            `json:"slot,omitempty"`
	Supersedes   string            `json:"supersedes,omitempty"`
	SupersededBy string            `json:"superseded_by,omitempty"`
	CreatedAt    int64             `json:"created_at"`
	LastAccessed int64             `json:"last_accessed"`
}

// SupersedePlan tells InsertAtom which existing substantiated atoms the new
// one retires. It is computed from the ontology by the caller.
type SupersedePlan struct {
	// Slot names the exclusivity slot; Group lists its predicates.
	Slot  string
	Group []string
	// Opposite retires the contradicting predicate for the same object.
	Opposite string
	// Progression and Stage retire lower stages for the same object.
	Progression []string
	Stage       int
}

// InsertResult reports what an insert did.
type InsertResult struct {
	Atom       *Atom    `json:"atom"`
	Superseded []string `json:"superseded"`
	// Existing is true when the natural key matched and nothing was written.
	Existing bool `json:"existing"`
	// Regressed is true when a lower progression stage arrived after a
	// higher one and the atom was filed as a hypothesis.
	Regressed bool `json:"regressed"`
}

const atomColumns = `id, natural_key, atom_type, subject, predicate, object, context, provenance,
	confidence, strength, graph, slot, supersedes, superseded_by, created_at, last_accessed`

// InsertAtom persists a new atom. When the atom is substantiated, prior
// holders named by plan are reclassified to superseded in the same
// transaction. A matching natural key returns the existing atom unchanged.
func (db *DB) InsertAtom(ctx context.Context, a *Atom, plan SupersedePlan) (*InsertResult, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := nowMillis()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	if a.LastAccessed == 0 {
		a.LastAccessed = a.CreatedAt
	}
	if a.Graph == "" {
		a.Graph = ontology.Substantiated
	}
	if a.Provenance == "" {
		a.Provenance = "user_stated"
	}
	a.Confidence = ontology.Clamp01(a.Confidence)
	a.Strength = ontology.Clamp01(a.Strength)
	a.Predicate = ontology.NormalizePredicate(a.Predicate)

	var result *InsertResult
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = insertAtomTx(ctx, tx, *a, plan)
		if err != nil && isConstraint(err) && plan.Slot != "" {
			// A concurrent writer took the slot between our retire and
			// insert; the slot holder is simply retired again.
			result, err = insertAtomTx(ctx, tx, *a, plan)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert atom: %w", err)
	}
	*a = *result.Atom
	return result, nil
}

func insertAtomTx(ctx context.Context, tx *sql.Tx, a Atom, plan SupersedePlan) (*InsertResult, error) {
	res := &InsertResult{}

	if a.Key != "" {
		existing, err := getAtom(ctx, tx, "natural_key = ?", a.Key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			res.Atom = existing
			res.Existing = true
			return res, nil
		}
	}

	if a.Graph == ontology.Substantiated && len(plan.Progression) > 0 {
		higher, err := hasHigherStage(ctx, tx, a, plan)
		if err != nil {
			return nil, err
		}
		if higher {
			a.Graph = ontology.HypothesisG
			res.Regressed = true
		}
	}

	if a.Graph == ontology.Substantiated {
		a.Slot = plan.Slot
		retired, err := retireHolders(ctx, tx, a, plan)
		if err != nil {
			return nil, err
		}
		res.Superseded = retired
		if len(retired) > 0 {
			a.Supersedes = retired[0]
		}
	} else {
		// Only substantiated atoms occupy a slot.
		a.Slot = ""
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO atoms (`+atomColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, nullString(a.Key), a.Type.String(), a.Subject, a.Predicate, a.Object, a.Context, a.Provenance,
		a.Confidence, a.Strength, string(a.Graph), nullString(a.Slot), nullString(a.Supersedes), nil,
		a.CreatedAt, a.LastAccessed)
	if err != nil {
		return nil, err
	}

	for _, id := range res.Superseded {
		if _, err := tx.ExecContext(ctx,
			"UPDATE atoms SET superseded_by = ? WHERE id = ?", a.ID, id); err != nil {
			return nil, err
		}
	}

	res.Atom = &a
	return res, nil
}

// retireHolders reclassifies the substantiated atoms the plan displaces and
// returns their ids, most recent first.
func retireHolders(ctx context.Context, tx *sql.Tx, a Atom, plan SupersedePlan) ([]string, error) {
	var conds []string
	var args []any

	if len(plan.Group) > 0 {
		conds = append(conds, "(predicate IN ("+placeholders(len(plan.Group))+") OR slot = ?)")
		for _, p := range plan.Group {
			args = append(args, p)
		}
		args = append(args, plan.Slot)
	}
	if plan.Opposite != "" {
		conds = append(conds, "(predicate = ? AND lower(object) = lower(?))")
		args = append(args, plan.Opposite, a.Object)
	}
	if len(plan.Progression) > 0 && plan.Stage > 0 {
		lower := plan.Progression[:plan.Stage]
		conds = append(conds, "(predicate IN ("+placeholders(len(lower))+") AND lower(object) = lower(?))")
		for _, p := range lower {
			args = append(args, p)
		}
		args = append(args, a.Object)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `SELECT id FROM atoms WHERE subject = ? AND graph = 'substantiated' AND (` +
		strings.Join(conds, " OR ") + `) ORDER BY created_at DESC, id`
	rows, err := tx.QueryContext(ctx, query, append([]any{a.Subject}, args...)...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"UPDATE atoms SET graph = 'superseded', slot = NULL WHERE id = ?", id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func hasHigherStage(ctx context.Context, tx *sql.Tx, a Atom, plan SupersedePlan) (bool, error) {
	if plan.Stage >= len(plan.Progression)-1 {
		return false, nil
	}
	higher := plan.Progression[plan.Stage+1:]
	args := []any{a.Subject, a.Object}
	for _, p := range higher {
		args = append(args, p)
	}
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM atoms
		WHERE subject = ? AND lower(object) = lower(?) AND graph = 'substantiated'
		  AND predicate IN (`+placeholders(len(higher))+`)
	`, args...).Scan(&n)
	return n > 0, err
}

// GetAtom returns an atom by id, or nil if not found.
func (db *DB) GetAtom(ctx context.Context, id string) (*Atom, error) {
	a, err := getAtom(ctx, db.DB, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get atom: %w", err)
	}
	return a, nil
}

func getAtom(ctx context.Context, q queryer, where string, args ...any) (*Atom, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+atomColumns+" FROM atoms WHERE "+where+" LIMIT 1", args...)
	if err != nil {
		return nil, err
	}
	atoms, err := scanAtoms(rows)
	if err != nil {
		return nil, err
	}
	if len(atoms) == 0 {
		return nil, nil
	}
	return &atoms[0], nil
}

// AtomsBySubject returns a subject's atoms, optionally limited to one graph.
func (db *DB) AtomsBySubject(ctx context.Context, subject string, graph ontology.Graph) ([]Atom, error) {
	if graph == "" {
		return db.listAtoms(ctx, "subject = ?", subject)
	}
	return db.listAtoms(ctx, "subject = ? AND graph = ?", subject, string(graph))
}

// AtomsByPredicate returns a subject's atoms whose predicate is in preds.
func (db *DB) AtomsByPredicate(ctx context.Context, subject string, preds []string) ([]Atom, error) {
	if len(preds) == 0 {
		return nil, nil
	}
	args := []any{subject}
	for _, p := range preds {
		args = append(args, ontology.NormalizePredicate(p))
	}
	return db.listAtoms(ctx, "subject = ? AND predicate IN ("+placeholders(len(preds))+")", args...)
}

// AtomsByType returns a subject's atoms of one type.
func (db *DB) AtomsByType(ctx context.Context, subject string, t ontology.AtomType) ([]Atom, error) {
	return db.listAtoms(ctx, "subject = ? AND atom_type = ?", subject, t.String())
}

// AtomsByObjectContains returns a subject's atoms whose object contains
// substr, case-insensitively.
func (db *DB) AtomsByObjectContains(ctx context.Context, subject, substr string) ([]Atom, error) {
	return db.listAtoms(ctx, "subject = ? AND instr(lower(object), lower(?)) > 0", subject, substr)
}

// AllAtoms returns every atom, including superseded ones.
func (db *DB) AllAtoms(ctx context.Context) ([]Atom, error) {
	return db.listAtoms(ctx, "1 = 1")
}

func (db *DB) listAtoms(ctx context.Context, where string, args ...any) ([]Atom, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+atomColumns+" FROM atoms WHERE "+where+" ORDER BY created_at DESC, id", args...)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}
	return scanAtoms(rows)
}

// TouchAtom sets an atom's strength and resets its access clock.
// Returns nil if the atom does not exist.
func (db *DB) TouchAtom(ctx context.Context, id string, strength func(old float64) float64) (*Atom, error) {
	var out *Atom
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		a, err := getAtom(ctx, tx, "id = ?", id)
		if err != nil || a == nil {
			out = nil
			return err
		}
		a.Strength = ontology.Clamp01(strength(a.Strength))
		a.LastAccessed = nowMillis()
		if _, err := tx.ExecContext(ctx,
			"UPDATE atoms SET strength = ?, last_accessed = ? WHERE id = ?",
			a.Strength, a.LastAccessed, a.ID); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch atom: %w", err)
	}
	return out, nil
}

// DeleteAtom removes an atom and its embedding. Reports whether a row was
// deleted.
func (db *DB) DeleteAtom(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM atoms WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		if _, err := tx.ExecContext(ctx,
			"UPDATE atoms SET superseded_by = NULL WHERE superseded_by = ?", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"DELETE FROM embeddings WHERE kind = ? AND record_id = ?", KindAtom, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete atom: %w", err)
	}
	return deleted, nil
}

// AtomCounts holds atom totals by type and graph.
type AtomCounts struct {
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	ByGraph map[string]int `json:"by_graph"`
}

// CountAtoms returns atom totals by type and graph.
func (db *DB) CountAtoms(ctx context.Context) (*AtomCounts, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT atom_type, graph, COUNT(*) FROM atoms GROUP BY atom_type, graph")
	if err != nil {
		return nil, fmt.Errorf("count atoms: %w", err)
	}
	defer rows.Close()

	c := &AtomCounts{ByType: map[string]int{}, ByGraph: map[string]int{}}
	for rows.Next() {
		var typ, graph string
		var n int
		if err := rows.Scan(&typ, &graph, &n); err != nil {
			return nil, fmt.Errorf("scan atom count: %w", err)
		}
		c.Total += n
		c.ByType[typ] += n
		c.ByGraph[graph] += n
	}
	return c, rows.Err()
}

func scanAtoms(rows *sql.Rows) ([]Atom, error) {
	defer rows.Close()
	var atoms []Atom
	for rows.Next() {
		var a Atom
		var typ, graph string
		var key, slot, supersedes, supersededBy sql.NullString
		if err := rows.Scan(&a.ID, &key, &typ, &a.Subject, &a.Predicate, &a.Object, &a.Context,
			&a.Provenance, &a.Confidence, &a.Strength, &graph, &slot, &supersedes, &supersededBy,
			&a.CreatedAt, &a.LastAccessed); err != nil {
			return nil, fmt.Errorf("scan atom: %w", err)
		}
		t, err := ontology.ParseAtomType(typ)
		if err != nil {
			return nil, fmt.Errorf("scan atom %s: %w", a.ID, err)
		}
		a.Type = t
		a.Graph = ontology.Graph(graph)
		a.Key = key.String
		a.Slot = slot.String
		a.Supersedes = supersedes.String
		a.SupersededBy = supersededBy.String
		atoms = append(atoms, a)
	}
	return atoms, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

// MigrateAtom returns a retyped copy of a legacy relation atom. Subject,
// predicate and object are unchanged. ok is false when the atom is already
// typed or its predicate has no mapping.
func MigrateAtom(a store.Atom) (out store.Atom, ok bool) {
	if a.Type != ontology.Relation {
		return a, false
	}
	t, found := ontology.TypeForPredicate(a.Predicate)
	if !found {
		return a, false
	}
	a.Type = t
	return a, true
}

// MigrationReport summarizes a migration pass.
type MigrationReport struct {
	// Migrated counts retyped atoms by their new type.
	Migrated map[string]int `json:"migrated"`
	Total    int            `json:"total"`
	// Skipped atoms have no mapping and keep the relation type.
	Skipped   int            `json:"skipped"`
	Unmapped  map[string]int `json:"unmapped"`
	Displaced int            `json:"displaced"`
	Failures  []RowFailure   `json:"failures"`
	Batches   int            `json:"batches"`
	Duration  int64          `json:"duration_ms"`
}

// RowFailure is one atom that could not be retyped. It does not stop the
// rest of its batch.
type RowFailure struct {
	AtomID    string `json:"atom_id"`
	Predicate string `json:"predicate"`
	Error     string `json:"error"`
}

// MigrateAtomsBatch retypes every legacy relation atom that has a mapping,
// batchSize atoms per transaction. Atoms that gain an exclusive slot settle
// it the way an insert would: the more recent fact stays substantiated.
// Rerunning it after a complete pass changes nothing.
func (e *Engine) MigrateAtomsBatch(ctx context.Context, batchSize int) (*MigrationReport, error) {
	if batchSize <= 0 {
		batchSize = e.migrationBatch
	}

	e.migrateMu.Lock()
	defer e.migrateMu.Unlock()

	start := time.Now()
	report := &MigrationReport{
		Migrated: make(map[string]int),
		Unmapped: make(map[string]int),
		Failures: []RowFailure{},
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		atoms, err := e.DB.LegacyAtoms(ctx, after, batchSize)
		if err != nil {
			return report, err
		}
		if len(atoms) == 0 {
			break
		}
		after = atoms[len(atoms)-1].ID

		var items []store.Retype
		preds := make(map[string]string, len(atoms))
		for _, a := range atoms {
			migrated, ok := MigrateAtom(a)
			if !ok {
				report.Skipped++
				report.Unmapped[a.Predicate]++
				continue
			}
			slot, _ := e.slotFor(migrated.Type, migrated.Predicate)
			items = append(items, store.Retype{ID: a.ID, NewType: migrated.Type, Slot: slot})
			preds[a.ID] = a.Predicate
		}

		outcomes, err := e.DB.RetypeAtoms(ctx, items)
		if err != nil {
			return report, fmt.Errorf("migration batch %d: %w", report.Batches, err)
		}
		for i, o := range outcomes {
			switch {
			case o.Err != nil:
				report.Failures = append(report.Failures, RowFailure{
					AtomID: o.ID, Predicate: preds[o.ID], Error: o.Err.Error(),
				})
				e.logger.Warn("atom migration failed",
					zap.String("atom_id", o.ID), zap.String("predicate", preds[o.ID]), zap.Error(o.Err))
			case o.Changed:
				report.Migrated[items[i].NewType.String()]++
				report.Total++
				if o.Superseded != "" {
					report.Displaced++
				}
			}
		}
		report.Batches++
	}

	report.Duration = time.Since(start).Milliseconds()
	e.logger.Info("migration complete",
		zap.Int("migrated", report.Total),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)),
		zap.Int("batches", report.Batches),
	)
	return report, nil
}

// MigrationPreview describes what a migration pass would do without
// writing anything.
type MigrationPreview struct {
	Total         int            `json:"total"`
	ByCurrentType map[string]int `json:"by_current_type"`
	ByNewType     map[string]int `json:"by_new_type"`
	// Mappings counts planned retypes, keyed "relation -> <type>".
	Mappings map[string]int `json:"mappings"`
	Unmapped []string       `json:"unmapped"`
}

// PreviewMigration computes a MigrationPreview over every atom.
func (e *Engine) PreviewMigration(ctx context.Context) (*MigrationPreview, error) {
	atoms, err := e.DB.AllAtoms(ctx)
	if err != nil {
		return nil, err
	}
	p := &MigrationPreview{
		Total:         len(atoms),
		ByCurrentType: make(map[string]int),
		ByNewType:     make(map[string]int),
		Mappings:      make(map[string]int),
		Unmapped:      []string{},
	}
	unmapped := make(map[string]bool)
	for _, a := range atoms {
		p.ByCurrentType[a.Type.String()]++
		migrated, ok := MigrateAtom(a)
		p.ByNewType[migrated.Type.String()]++
		if ok {
			p.Mappings[a.Type.String()+" -> "+migrated.Type.String()]++
		} else if a.Type == ontology.Relation && !unmapped[a.Predicate] {
			unmapped[a.Predicate] = true
			p.Unmapped = append(p.Unmapped, a.Predicate)
		}
	}
	sort.Strings(p.Unmapped)
	return p, nil
}

// MigrationValidation reports whether migration is complete.
type MigrationValidation struct {
	Valid bool `json:"valid"`
	// Pending relation atoms have a mapping but were not yet retyped.
	Pending int `json:"pending"`
	// Unmapped relation atoms stay legacy and are not an error.
	Unmapped int      `json:"unmapped"`
	Errors   []string `json:"errors"`
}

// ValidateMigration checks that no mapped legacy atoms remain and that
// every typed atom's predicate is allowed for its type.
func (e *Engine) ValidateMigration(ctx context.Context) (*MigrationValidation, error) {
	atoms, err := e.DB.AllAtoms(ctx)
	if err != nil {
		return nil, err
	}
	v := &MigrationValidation{Errors: []string{}}
	for _, a := range atoms {
		if a.Type == ontology.Relation {
			if _, ok := MigrateAtom(a); ok {
				v.Pending++
				v.Errors = append(v.Errors, fmt.Sprintf("atom %s (%s) should be migrated", a.ID, a.Predicate))
			} else {
				v.Unmapped++
			}
			continue
		}
		if !e.Registry.RuleFor(a.Type).Allows(a.Predicate) {
			v.Errors = append(v.Errors,
				fmt.Sprintf("atom %s: predicate %q not allowed for %s", a.ID, a.Predicate, a.Type))
		}
	}
	v.Valid = len(v.Errors) == 0
	return v, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
)

// Retype changes one legacy atom's type. Slot is the exclusivity slot the
// atom occupies under its new type, empty if none.
type Retype struct {
	ID      string
	NewType ontology.AtomType
	Slot    string
}

// RetypeOutcome reports what happened to one row of a retype batch.
type RetypeOutcome struct {
	ID  string
	Err error
	// Changed is false when the row was no longer a legacy atom.
	Changed bool
	// Superseded is the id of an atom this row displaced, or the row's own
	// id when a newer holder already owned the slot.
	Superseded string
}

// LegacyAtoms returns up to limit atoms still carrying the legacy relation
// type whose id sorts after afterID.
func (db *DB) LegacyAtoms(ctx context.Context, afterID string, limit int) ([]Atom, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+atomColumns+` FROM atoms
		WHERE atom_type = 'relation' AND id > ?
		ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("legacy atoms: %w", err)
	}
	return scanAtoms(rows)
}

// CountLegacyAtoms returns how many legacy relation atoms remain.
func (db *DB) CountLegacyAtoms(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM atoms WHERE atom_type = 'relation'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count legacy atoms: %w", err)
	}
	return n, nil
}

// RetypeAtoms applies a batch of retypes in one transaction. Each row runs
// under its own savepoint so a failing row is rolled back and reported
// without aborting the others.
func (db *DB) RetypeAtoms(ctx context.Context, items []Retype) ([]RetypeOutcome, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var outcomes []RetypeOutcome
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		outcomes = make([]RetypeOutcome, 0, len(items))
		for _, it := range items {
			if _, err := tx.ExecContext(ctx, "SAVEPOINT retype_row"); err != nil {
				return err
			}
			out, rowErr := retypeRow(ctx, tx, it)
			if rowErr != nil {
				if isBusy(rowErr) {
					return rowErr
				}
				if _, err := tx.ExecContext(ctx, "ROLLBACK TO retype_row"); err != nil {
					return err
				}
				out = RetypeOutcome{ID: it.ID, Err: rowErr}
			}
			if _, err := tx.ExecContext(ctx, "RELEASE retype_row"); err != nil {
				return err
			}
			outcomes = append(outcomes, out)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retype atoms: %w", err)
	}
	return outcomes, nil
}

func retypeRow(ctx context.Context, tx *sql.Tx, it Retype) (RetypeOutcome, error) {
	out := RetypeOutcome{ID: it.ID}

	a, err := getAtom(ctx, tx, "id = ? AND atom_type = 'relation'", it.ID)
	if err != nil {
		return out, err
	}
	if a == nil {
		return out, nil
	}

	slot := it.Slot
	graph := a.Graph
	supersededBy := a.SupersededBy
	if graph != ontology.Substantiated {
		slot = ""
	}

	if slot != "" && slot != a.Slot {
		var holderID string
		var holderCreated int64
		err := tx.QueryRowContext(ctx, `
			SELECT id, created_at FROM atoms
			WHERE subject = ? AND slot = ? AND graph = 'substantiated' AND id != ?
		`, a.Subject, slot, a.ID).Scan(&holderID, &holderCreated)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return out, err
		case holderCreated > a.CreatedAt:
			// The newer fact keeps the slot.
			graph = ontology.Superseded
			supersededBy = holderID
			slot = ""
			out.Superseded = a.ID
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE atoms SET graph = 'superseded', slot = NULL, superseded_by = ?
				WHERE id = ?
			`, a.ID, holderID); err != nil {
				return out, err
			}
			out.Superseded = holderID
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE atoms SET atom_type = ?, slot = ?, graph = ?, superseded_by = ?
		WHERE id = ?
	`, it.NewType.String(), nullString(slot), string(graph), nullString(supersededBy), a.ID); err != nil {
		return out, err
	}
	out.Changed = true
	return out, nil
}

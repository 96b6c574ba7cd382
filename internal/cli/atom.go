package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Alby2007/PLTM-sub001/internal/engine"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

var (
	atomType     string
	atomGraph    string
	atomContains string
	atomPreds    []string
	atomAll      bool
)

var atomCmd = &cobra.Command{
	Use:   "atom",
	Short: "Add, list and maintain knowledge atoms",
}

var atomAddCmd = &cobra.Command{
	Use:   "add <subject> <predicate> <object>",
	Short: "Add an atom, superseding whatever it displaces",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			t, err := atomTypeFor(args[1])
			if err != nil {
				return err
			}
			a := &store.Atom{Type: t, Subject: args[0], Predicate: args[1], Object: args[2], Provenance: "cli"}
			if atomGraph != "" {
				if a.Graph, err = ontology.ParseGraph(atomGraph); err != nil {
					return err
				}
			}
			res, err := e.AddAtom(ctx, a)
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{
				"atom":       res.Atom,
				"superseded": res.Superseded,
				"existing":   res.Existing,
				"regressed":  res.Regressed,
			})
		})
	},
}

// atomTypeFor uses --type, or the predicate's mapped type when unset.
func atomTypeFor(predicate string) (ontology.AtomType, error) {
	if atomType != "" {
		return ontology.ParseAtomType(atomType)
	}
	if t, ok := ontology.TypeForPredicate(predicate); ok {
		return t, nil
	}
	return ontology.Relation, nil
}

var atomListCmd = &cobra.Command{
	Use:   "list [subject]",
	Short: "List atoms about a subject, or every atom with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			q := engine.AtomQuery{Predicates: atomPreds, Contains: atomContains, All: atomAll}
			if len(args) == 1 {
				q.Subject = args[0]
			}
			if atomType != "" {
				t, err := ontology.ParseAtomType(atomType)
				if err != nil {
					return err
				}
				q.Type = &t
			}
			if atomGraph != "" {
				g, err := ontology.ParseGraph(atomGraph)
				if err != nil {
					return err
				}
				q.Graph = g
			}
			atoms, err := e.QueryAtoms(ctx, q)
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"atoms": atoms, "count": len(atoms)})
		})
	},
}

var atomShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an atom and its stability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			a, err := e.GetAtom(ctx, args[0])
			if err != nil {
				return err
			}
			st, err := e.AtomStability(ctx, args[0])
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"atom": a, "stability": st})
		})
	},
}

var atomReconsolidateCmd = &cobra.Command{
	Use:   "reconsolidate <id>",
	Short: "Apply the retrieval boost to an atom",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			a, err := e.Reconsolidate(ctx, args[0])
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"atom": a})
		})
	},
}

var atomDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an atom and its embedding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			if err := e.DeleteAtom(ctx, args[0]); err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"deleted": args[0]})
		})
	},
}

func init() {
	atomCmd.AddCommand(atomAddCmd, atomListCmd, atomShowCmd, atomReconsolidateCmd, atomDeleteCmd)

	atomCmd.PersistentFlags().StringVarP(&atomType, "type", "t", "", "atom type (default: mapped from the predicate)")
	atomCmd.PersistentFlags().StringVarP(&atomGraph, "graph", "g", "", "graph (substantiated, hypothesis, superseded)")

	atomListCmd.Flags().StringSliceVarP(&atomPreds, "predicate", "p", nil, "predicate (repeatable)")
	atomListCmd.Flags().StringVar(&atomContains, "contains", "", "object substring, case-insensitive")
	atomListCmd.Flags().BoolVar(&atomAll, "all", false, "list every atom")
}

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Alby2007/PLTM-sub001/internal/engine"
)

var (
	batchSize      int
	migratePreview bool
	migrateCheck   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Retype legacy relation atoms",
	Long:  "Retype legacy relation atoms by predicate. --preview shows the plan without writing; --validate reports what remains.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			switch {
			case migratePreview:
				p, err := e.PreviewMigration(ctx)
				if err != nil {
					return err
				}
				return printOK(cmd, map[string]any{"preview": p})
			case migrateCheck:
				v, err := e.ValidateMigration(ctx)
				if err != nil {
					return err
				}
				return printOK(cmd, map[string]any{"validation": v})
			}
			report, err := e.MigrateAtomsBatch(ctx, batchSize)
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"report": report})
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed memories and atoms whose content or model changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, true, func(ctx context.Context, e *engine.Engine) error {
			report, err := e.Backfill(ctx, batchSize)
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"report": report})
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{migrateCmd, backfillCmd} {
		c.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (default from config)")
	}
	migrateCmd.Flags().BoolVar(&migratePreview, "preview", false, "show the migration plan without writing")
	migrateCmd.Flags().BoolVar(&migrateCheck, "validate", false, "report remaining legacy atoms and type errors")
	migrateCmd.MarkFlagsMutuallyExclusive("preview", "validate")
}

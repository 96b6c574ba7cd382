package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/config"
	"github.com/Alby2007/PLTM-sub001/internal/engine"
	"github.com/Alby2007/PLTM-sub001/internal/jury"
	"github.com/Alby2007/PLTM-sub001/internal/llm"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

var (
	configPath string
	dbOverride string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "pltm",
	Short:        "Persistent long-term memory for AI assistants",
	Long:         "pltm stores typed memories and knowledge atoms, ages them, resolves contradictions, and retrieves them by filter, full text, or similarity.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbOverride != "" {
			cfg.Database.Path = dbOverride
		}
		logger, err = newLogger(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $PLTM_CONFIG or ~/.pltm/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "database path (overrides config and PLTM_DB)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(atomCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(backfillCmd)
}

// openDB opens the configured database, creating its directory on first use.
func openDB() (*store.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path, store.Options{
		BusyRetries: cfg.Database.BusyRetries,
		BusyBackoff: time.Duration(cfg.Database.BusyBackoffMS) * time.Millisecond,
		LockWait:    time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// buildEngine wires the engine over db from cfg. withIndex picks an
// embedder; commands that never touch the index skip the Ollama reachability check.
func buildEngine(ctx context.Context, db *store.DB, withIndex bool) (*engine.Engine, error) {
	reg, err := ontology.New(ontology.Overrides{
		AtomRates:   cfg.Decay.AtomRates,
		MemoryRates: cfg.Decay.MemoryRates,
	})
	if err != nil {
		return nil, fmt.Errorf("decay overrides: %w", err)
	}

	var judge llm.Client
	if cfg.Jury.EnableMetaJudge {
		judge, err = llm.NewClient(cfg.LLM)
		if err != nil {
			logger.Warn("meta-judge disabled", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
		}
	}
	j := jury.New(cfg.Jury, judge, db, logger.Named("jury"))

	var emb engine.Embedder
	if withIndex {
		emb, err = engine.NewEmbedder(ctx, cfg, db, logger)
		if err != nil {
			return nil, err
		}
	}

	return engine.New(db, engine.Options{
		Registry:  reg,
		Jury:      j,
		Embedder:  emb,
		Logger:    logger.Named("engine"),
		Index:     cfg.Index,
		Migration: cfg.Migration,
	})
}

// withEngine opens the database, builds an engine and runs fn with it.
func withEngine(cmd *cobra.Command, withIndex bool, fn func(ctx context.Context, e *engine.Engine) error) error {
	db, err := openDB()
	if err != nil {
		return fail(cmd, err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := buildEngine(ctx, db, withIndex)
	if err != nil {
		return fail(cmd, err)
	}
	defer e.Close()

	if err := fn(ctx, e); err != nil {
		return fail(cmd, err)
	}
	return nil
}

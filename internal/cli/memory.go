package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Alby2007/PLTM-sub001/internal/engine"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

var (
	userID      string
	rememberAs  string
	recallType  string
	tags        []string
	confidence  float64
	trigger     string
	action      string
	minStrength float64
	limit       int
	semanticFlg bool
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content]",
	Short: "Store a typed memory through the jury",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			t, err := ontology.ParseMemoryType(rememberAs)
			if err != nil {
				return err
			}
			m := &store.Memory{
				UserID:     userID,
				Type:       t,
				Content:    strings.Join(args, " "),
				Confidence: confidence,
				Trigger:    trigger,
				Action:     action,
				Tags:       tags,
				Source:     "cli",
			}
			res, err := e.StoreMemory(ctx, m, engine.StoreOptions{})
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"id": res.ID, "decision": res.Decision})
		})
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall [id]",
	Short: "Show one memory, or list a user's memories by filter",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			if len(args) == 1 {
				m, err := e.GetMemory(ctx, args[0])
				if err != nil {
					return err
				}
				return printOK(cmd, map[string]any{"memory": m})
			}

			q := engine.MemoryQuery{UserID: userID, Tags: tags, MinStrength: minStrength}
			if recallType != "" {
				t, err := ontology.ParseMemoryType(recallType)
				if err != nil {
					return err
				}
				q.Type = &t
			}
			mems, err := e.QueryMemories(ctx, q)
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"memories": mems, "count": len(mems)})
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search a user's memories by full text, or by similarity with --semantic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withEngine(cmd, semanticFlg, func(ctx context.Context, e *engine.Engine) error {
			if semanticFlg {
				hits, err := e.SemanticSearch(ctx, userID, query, limit)
				if err != nil {
					return err
				}
				return printOK(cmd, map[string]any{"hits": hits, "count": len(hits)})
			}
			mems, err := e.SearchMemories(ctx, userID, query, limit)
			if err != nil {
				return err
			}
			return printOK(cmd, map[string]any{"memories": mems, "count": len(mems)})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory counts for a user and atom counts overall",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			fields := map[string]any{}
			if userID != "" {
				ms, err := e.MemoryStats(ctx, userID)
				if err != nil {
					return err
				}
				fields["memories"] = ms
			}
			as, err := e.AtomStats(ctx)
			if err != nil {
				return fmt.Errorf("atom stats: %w", err)
			}
			fields["atoms"] = as
			return printOK(cmd, fields)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{rememberCmd, recallCmd, searchCmd, statsCmd} {
		c.Flags().StringVarP(&userID, "user", "u", "", "user id")
	}

	rememberCmd.Flags().StringVarP(&rememberAs, "type", "t", "semantic", "memory type (episodic, semantic, belief, procedural)")
	rememberCmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	rememberCmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence in [0,1] (default 0.8)")
	rememberCmd.Flags().StringVar(&trigger, "trigger", "", "procedural trigger")
	rememberCmd.Flags().StringVar(&action, "action", "", "procedural action")

	recallCmd.Flags().StringVarP(&recallType, "type", "t", "", "filter by memory type")
	recallCmd.Flags().StringSliceVar(&tags, "tag", nil, "require tag (repeatable)")
	recallCmd.Flags().Float64Var(&minStrength, "min-strength", 0, "minimum current strength")

	searchCmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (0 for all full-text matches)")
	searchCmd.Flags().BoolVar(&semanticFlg, "semantic", false, "rank by embedding similarity")
}

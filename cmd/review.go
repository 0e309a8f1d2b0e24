package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
)

var (
	reviewDeal string
	reviewTier int
	reviewAll  bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List and resolve pending fact changes",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved pending changes for a deal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pending, err := st.ListPendingChanges(ctx, reviewDeal, reviewTier)
		if err != nil {
			return eris.Wrap(err, "list pending changes")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pending)
	},
}

var reviewApplyCmd = &cobra.Command{
	Use:   "apply [change-ids...]",
	Short: "Apply pending changes as facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveChanges(cmd, args, true)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject [change-ids...]",
	Short: "Reject pending changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveChanges(cmd, args, false)
	},
}

// resolveChanges applies or rejects the named pending changes, or every
// unresolved change of the selected tier when --all is set.
func resolveChanges(cmd *cobra.Command, ids []string, apply bool) error {
	ctx := cmd.Context()

	if !reviewAll && len(ids) == 0 {
		return eris.New("no change IDs given (or use --all with --tier)")
	}
	if reviewAll && reviewTier == 0 {
		return eris.New("--all requires --tier")
	}

	env, err := initPipeline(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	pending, err := env.Store.ListPendingChanges(ctx, reviewDeal, reviewTier)
	if err != nil {
		return eris.Wrap(err, "list pending changes")
	}

	var selected []model.PendingChange
	if reviewAll {
		selected = pending
	} else {
		byID := make(map[string]model.PendingChange, len(pending))
		for _, pc := range pending {
			byID[pc.ID] = pc
		}
		for _, id := range ids {
			pc, ok := byID[id]
			if !ok {
				return eris.Errorf("pending change %s not found for deal %s", id, reviewDeal)
			}
			selected = append(selected, pc)
		}
	}

	resolution := "rejected"
	if apply {
		resolution = "applied"
	}
	if err := env.Processor.ResolvePendingBatch(ctx, selected, apply); err != nil {
		return err
	}
	for _, pc := range selected {
		zap.L().Info("pending change resolved",
			zap.String("change_id", pc.ID),
			zap.Int("tier", pc.Tier),
			zap.String("resolution", resolution),
		)
	}

	zap.L().Info("review complete",
		zap.String("deal_id", reviewDeal),
		zap.Int("resolved", len(selected)),
		zap.String("resolution", resolution),
	)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{reviewListCmd, reviewApplyCmd, reviewRejectCmd} {
		c.Flags().StringVar(&reviewDeal, "deal", "", "deal ID (required)")
		c.Flags().IntVar(&reviewTier, "tier", 0, "filter by review tier (2 or 3)")
		_ = c.MarkFlagRequired("deal")
	}
	reviewApplyCmd.Flags().BoolVar(&reviewAll, "all", false, "resolve every unresolved change of the selected tier")
	reviewRejectCmd.Flags().BoolVar(&reviewAll, "all", false, "resolve every unresolved change of the selected tier")

	reviewCmd.AddCommand(reviewListCmd, reviewApplyCmd, reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}

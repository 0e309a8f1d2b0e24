package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/diligence-cli/internal/diffrun"
)

var (
	diffDeal   string
	diffBase   string
	diffTarget string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis runs",
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show status and counts for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "load run %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

var runsDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff the facts of two runs over the same deal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := diffrun.Diff(ctx, st, diffDeal, diffBase, diffTarget)
		if err != nil {
			return eris.Wrap(err, "diff runs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runsDiffCmd.Flags().StringVar(&diffDeal, "deal", "", "deal ID (required)")
	runsDiffCmd.Flags().StringVar(&diffBase, "base", "", "base run ID (required)")
	runsDiffCmd.Flags().StringVar(&diffTarget, "target", "", "target run ID (required)")
	_ = runsDiffCmd.MarkFlagRequired("deal")
	_ = runsDiffCmd.MarkFlagRequired("base")
	_ = runsDiffCmd.MarkFlagRequired("target")

	runsCmd.AddCommand(runsStatusCmd, runsDiffCmd)
	rootCmd.AddCommand(runsCmd)
}

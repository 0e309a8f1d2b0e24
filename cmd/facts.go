package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/store"
)

var (
	factsDeal     string
	factsRun      string
	factsDomain   string
	factsVerified bool
	factsLimit    int
	verifyUnset   bool
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect and curate the fact base",
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List facts for a deal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		facts, err := st.ListFacts(ctx, store.FactFilter{
			DealID:       factsDeal,
			RunID:        factsRun,
			Domain:       factsDomain,
			VerifiedOnly: factsVerified,
			Limit:        factsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list facts")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(facts)
	},
}

var factsVerifyCmd = &cobra.Command{
	Use:   "verify <fact-id>",
	Short: "Mark a fact as human-verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		verified := !verifyUnset
		if err := st.SetFactVerified(ctx, args[0], verified); err != nil {
			return eris.Wrapf(err, "verify fact %s", args[0])
		}
		zap.L().Info("fact verification updated",
			zap.String("fact_id", args[0]),
			zap.Bool("verified", verified),
		)
		return nil
	},
}

var factsDeleteCmd = &cobra.Command{
	Use:   "delete <fact-id>",
	Short: "Soft-delete a fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SoftDeleteFact(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "delete fact %s", args[0])
		}
		zap.L().Info("fact deleted", zap.String("fact_id", args[0]))
		return nil
	},
}

func init() {
	factsListCmd.Flags().StringVar(&factsDeal, "deal", "", "deal ID (required)")
	factsListCmd.Flags().StringVar(&factsRun, "run", "", "restrict to one run")
	factsListCmd.Flags().StringVar(&factsDomain, "domain", "", "restrict to one domain")
	factsListCmd.Flags().BoolVar(&factsVerified, "verified", false, "only verified facts")
	factsListCmd.Flags().IntVar(&factsLimit, "limit", 0, "maximum rows (0 = all)")
	_ = factsListCmd.MarkFlagRequired("deal")

	factsVerifyCmd.Flags().BoolVar(&verifyUnset, "unset", false, "clear the verified flag instead")

	factsCmd.AddCommand(factsListCmd, factsVerifyCmd, factsDeleteCmd)
	rootCmd.AddCommand(factsCmd)
}

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
	dealTenant string
	dealName   string
	dealType   string
)

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "Manage deals",
}

var dealsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a deal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dt := model.DealType(dealType)
		if !dt.IsValid() {
			return eris.Errorf("invalid deal type %q (one of: acquisition, merger, carve_out, divestiture, investment)", dealType)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		deal, err := st.CreateDeal(ctx, dealTenant, dealName, dt)
		if err != nil {
			return eris.Wrap(err, "create deal")
		}

		zap.L().Info("deal created",
			zap.String("deal_id", deal.ID),
			zap.String("name", deal.Name),
			zap.String("type", string(deal.DealType)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(deal)
	},
}

var dealsLockCmd = &cobra.Command{
	Use:   "lock <deal-id>",
	Short: "Lock a deal against further changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDealLocked(cmd, args[0], true)
	},
}

var dealsUnlockCmd = &cobra.Command{
	Use:   "unlock <deal-id>",
	Short: "Unlock a deal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDealLocked(cmd, args[0], false)
	},
}

func setDealLocked(cmd *cobra.Command, dealID string, locked bool) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetDealLocked(ctx, dealID, locked); err != nil {
		return eris.Wrap(err, "set deal lock")
	}
	zap.L().Info("deal lock updated", zap.String("deal_id", dealID), zap.Bool("locked", locked))
	return nil
}

func init() {
	dealsCreateCmd.Flags().StringVar(&dealTenant, "tenant", "", "tenant ID (required)")
	dealsCreateCmd.Flags().StringVar(&dealName, "name", "", "deal name (required)")
	dealsCreateCmd.Flags().StringVar(&dealType, "type", "acquisition", "deal type")
	_ = dealsCreateCmd.MarkFlagRequired("tenant")
	_ = dealsCreateCmd.MarkFlagRequired("name")

	dealsCmd.AddCommand(dealsCreateCmd, dealsLockCmd, dealsUnlockCmd)
	rootCmd.AddCommand(dealsCmd)
}

package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/pkg/notion"
)

var exportDeal string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export results to external systems",
}

var exportNotionCmd = &cobra.Command{
	Use:   "notion",
	Short: "Push the latest completed run's findings to Notion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Notion.Token == "" {
			return eris.New("notion token is required (DILIGENCE_NOTION_TOKEN)")
		}
		if cfg.Notion.FindingsDB == "" {
			return eris.New("notion findings database is required (DILIGENCE_NOTION_FINDINGS_DB)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.LatestCompletedRun(ctx, exportDeal)
		if err != nil {
			return eris.Wrapf(err, "latest completed run for deal %s", exportDeal)
		}

		findings, err := st.ListFindings(ctx, exportDeal, run.ID)
		if err != nil {
			return eris.Wrap(err, "list findings")
		}
		if len(findings) == 0 {
			zap.L().Info("no findings to export",
				zap.String("deal_id", exportDeal),
				zap.String("run_id", run.ID),
			)
			return nil
		}

		client := notion.NewClient(cfg.Notion.Token)
		exported, err := notion.ExportFindings(ctx, client, cfg.Notion.FindingsDB, findings)
		if err != nil {
			return eris.Wrap(err, "export findings")
		}

		zap.L().Info("findings exported",
			zap.String("deal_id", exportDeal),
			zap.String("run_id", run.ID),
			zap.Int("exported", exported),
			zap.Int("total", len(findings)),
		)
		return nil
	},
}

func init() {
	exportNotionCmd.Flags().StringVar(&exportDeal, "deal", "", "deal ID (required)")
	_ = exportNotionCmd.MarkFlagRequired("deal")

	exportCmd.AddCommand(exportNotionCmd)
	rootCmd.AddCommand(exportCmd)
}

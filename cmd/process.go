package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/diligence-cli/internal/fetcher"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

var (
	processDeal     string
	processPriority string
	processURLs     []string
	processFTPs     []string
)

var processCmd = &cobra.Command{
	Use:   "process [files...]",
	Short: "Register documents and run the extraction pipeline over a deal",
	Long:  "Registers the given local files (and any --from-url/--from-ftp sources pulled into the inbox) as pending documents, then processes every pending document of the deal in one analysis run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Store.GetDeal(ctx, processDeal); err != nil {
			return eris.Wrapf(err, "load deal %s", processDeal)
		}

		paths := append([]string{}, args...)
		fetched, err := fetchSources(ctx, processURLs, processFTPs)
		if err != nil {
			return err
		}
		paths = append(paths, fetched...)

		for _, path := range paths {
			if _, err := registerDocument(ctx, env.Store, processDeal, path, ""); err != nil {
				return err
			}
		}

		env.Processor.Start(ctx)
		run, err := env.Processor.StartRun(ctx, processDeal, model.ParsePriority(processPriority))
		if err != nil {
			env.Processor.Stop()
			return err
		}
		env.Processor.Stop()

		final, err := env.Store.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "load run result")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return err
		}
		if final.Status == model.RunStatusFailed {
			return eris.Errorf("run %s failed: %s", final.ID, final.Error)
		}
		return nil
	},
}

// fetchSources pulls remote documents into the inbox directory and
// returns the local paths. Sources download concurrently, a few at a
// time so a slow FTP host does not hold up the HTTP pulls.
func fetchSources(ctx context.Context, urls, ftps []string) ([]string, error) {
	type source struct {
		url string
		f   fetcher.Fetcher
	}
	var sources []source
	if len(urls) > 0 {
		httpFetcher := fetcher.NewHTTP(cfg.Fetch)
		for _, u := range urls {
			sources = append(sources, source{url: u, f: httpFetcher})
		}
	}
	if len(ftps) > 0 {
		ftpFetcher := fetcher.NewFTP(cfg.Fetch)
		for _, u := range ftps {
			sources = append(sources, source{url: u, f: ftpFetcher})
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}

	results := make([][]string, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range sources {
		g.Go(func() error {
			got, err := src.f.Fetch(gctx, src.url, cfg.Fetch.InboxDir)
			if err != nil {
				return eris.Wrapf(err, "fetch %s", src.url)
			}
			results[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var paths []string
	for _, got := range results {
		paths = append(paths, got...)
	}
	return paths, nil
}

// registerDocument records a local file as a pending document of the deal.
func registerDocument(ctx context.Context, st store.Store, dealID, path, contentType string) (*model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "stat %s", path)
	}

	doc, err := st.CreateDocument(ctx, model.Document{
		DealID:      dealID,
		Filename:    filepath.Base(path),
		ContentType: contentType,
		SizeBytes:   info.Size(),
		Path:        path,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "register document %s", path)
	}

	zap.L().Info("document registered",
		zap.String("document_id", doc.ID),
		zap.String("deal_id", dealID),
		zap.String("filename", doc.Filename),
		zap.Int64("size_bytes", doc.SizeBytes),
	)
	return doc, nil
}

func init() {
	processCmd.Flags().StringVar(&processDeal, "deal", "", "deal ID (required)")
	processCmd.Flags().StringVar(&processPriority, "priority", "normal", "queue priority (low, normal, high, urgent)")
	processCmd.Flags().StringArrayVar(&processURLs, "from-url", nil, "HTTP(S) document source, repeatable")
	processCmd.Flags().StringArrayVar(&processFTPs, "from-ftp", nil, "FTP document source, repeatable")
	_ = processCmd.MarkFlagRequired("deal")
	rootCmd.AddCommand(processCmd)
}

package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/content"
	"github.com/sells-group/diligence-cli/internal/extract"
	"github.com/sells-group/diligence-cli/internal/processor"
	"github.com/sells-group/diligence-cli/internal/store"
	"github.com/sells-group/diligence-cli/internal/tier"
	"github.com/sells-group/diligence-cli/internal/writer"
	anthropicpkg "github.com/sells-group/diligence-cli/pkg/anthropic"
)

// pipelineEnv holds the initialized store and processor needed by the
// process/serve commands.
type pipelineEnv struct {
	Store     store.Store
	Processor *processor.Processor
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, runs migrations, and assembles the
// content extractor, fact extractor, tier classifier, writer, and
// processor. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var aiClient anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		aiClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
		if cfg.Extract.LLMAssist {
			zap.L().Info("llm-assisted extraction enabled", zap.String("model", cfg.Anthropic.Model))
		}
	} else if cfg.Extract.LLMAssist {
		zap.L().Warn("DILIGENCE_ANTHROPIC_KEY not set, llm-assisted extraction disabled")
	}

	factExtractor, err := extract.NewExtractor(cfg.Extract, aiClient, cfg.Anthropic)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init fact extractor")
	}

	w := writer.New(st, cfg.Writer)
	proc, err := processor.New(st, content.NewExtractor(cfg.Content), factExtractor, tier.NewClassifier(cfg.Tier), w, cfg.Processor)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init processor")
	}

	return &pipelineEnv{Store: st, Processor: proc}, nil
}

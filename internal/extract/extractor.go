package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/match"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// maxItemLen caps the item text; the full sentence stays in the evidence
// quote.
const maxItemLen = 240

// maxQuoteLen caps the evidence quote.
const maxQuoteLen = 400

// Context carries existing-fact knowledge into an extraction pass.
type Context struct {
	DealID        string
	DefaultEntity model.Entity
	// DomainCounts summarizes existing facts per domain so the LLM pass
	// can be told what is already known.
	DomainCounts map[string]int
}

// Extractor segments text, detects domains and categories by keyword
// voting, and emits scored candidate facts.
type Extractor struct {
	rules *Rules
	cfg   config.ExtractConfig
	llm   *llmAssist
}

// NewExtractor compiles the embedded pattern rules. aiClient may be nil,
// in which case the LLM-assisted pass is disabled regardless of config.
func NewExtractor(cfg config.ExtractConfig, aiClient anthropic.Client, aiCfg config.AnthropicConfig) (*Extractor, error) {
	rules, err := LoadRules()
	if err != nil {
		return nil, err
	}
	e := &Extractor{rules: rules, cfg: cfg}
	if cfg.LLMAssist && aiClient != nil {
		e.llm = newLLMAssist(aiClient, aiCfg)
	}
	return e, nil
}

// Rules exposes the compiled rule set for classification reuse.
func (e *Extractor) Rules() *Rules {
	return e.rules
}

// ExtractFacts produces deduplicated, confidence-scored candidate facts
// from normalized document text. pageCount positions evidence pages;
// sourceFile is recorded on every candidate.
func (e *Extractor) ExtractFacts(ctx context.Context, text string, pageCount int, sourceFile string, extCtx Context) ([]model.CandidateFact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if extCtx.DefaultEntity == "" {
		extCtx.DefaultEntity = model.EntityTarget
	}

	sections := SplitSections(text, pageCount)

	var candidates []model.CandidateFact
	var lowSignal []Section

	for _, sec := range sections {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "extract: cancelled")
		}

		scope := sec.Title + "\n" + sec.Text
		domain, domainScore := e.rules.DetectDomain(scope)
		entity := detectEntity(sec.Title, extCtx.DefaultEntity)

		secCandidates := e.extractFromSection(sec, scope, domain, domainScore, entity, sourceFile, candidates)
		candidates = append(candidates, secCandidates...)

		if domain == "unknown" && len(secCandidates) == 0 && len(strings.Fields(sec.Text)) >= 30 {
			lowSignal = append(lowSignal, sec)
		}

		if e.cfg.MaxFactsPerDocument > 0 && len(candidates) >= e.cfg.MaxFactsPerDocument {
			zap.L().Warn("extract: fact cap reached",
				zap.String("source", sourceFile),
				zap.Int("cap", e.cfg.MaxFactsPerDocument),
			)
			break
		}
	}

	// LLM pass over sections the pattern pass could not read. Failures
	// degrade to pattern-only extraction.
	if e.llm != nil && len(lowSignal) > 0 {
		llmCandidates, err := e.llm.extract(ctx, lowSignal, sourceFile, extCtx)
		if err != nil {
			zap.L().Warn("extract: llm pass failed, continuing pattern-only",
				zap.String("source", sourceFile),
				zap.Error(err),
			)
		} else {
			candidates = append(candidates, llmCandidates...)
		}
	}

	candidates = dedupe(candidates, e.cfg.DedupeSimilarity)

	zap.L().Debug("extract: pass complete",
		zap.String("source", sourceFile),
		zap.Int("sections", len(sections)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// extractFromSection walks a section's sentences and builds candidates
// from statement matches.
func (e *Extractor) extractFromSection(sec Section, scope, domain string, domainScore float64, entity model.Entity, sourceFile string, prior []model.CandidateFact) []model.CandidateFact {
	var out []model.CandidateFact

	for _, sentence := range SplitSentences(sec.Text) {
		if len(strings.Fields(sentence)) < 4 {
			continue
		}
		if !e.rules.IsStatement(sentence) {
			continue
		}

		sentenceDomain := domain
		sentenceScore := domainScore
		if d, s := e.rules.DetectDomain(sentence); d != "unknown" {
			sentenceDomain = d
			sentenceScore = s
		}

		c := model.CandidateFact{
			TempID:     uuid.New().String(),
			Domain:     sentenceDomain,
			Category:   e.rules.DetectCategory(sentenceDomain, sentence+" "+sec.Title),
			Entity:     entity,
			Item:       truncate(sentence, maxItemLen),
			Status:     model.FactStatus(e.rules.DetectStatus(sentence)),
			Details:    parseDetails(sentence),
			Evidence:   &model.Evidence{Quote: truncate(sentence, maxQuoteLen), Page: sec.StartPage},
			SourceFile: sourceFile,
		}

		c.Confidence = scoreConfidence(&c, sentenceScore, isNearDuplicate(c, prior, out, e.cfg.DedupeSimilarity))
		out = append(out, c)
	}
	return out
}

// isNearDuplicate checks c against every candidate already produced in
// this pass.
func isNearDuplicate(c model.CandidateFact, prior, current []model.CandidateFact, minSimilarity float64) bool {
	if minSimilarity <= 0 {
		minSimilarity = 0.85
	}
	for _, set := range [][]model.CandidateFact{prior, current} {
		for i := range set {
			if set[i].Domain == c.Domain && match.Similarity(set[i].Item, c.Item) >= minSimilarity {
				return true
			}
		}
	}
	return false
}

// detectEntity routes buyer-titled sections to the buyer entity.
func detectEntity(title string, fallback model.Entity) model.Entity {
	lower := strings.ToLower(title)
	if strings.Contains(lower, "buyer") || strings.Contains(lower, "acquirer") || strings.Contains(lower, "acquiror") {
		return model.EntityBuyer
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so a multi-byte rune is never split.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	cut := s[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > n/2 {
		cut = cut[:idx]
	}
	return cut
}

// Package processor runs the document pipeline: a priority queue feeding
// a single worker goroutine that extracts content, derives candidate
// facts, classifies them into review tiers, and merges the results.
package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/content"
	"github.com/sells-group/diligence-cli/internal/extract"
	"github.com/sells-group/diligence-cli/internal/match"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/store"
	"github.com/sells-group/diligence-cli/internal/tier"
	"github.com/sells-group/diligence-cli/internal/writer"
)

// conflictSimilarity is the token-similarity floor for treating an
// existing fact as the same item during conflict detection.
const conflictSimilarity = 0.6

// chunkParallelism bounds the fan-out when extracting a chunked document.
const chunkParallelism = 4

// ContentExtractor reads document files into normalized text.
type ContentExtractor interface {
	Extract(ctx context.Context, path, hint string) (*content.Result, error)
}

// FactExtractor derives candidate facts from normalized text.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, text string, pageCount int, sourceFile string, extCtx extract.Context) ([]model.CandidateFact, error)
}

// Processor owns the document queue and its worker goroutine.
type Processor struct {
	store      store.Store
	content    ContentExtractor
	extractor  FactExtractor
	classifier *tier.Classifier
	writer     *writer.Incremental
	cfg        config.ProcessorConfig
	state      *stateFiles
	queue      *taskQueue

	mu   sync.Mutex
	runs map[string]*runState

	wg      sync.WaitGroup
	started bool
}

// runState accumulates counts for an in-flight run.
type runState struct {
	counts model.RunCounts
}

// New wires a processor. The state directory is created if missing.
func New(st store.Store, ce ContentExtractor, fe FactExtractor, cl *tier.Classifier, w *writer.Incremental, cfg config.ProcessorConfig) (*Processor, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	state, err := newStateFiles(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	return &Processor{
		store:      st,
		content:    ce,
		extractor:  fe,
		classifier: cl,
		writer:     w,
		cfg:        cfg,
		state:      state,
		queue:      newTaskQueue(),
		runs:       map[string]*runState{},
	}, nil
}

// Start launches the worker goroutine. Queued review state from a prior
// process is reported at startup.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for _, reviewTier := range []int{2, 3} {
		if pending, err := p.state.loadPending(reviewTier); err != nil {
			zap.L().Warn("processor: restore pending queue", zap.Int("tier", reviewTier), zap.Error(err))
		} else if len(pending) > 0 {
			zap.L().Info("processor: restored pending queue",
				zap.Int("tier", reviewTier),
				zap.Int("entries", len(pending)),
			)
		}
	}

	p.wg.Add(1)
	go p.work(ctx)
}

// Stop closes the queue and waits for the worker to drain it.
func (p *Processor) Stop() {
	p.queue.close()
	p.wg.Wait()
}

// QueueDepth reports how many documents are waiting.
func (p *Processor) QueueDepth() int {
	return p.queue.len()
}

// StartRun creates an analysis run over the deal's pending documents and
// enqueues them at the given priority.
func (p *Processor) StartRun(ctx context.Context, dealID string, priority model.Priority) (*model.AnalysisRun, error) {
	docs, err := p.store.ListDocuments(ctx, dealID, model.DocumentStatusPending)
	if err != nil {
		return nil, eris.Wrap(err, "processor: list pending documents")
	}
	if len(docs) == 0 {
		return nil, eris.Errorf("processor: deal %s has no pending documents", dealID)
	}

	run, err := p.store.CreateRun(ctx, dealID, len(docs))
	if err != nil {
		return nil, eris.Wrap(err, "processor: create run")
	}

	p.mu.Lock()
	p.runs[run.ID] = &runState{counts: model.RunCounts{DocumentsTotal: len(docs)}}
	p.mu.Unlock()

	for _, doc := range docs {
		if err := p.Enqueue(doc, run.ID, priority); err != nil {
			return nil, err
		}
	}
	zap.L().Info("processor: run started",
		zap.String("run_id", run.ID),
		zap.String("deal_id", dealID),
		zap.Int("documents", len(docs)),
		zap.String("priority", priority.String()),
	)
	return run, nil
}

// Enqueue adds one document to the queue.
func (p *Processor) Enqueue(doc model.Document, runID string, priority model.Priority) error {
	if !p.queue.push(&task{doc: doc, runID: runID, priority: priority}) {
		return eris.New("processor: queue closed")
	}
	return nil
}

// DeadLetters returns the recorded permanently failed documents.
func (p *Processor) DeadLetters() ([]resilience.DeadLetter, error) {
	return p.state.loadDeadLetters()
}

func (p *Processor) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		t, ok := p.queue.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.handle(ctx, t)
	}
}

// handle runs the full per-document flow and the retry bookkeeping.
func (p *Processor) handle(ctx context.Context, t *task) {
	logger := zap.L().With(
		zap.String("document_id", t.doc.ID),
		zap.String("run_id", t.runID),
		zap.String("filename", t.doc.Filename),
	)

	if err := p.store.UpdateDocumentStatus(ctx, t.doc.ID, model.DocumentStatusProcessing, "", t.doc.RetryCount); err != nil {
		logger.Error("processor: mark processing", zap.Error(err))
	}

	err := p.processDocument(ctx, t)
	if err == nil {
		if uerr := p.store.UpdateDocumentStatus(ctx, t.doc.ID, model.DocumentStatusCompleted, "", t.doc.RetryCount); uerr != nil {
			logger.Error("processor: mark completed", zap.Error(uerr))
		}
		p.finishDocument(ctx, t, false)
		logger.Info("processor: document processed")
		return
	}

	retryCount := t.doc.RetryCount + 1
	if retryCount <= p.cfg.MaxRetries {
		logger.Warn("processor: document failed, requeueing",
			zap.Int("retry", retryCount),
			zap.Int("max_retries", p.cfg.MaxRetries),
			zap.Error(err),
		)
		if uerr := p.store.UpdateDocumentStatus(ctx, t.doc.ID, model.DocumentStatusPending, err.Error(), retryCount); uerr != nil {
			logger.Error("processor: mark pending for retry", zap.Error(uerr))
		}
		retry := *t
		retry.doc.RetryCount = retryCount
		p.queue.push(&retry)
		return
	}

	logger.Error("processor: document permanently failed",
		zap.Int("retries", t.doc.RetryCount),
		zap.Error(err),
	)
	if uerr := p.store.UpdateDocumentStatus(ctx, t.doc.ID, model.DocumentStatusFailed, err.Error(), t.doc.RetryCount); uerr != nil {
		logger.Error("processor: mark failed", zap.Error(uerr))
	}
	if derr := p.state.appendDeadLetter(resilience.DeadLetter{
		DocumentID:   t.doc.ID,
		DealID:       t.doc.DealID,
		Filename:     t.doc.Filename,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		RetryCount:   t.doc.RetryCount,
		LastFailedAt: time.Now().UTC(),
	}); derr != nil {
		logger.Error("processor: record dead letter", zap.Error(derr))
	}
	p.finishDocument(ctx, t, true)
}

// processDocument runs extraction, classification, and merge for one
// document. Any error is retryable at the document level.
func (p *Processor) processDocument(ctx context.Context, t *task) error {
	res, err := p.content.Extract(ctx, t.doc.Path, t.doc.ContentType)
	if err != nil {
		return eris.Wrap(err, "processor: content extraction")
	}
	if !res.OK {
		return eris.Errorf("processor: content extraction failed: %s", res.Error)
	}

	extCtx, err := p.extractionContext(ctx, t.doc.DealID)
	if err != nil {
		return err
	}

	candidates, err := p.extractCandidates(ctx, res, t.doc.Filename, extCtx)
	if err != nil {
		return eris.Wrap(err, "processor: fact extraction")
	}

	var applied []model.Fact
	for _, cand := range candidates {
		existing, conflict, err := p.matchExisting(ctx, t.doc.DealID, cand)
		if err != nil {
			return err
		}

		decision := p.classifier.Classify(tier.Input{Candidate: cand, Existing: existing, Conflict: conflict})
		if decision.AutoApply {
			fact := p.factFromCandidate(cand, t, existing)
			if p.writer.WriteFact(ctx, &fact) {
				applied = append(applied, fact)
				p.bump(t.runID, func(c *model.RunCounts) { c.FactsWritten++ })
			}
			continue
		}

		pc := model.PendingChange{
			ID:             uuid.New().String(),
			DealID:         t.doc.DealID,
			RunID:          t.runID,
			DocumentID:     t.doc.ID,
			Candidate:      cand,
			Tier:           int(decision.Tier),
			ChangeCategory: string(decision.Category),
			Reasons:        decision.Reasons,
			RiskScore:      decision.RiskScore,
			CreatedAt:      time.Now().UTC(),
		}
		if existing != nil {
			pc.ExistingFactID = existing.ID
		}
		if err := p.store.SavePendingChange(ctx, &pc); err != nil {
			return eris.Wrap(err, "processor: save pending change")
		}
		if err := p.state.appendPending(pc); err != nil {
			return err
		}
		p.bump(t.runID, func(c *model.RunCounts) { c.PendingReview++ })
	}

	p.deriveFindings(ctx, t, applied)
	return nil
}

// extractCandidates runs fact extraction over the document text, or per
// chunk with a bounded fan-out when the content extractor split a large
// document. Evidence pages inside a chunk are local to it and get
// shifted back to document pages.
func (p *Processor) extractCandidates(ctx context.Context, res *content.Result, filename string, extCtx extract.Context) ([]model.CandidateFact, error) {
	if len(res.Chunks) == 0 {
		return p.extractor.ExtractFacts(ctx, res.Text, res.PageCount, filename, extCtx)
	}

	perChunk := make([][]model.CandidateFact, len(res.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkParallelism)
	for i, ch := range res.Chunks {
		g.Go(func() error {
			cands, err := p.extractor.ExtractFacts(gctx, ch.Text, ch.EndPage-ch.StartPage+1, filename, extCtx)
			if err != nil {
				return eris.Wrapf(err, "processor: extract chunk %d", ch.Index)
			}
			for j := range cands {
				if cands[j].Evidence != nil {
					cands[j].Evidence.Page += ch.StartPage - 1
				}
			}
			perChunk[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The extractor dedupes within a chunk only; items repeated across
	// chunk boundaries collapse here, keeping the higher confidence.
	seen := map[string]int{}
	var merged []model.CandidateFact
	for _, cands := range perChunk {
		for _, c := range cands {
			key := c.Domain + "|" + string(c.Entity) + "|" + match.Normalize(c.Item)
			if idx, ok := seen[key]; ok {
				if c.Confidence > merged[idx].Confidence {
					merged[idx] = c
				}
				continue
			}
			seen[key] = len(merged)
			merged = append(merged, c)
		}
	}
	return merged, nil
}

// extractionContext summarizes the deal's existing facts per domain.
func (p *Processor) extractionContext(ctx context.Context, dealID string) (extract.Context, error) {
	facts, err := p.store.ListFacts(ctx, store.FactFilter{DealID: dealID})
	if err != nil {
		return extract.Context{}, eris.Wrap(err, "processor: list existing facts")
	}
	counts := map[string]int{}
	for _, f := range facts {
		counts[f.Domain]++
	}
	return extract.Context{DealID: dealID, DefaultEntity: model.EntityTarget, DomainCounts: counts}, nil
}

// matchExisting looks up the closest existing fact and decides whether
// the candidate contradicts it.
func (p *Processor) matchExisting(ctx context.Context, dealID string, cand model.CandidateFact) (*model.Fact, bool, error) {
	existing, err := p.store.FindSimilarFact(ctx, dealID, cand.Domain, cand.Entity, cand.Item, conflictSimilarity)
	if eris.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "processor: find similar fact")
	}
	return existing, conflictsWith(cand, existing), nil
}

// conflictsWith reports whether the candidate contradicts the existing
// fact: a disagreeing status or a disagreeing detail value.
func conflictsWith(cand model.CandidateFact, existing *model.Fact) bool {
	if cand.Status != model.FactStatusUnknown && existing.Status != model.FactStatusUnknown &&
		cand.Status != existing.Status {
		return true
	}
	for k, v := range cand.Details {
		if ev, ok := existing.Details[k]; ok && fmt.Sprint(ev) != fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func (p *Processor) factFromCandidate(cand model.CandidateFact, t *task, existing *model.Fact) model.Fact {
	now := time.Now().UTC()
	fact := model.Fact{
		ID:         uuid.New().String(),
		DealID:     t.doc.DealID,
		DocumentID: t.doc.ID,
		RunID:      t.runID,
		Domain:     cand.Domain,
		Category:   cand.Category,
		Entity:     cand.Entity,
		Item:       cand.Item,
		Status:     cand.Status,
		Details:    cand.Details,
		Evidence:   cand.Evidence,
		Confidence: model.ClampConfidence(cand.Confidence),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		fact.ID = existing.ID
		fact.Verified = existing.Verified
		fact.CreatedAt = existing.CreatedAt
	}
	return fact
}

// deriveFindings turns end-of-life signals among the applied facts into
// work-item findings.
func (p *Processor) deriveFindings(ctx context.Context, t *task, applied []model.Fact) {
	for _, fact := range applied {
		if fact.Status != model.FactStatusDeprecated && fact.Status != model.FactStatusRetired {
			continue
		}
		severity := model.SeverityMedium
		if fact.Status == model.FactStatusDeprecated {
			severity = model.SeverityHigh
		}
		finding := model.Finding{
			ID:          uuid.New().String(),
			DealID:      t.doc.DealID,
			RunID:       t.runID,
			FindingType: model.FindingTypeWorkItem,
			Title:       "Technology transition: " + shorten(fact.Item, 80),
			Description: fmt.Sprintf("%q is %s per %s.", fact.Item, fact.Status, t.doc.Filename),
			Severity:    severity,
			FactIDs:     []string{fact.ID},
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		if p.writer.WriteFinding(ctx, &finding) {
			p.bump(t.runID, func(c *model.RunCounts) { c.FindingsWritten++ })
		}
	}
}

// finishDocument updates run counts and, when the run has consumed all
// its documents, completes it with gap generation and a forced progress
// write.
func (p *Processor) finishDocument(ctx context.Context, t *task, failed bool) {
	p.mu.Lock()
	rs, ok := p.runs[t.runID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if failed {
		rs.counts.DocumentsFailed++
	} else {
		rs.counts.DocumentsProcessed++
	}
	counts := rs.counts
	done := counts.DocumentsProcessed+counts.DocumentsFailed >= counts.DocumentsTotal
	if done {
		delete(p.runs, t.runID)
	}
	p.mu.Unlock()

	progress := 0.0
	if counts.DocumentsTotal > 0 {
		progress = float64(counts.DocumentsProcessed+counts.DocumentsFailed) / float64(counts.DocumentsTotal)
	}

	if !done {
		p.writer.UpdateProgress(ctx, t.runID, progress, counts, false)
		return
	}

	counts.GapsWritten += p.writeGaps(ctx, t.doc.DealID, t.runID)
	p.writer.UpdateProgress(ctx, t.runID, 1.0, counts, true)

	status := model.RunStatusCompleted
	errMsg := ""
	if counts.DocumentsProcessed == 0 {
		status = model.RunStatusFailed
		errMsg = "all documents failed"
	}
	if err := p.store.CompleteRun(ctx, t.runID, status, errMsg); err != nil {
		zap.L().Error("processor: complete run", zap.String("run_id", t.runID), zap.Error(err))
		return
	}
	zap.L().Info("processor: run complete",
		zap.String("run_id", t.runID),
		zap.String("status", string(status)),
		zap.Int("facts", counts.FactsWritten),
		zap.Int("pending_review", counts.PendingReview),
	)
}

// writeGaps records coverage gaps: domains the run's deal still has no
// facts for. Returns the number written.
func (p *Processor) writeGaps(ctx context.Context, dealID, runID string) int {
	facts, err := p.store.ListFacts(ctx, store.FactFilter{DealID: dealID})
	if err != nil {
		zap.L().Error("processor: list facts for gaps", zap.Error(err))
		return 0
	}
	covered := map[string]bool{}
	for _, f := range facts {
		covered[f.Domain] = true
	}

	written := 0
	for _, domain := range []string{"infrastructure", "applications", "security", "network", "data", "identity", "cloud", "endpoints", "itsm", "organization"} {
		if covered[domain] {
			continue
		}
		severity := "medium"
		switch domain {
		case "security", "identity", "data":
			severity = "high"
		}
		gap := model.Gap{
			ID:          uuid.New().String(),
			DealID:      dealID,
			RunID:       runID,
			Domain:      domain,
			Category:    "coverage",
			Description: "No facts captured for the " + domain + " domain; request documentation.",
			Severity:    severity,
			CreatedAt:   time.Now().UTC(),
		}
		if p.writer.WriteGap(ctx, &gap) {
			written++
		}
	}
	return written
}

// ResolvePending applies or rejects a reviewed change. Applying writes
// the candidate as a fact; both outcomes mark the change resolved and
// drop it from the persisted queue.
func (p *Processor) ResolvePending(ctx context.Context, pc model.PendingChange, apply bool) error {
	resolution := "rejected"
	if apply {
		resolution = "applied"
		var existing *model.Fact
		if pc.ExistingFactID != "" {
			f, err := p.store.GetFact(ctx, pc.ExistingFactID)
			if err != nil && !eris.Is(err, store.ErrNotFound) {
				return eris.Wrap(err, "processor: load existing fact")
			}
			existing = f
		}
		t := &task{doc: model.Document{ID: pc.DocumentID, DealID: pc.DealID}, runID: pc.RunID}
		fact := p.factFromCandidate(pc.Candidate, t, existing)
		if !p.writer.WriteFact(ctx, &fact) {
			return eris.Errorf("processor: apply pending change %s", pc.ID)
		}
	}
	if err := p.store.ResolvePendingChange(ctx, pc.ID, resolution); err != nil {
		return eris.Wrap(err, "processor: resolve pending change")
	}
	return p.state.removePending(pc.Tier, pc.ID)
}

// ResolvePendingBatch resolves a set of reviewed changes in one pass.
// Applied facts are buffered and committed as a single bulk upsert,
// which is how tier-2 batch review lands a whole page of approvals.
func (p *Processor) ResolvePendingBatch(ctx context.Context, pcs []model.PendingChange, apply bool) error {
	if len(pcs) == 0 {
		return nil
	}
	if apply {
		p.writer.BeginBatch()
	}
	for _, pc := range pcs {
		if err := p.ResolvePending(ctx, pc, apply); err != nil {
			if apply {
				// Commit what was approved before the failure.
				p.writer.Flush(ctx)
			}
			return err
		}
	}
	if apply && !p.writer.Flush(ctx) {
		return eris.Errorf("processor: flush batch of %d applied changes", len(pcs))
	}
	return nil
}

func (p *Processor) bump(runID string, fn func(*model.RunCounts)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rs, ok := p.runs[runID]; ok {
		fn(&rs.counts)
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so a multi-byte rune is never split.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "…"
}

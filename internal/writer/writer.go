// Package writer persists extraction output with crash durability: every
// write commits immediately unless the caller opens a batch, and failures
// surface as booleans so one bad row never aborts a document merge.
package writer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// Incremental writes facts, gaps, and findings through the store and
// throttles run-progress updates. Safe for concurrent use.
type Incremental struct {
	store            store.Store
	progressInterval time.Duration

	mu           sync.Mutex
	lastProgress time.Time
	errorCount   int

	batchMu sync.Mutex
	batch   []model.Fact
	batched bool
}

// New builds a writer over st. A non-positive progress interval falls
// back to 2 seconds.
func New(st store.Store, cfg config.WriterConfig) *Incremental {
	interval := time.Duration(cfg.ProgressIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Incremental{store: st, progressInterval: interval}
}

// WriteFact upserts one fact, committing immediately unless a batch is
// open. Returns false on failure and increments the error counter.
func (w *Incremental) WriteFact(ctx context.Context, fact *model.Fact) bool {
	w.batchMu.Lock()
	if w.batched {
		w.batch = append(w.batch, *fact)
		w.batchMu.Unlock()
		return true
	}
	w.batchMu.Unlock()

	if err := w.store.UpsertFact(ctx, fact); err != nil {
		w.recordError("fact", fact.ID, err)
		return false
	}
	return true
}

// WriteGap upserts one gap.
func (w *Incremental) WriteGap(ctx context.Context, gap *model.Gap) bool {
	if err := w.store.UpsertGap(ctx, gap); err != nil {
		w.recordError("gap", gap.ID, err)
		return false
	}
	return true
}

// WriteFinding upserts one finding with its fact links.
func (w *Incremental) WriteFinding(ctx context.Context, finding *model.Finding) bool {
	if err := w.store.UpsertFinding(ctx, finding); err != nil {
		w.recordError("finding", finding.ID, err)
		return false
	}
	return true
}

// BeginBatch defers fact writes until Flush. Gap and finding writes stay
// immediate.
func (w *Incremental) BeginBatch() {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batched = true
	w.batch = w.batch[:0]
}

// Flush commits the open batch in one store call and returns to
// immediate mode. Returns false when the bulk write fails; the failed
// rows count as a single error.
func (w *Incremental) Flush(ctx context.Context) bool {
	w.batchMu.Lock()
	facts := w.batch
	w.batch = nil
	w.batched = false
	w.batchMu.Unlock()

	if len(facts) == 0 {
		return true
	}
	if err := w.store.UpsertFacts(ctx, facts); err != nil {
		w.recordError("fact batch", "", err)
		return false
	}
	zap.L().Debug("writer: batch flushed", zap.Int("facts", len(facts)))
	return true
}

// UpdateProgress writes run progress at most once per interval. force
// bypasses the throttle for terminal updates. Returns whether a write
// happened.
func (w *Incremental) UpdateProgress(ctx context.Context, runID string, progress float64, counts model.RunCounts, force bool) bool {
	w.mu.Lock()
	now := time.Now()
	if !force && now.Sub(w.lastProgress) < w.progressInterval {
		w.mu.Unlock()
		return false
	}
	w.lastProgress = now
	w.mu.Unlock()

	if err := w.store.UpdateRunProgress(ctx, runID, progress, counts); err != nil {
		w.recordError("run progress", runID, err)
		return false
	}
	return true
}

// ErrorCount returns the number of failed writes since the last reset.
func (w *Incremental) ErrorCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errorCount
}

// ResetErrors zeroes the error counter, typically at document boundaries.
func (w *Incremental) ResetErrors() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorCount = 0
}

func (w *Incremental) recordError(kind, id string, err error) {
	w.mu.Lock()
	w.errorCount++
	w.mu.Unlock()
	zap.L().Error("writer: write failed",
		zap.String("kind", kind),
		zap.String("id", id),
		zap.Error(err),
	)
}

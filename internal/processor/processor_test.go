package processor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/content"
	"github.com/sells-group/diligence-cli/internal/extract"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
	"github.com/sells-group/diligence-cli/internal/tier"
	"github.com/sells-group/diligence-cli/internal/writer"
)

// memStore is an in-memory store covering the methods the processor and
// writer exercise.
type memStore struct {
	store.Store

	mu             sync.Mutex
	pendingDocs    []model.Document
	statusHistory  map[string][]model.DocumentStatus
	facts          map[string]model.Fact
	gaps           []model.Gap
	findings       []model.Finding
	pendingChanges []model.PendingChange
	runs           map[string]*model.AnalysisRun
	progressWrites int
	bulkWrites     int
	completedRuns  map[string]model.RunStatus
	similar        *model.Fact
}

func newMemStore(docs ...model.Document) *memStore {
	return &memStore{
		pendingDocs:   docs,
		statusHistory: map[string][]model.DocumentStatus{},
		facts:         map[string]model.Fact{},
		runs:          map[string]*model.AnalysisRun{},
		completedRuns: map[string]model.RunStatus{},
	}
}

func (m *memStore) ListDocuments(_ context.Context, dealID string, status model.DocumentStatus) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Document
	for _, d := range m.pendingDocs {
		if d.DealID == dealID && d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) CreateRun(_ context.Context, dealID string, total int) (*model.AnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &model.AnalysisRun{
		ID:     "run-1",
		DealID: dealID,
		Status: model.RunStatusRunning,
		Counts: model.RunCounts{DocumentsTotal: total},
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) UpdateDocumentStatus(_ context.Context, docID string, status model.DocumentStatus, _ string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusHistory[docID] = append(m.statusHistory[docID], status)
	return nil
}

func (m *memStore) ListFacts(_ context.Context, filter store.FactFilter) ([]model.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Fact
	for _, f := range m.facts {
		if f.DealID == filter.DealID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) FindSimilarFact(_ context.Context, _, _ string, _ model.Entity, _ string, _ float64) (*model.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.similar == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.similar
	return &cp, nil
}

func (m *memStore) GetFact(_ context.Context, factID string) (*model.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.facts[factID]; ok {
		return &f, nil
	}
	if m.similar != nil && m.similar.ID == factID {
		cp := *m.similar
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpsertFact(_ context.Context, fact *model.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[fact.ID] = *fact
	return nil
}

func (m *memStore) UpsertFacts(_ context.Context, facts []model.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkWrites++
	for _, f := range facts {
		m.facts[f.ID] = f
	}
	return nil
}

func (m *memStore) UpsertGap(_ context.Context, gap *model.Gap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps = append(m.gaps, *gap)
	return nil
}

func (m *memStore) UpsertFinding(_ context.Context, finding *model.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings = append(m.findings, *finding)
	return nil
}

func (m *memStore) SavePendingChange(_ context.Context, pc *model.PendingChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingChanges = append(m.pendingChanges, *pc)
	return nil
}

func (m *memStore) ResolvePendingChange(_ context.Context, id, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pendingChanges {
		if m.pendingChanges[i].ID == id {
			m.pendingChanges[i].Resolved = true
			m.pendingChanges[i].Resolution = resolution
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) UpdateRunProgress(_ context.Context, runID string, progress float64, counts model.RunCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressWrites++
	if run, ok := m.runs[runID]; ok {
		run.Progress = progress
		run.Counts = counts
	}
	return nil
}

func (m *memStore) CompleteRun(_ context.Context, runID string, status model.RunStatus, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedRuns[runID] = status
	return nil
}

func (m *memStore) statuses(docID string) []model.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DocumentStatus, len(m.statusHistory[docID]))
	copy(out, m.statusHistory[docID])
	return out
}

func (m *memStore) runStatus(runID string) (model.RunStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.completedRuns[runID]
	return s, ok
}

// fakeContent returns a fixed result, optionally failing every call.
type fakeContent struct {
	mu    sync.Mutex
	calls int
	text  string
	fail  bool
}

func (f *fakeContent) Extract(_ context.Context, _, _ string) (*content.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return &content.Result{OK: false, Error: "unreadable file"}, nil
	}
	return &content.Result{OK: true, Text: f.text, PageCount: 1, WordCount: 100}, nil
}

func (f *fakeContent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFacts emits a fixed candidate list.
type fakeFacts struct {
	candidates []model.CandidateFact
}

func (f *fakeFacts) ExtractFacts(_ context.Context, _ string, _ int, _ string, _ extract.Context) ([]model.CandidateFact, error) {
	return f.candidates, nil
}

// chunkedContent returns a pre-chunked result.
type chunkedContent struct {
	chunks []content.Chunk
	pages  int
}

func (c *chunkedContent) Extract(_ context.Context, _, _ string) (*content.Result, error) {
	return &content.Result{OK: true, Text: "full text", PageCount: c.pages, Chunks: c.chunks}, nil
}

// perChunkFacts returns candidates keyed by the chunk text it was
// handed, recording every call.
type perChunkFacts struct {
	mu      sync.Mutex
	calls   []string
	byInput map[string][]model.CandidateFact
}

func (f *perChunkFacts) ExtractFacts(_ context.Context, text string, _ int, _ string, _ extract.Context) ([]model.CandidateFact, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	return f.byInput[text], nil
}

func testTierConfig() config.TierConfig {
	return config.TierConfig{
		AutoApplyThreshold:  0.9,
		MediumConfidenceMin: 0.7,
		LowRiskDomains:      []string{"organization", "itsm", "endpoints"},
		CriticalDomains:     []string{"security", "identity", "data"},
	}
}

func newTestProcessor(t *testing.T, ms *memStore, ce ContentExtractor, fe FactExtractor) *Processor {
	t.Helper()
	w := writer.New(ms, config.WriterConfig{ProgressIntervalSecs: 2})
	p, err := New(ms, ce, fe, tier.NewClassifier(testTierConfig()), w, config.ProcessorConfig{
		MaxRetries: 3,
		StateDir:   t.TempDir(),
	})
	require.NoError(t, err)
	return p
}

func pendingDoc(id string) model.Document {
	return model.Document{
		ID:       id,
		DealID:   "deal-1",
		Filename: id + ".txt",
		Path:     "/tmp/" + id + ".txt",
		Status:   model.DocumentStatusPending,
	}
}

func TestProcessorAutoApplyFlow(t *testing.T) {
	t.Parallel()

	ms := newMemStore(pendingDoc("doc-1"))
	fc := &fakeContent{text: "fine"}
	ff := &fakeFacts{candidates: []model.CandidateFact{
		{TempID: "c1", Domain: "itsm", Category: "tooling", Entity: model.EntityTarget,
			Item: "ServiceNow is the ticketing platform", Status: model.FactStatusActive, Confidence: 0.95},
	}}
	p := newTestProcessor(t, ms, fc, ff)

	ctx := context.Background()
	p.Start(ctx)
	run, err := p.StartRun(ctx, "deal-1", model.PriorityNormal)
	require.NoError(t, err)
	p.Stop()

	ms.mu.Lock()
	factCount := len(ms.facts)
	ms.mu.Unlock()
	assert.Equal(t, 1, factCount, "auto-apply candidate persisted")

	statuses := ms.statuses("doc-1")
	require.NotEmpty(t, statuses)
	assert.Equal(t, model.DocumentStatusCompleted, statuses[len(statuses)-1])

	status, done := ms.runStatus(run.ID)
	require.True(t, done, "run completed")
	assert.Equal(t, model.RunStatusCompleted, status)
}

func TestProcessorPendingReviewFlow(t *testing.T) {
	t.Parallel()

	ms := newMemStore(pendingDoc("doc-1"))
	fc := &fakeContent{text: "fine"}
	ff := &fakeFacts{candidates: []model.CandidateFact{
		{TempID: "c1", Domain: "security", Category: "endpoint", Entity: model.EntityTarget,
			Item: "CrowdStrike EDR is deployed", Status: model.FactStatusActive, Confidence: 0.95},
	}}
	p := newTestProcessor(t, ms, fc, ff)

	ctx := context.Background()
	p.Start(ctx)
	_, err := p.StartRun(ctx, "deal-1", model.PriorityNormal)
	require.NoError(t, err)
	p.Stop()

	ms.mu.Lock()
	changes := append([]model.PendingChange(nil), ms.pendingChanges...)
	factCount := len(ms.facts)
	ms.mu.Unlock()

	require.Len(t, changes, 1)
	assert.Equal(t, 2, changes[0].Tier)
	assert.Equal(t, "additive", changes[0].ChangeCategory)
	assert.Zero(t, factCount, "nothing auto-applied")

	persisted, err := p.state.loadPending(2)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, changes[0].ID, persisted[0].ID)
}

func TestProcessorRetriesBeforePermanentFailure(t *testing.T) {
	t.Parallel()

	ms := newMemStore(pendingDoc("doc-1"))
	fc := &fakeContent{fail: true}
	p := newTestProcessor(t, ms, fc, &fakeFacts{})

	ctx := context.Background()
	p.Start(ctx)
	run, err := p.StartRun(ctx, "deal-1", model.PriorityNormal)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		statuses := ms.statuses("doc-1")
		return len(statuses) > 0 && statuses[len(statuses)-1] == model.DocumentStatusFailed
	}, 5*time.Second, 10*time.Millisecond, "document should be marked failed")
	p.Stop()

	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, 4, fc.callCount())

	letters, err := p.DeadLetters()
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "doc-1", letters[0].DocumentID)
	assert.Equal(t, 3, letters[0].RetryCount)

	status, done := ms.runStatus(run.ID)
	require.True(t, done)
	assert.Equal(t, model.RunStatusFailed, status)
}

func TestProcessorWritesGapsOnCompletion(t *testing.T) {
	t.Parallel()

	ms := newMemStore(pendingDoc("doc-1"))
	fc := &fakeContent{text: "fine"}
	ff := &fakeFacts{candidates: []model.CandidateFact{
		{TempID: "c1", Domain: "itsm", Entity: model.EntityTarget,
			Item: "Jira is the ticketing platform", Status: model.FactStatusActive, Confidence: 0.95},
	}}
	p := newTestProcessor(t, ms, fc, ff)

	ctx := context.Background()
	p.Start(ctx)
	_, err := p.StartRun(ctx, "deal-1", model.PriorityNormal)
	require.NoError(t, err)
	p.Stop()

	ms.mu.Lock()
	gaps := append([]model.Gap(nil), ms.gaps...)
	ms.mu.Unlock()

	require.NotEmpty(t, gaps)
	domains := map[string]string{}
	for _, g := range gaps {
		domains[g.Domain] = g.Severity
	}
	assert.NotContains(t, domains, "itsm", "covered domain has no gap")
	assert.Equal(t, "high", domains["security"], "critical domains gap at high severity")
}

func TestProcessorDerivesFindings(t *testing.T) {
	t.Parallel()

	ms := newMemStore(pendingDoc("doc-1"))
	fc := &fakeContent{text: "fine"}
	ff := &fakeFacts{candidates: []model.CandidateFact{
		{TempID: "c1", Domain: "endpoints", Category: "management", Entity: model.EntityTarget,
			Item: "Airwatch MDM is deprecated and being phased out", Status: model.FactStatusDeprecated, Confidence: 0.95},
	}}
	p := newTestProcessor(t, ms, fc, ff)

	ctx := context.Background()
	p.Start(ctx)
	_, err := p.StartRun(ctx, "deal-1", model.PriorityNormal)
	require.NoError(t, err)
	p.Stop()

	ms.mu.Lock()
	findings := append([]model.Finding(nil), ms.findings...)
	factCount := len(ms.facts)
	ms.mu.Unlock()

	require.Equal(t, 1, factCount)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingTypeWorkItem, findings[0].FindingType)
	assert.Equal(t, model.SeverityHigh, findings[0].Severity)
	require.Len(t, findings[0].FactIDs, 1)
}

func TestProcessorChunkedExtraction(t *testing.T) {
	t.Parallel()

	ms := newMemStore(pendingDoc("doc-1"))
	fc := &chunkedContent{
		pages: 30,
		chunks: []content.Chunk{
			{Index: 0, Text: "chunk one", StartPage: 1, EndPage: 10},
			{Index: 1, Text: "chunk two", StartPage: 11, EndPage: 20},
			{Index: 2, Text: "chunk three", StartPage: 21, EndPage: 30},
		},
	}
	ff := &perChunkFacts{byInput: map[string][]model.CandidateFact{
		"chunk one": {
			{TempID: "c1", Domain: "itsm", Entity: model.EntityTarget, Item: "ServiceNow is the ticketing platform",
				Status: model.FactStatusActive, Confidence: 0.95, Evidence: &model.Evidence{Quote: "ServiceNow", Page: 2}},
		},
		"chunk two": {
			{TempID: "c2", Domain: "endpoints", Entity: model.EntityTarget, Item: "Jamf manages all macOS devices",
				Status: model.FactStatusActive, Confidence: 0.92, Evidence: &model.Evidence{Quote: "Jamf", Page: 3}},
			// Repeat of the chunk-one item; collapses to the higher confidence.
			{TempID: "c3", Domain: "itsm", Entity: model.EntityTarget, Item: "ServiceNow is the ticketing platform",
				Status: model.FactStatusActive, Confidence: 0.91},
		},
		"chunk three": nil,
	}}
	p := newTestProcessor(t, ms, fc, ff)

	ctx := context.Background()
	p.Start(ctx)
	_, err := p.StartRun(ctx, "deal-1", model.PriorityNormal)
	require.NoError(t, err)
	p.Stop()

	ff.mu.Lock()
	calls := append([]string(nil), ff.calls...)
	ff.mu.Unlock()
	assert.ElementsMatch(t, []string{"chunk one", "chunk two", "chunk three"}, calls,
		"each chunk extracted once")

	ms.mu.Lock()
	facts := make([]model.Fact, 0, len(ms.facts))
	for _, f := range ms.facts {
		facts = append(facts, f)
	}
	ms.mu.Unlock()

	require.Len(t, facts, 2, "cross-chunk duplicate collapsed")
	byItem := map[string]model.Fact{}
	for _, f := range facts {
		byItem[f.Item] = f
	}

	sn := byItem["ServiceNow is the ticketing platform"]
	require.NotNil(t, sn.Evidence)
	assert.Equal(t, 2, sn.Evidence.Page, "first-chunk pages stay document pages")
	assert.InDelta(t, 0.95, sn.Confidence, 0.001, "higher-confidence duplicate wins")

	jamf := byItem["Jamf manages all macOS devices"]
	require.NotNil(t, jamf.Evidence)
	assert.Equal(t, 13, jamf.Evidence.Page, "chunk-local page shifted by the chunk start")
}

func TestProcessorConflictWithVerifiedFact(t *testing.T) {
	t.Parallel()

	ms := newMemStore(pendingDoc("doc-1"))
	ms.similar = &model.Fact{
		ID: "existing-1", DealID: "deal-1", Domain: "itsm",
		Item: "ServiceNow is the ticketing platform", Status: model.FactStatusActive,
		Verified: true,
	}
	fc := &fakeContent{text: "fine"}
	ff := &fakeFacts{candidates: []model.CandidateFact{
		{TempID: "c1", Domain: "itsm", Entity: model.EntityTarget,
			Item: "ServiceNow was retired last quarter", Status: model.FactStatusRetired, Confidence: 0.99},
	}}
	p := newTestProcessor(t, ms, fc, ff)

	ctx := context.Background()
	p.Start(ctx)
	_, err := p.StartRun(ctx, "deal-1", model.PriorityNormal)
	require.NoError(t, err)
	p.Stop()

	ms.mu.Lock()
	changes := append([]model.PendingChange(nil), ms.pendingChanges...)
	ms.mu.Unlock()

	require.Len(t, changes, 1)
	assert.Equal(t, 3, changes[0].Tier, "verified conflict routes to individual review")
	assert.Equal(t, "existing-1", changes[0].ExistingFactID)
}

func TestResolvePending(t *testing.T) {
	t.Parallel()

	ms := newMemStore()
	p := newTestProcessor(t, ms, &fakeContent{}, &fakeFacts{})

	pc := model.PendingChange{
		ID: "pc1", DealID: "deal-1", Tier: 2,
		Candidate: model.CandidateFact{
			TempID: "c1", Domain: "security", Entity: model.EntityTarget,
			Item: "Okta enforces MFA", Status: model.FactStatusActive, Confidence: 0.95,
		},
	}
	ms.pendingChanges = append(ms.pendingChanges, pc)
	require.NoError(t, p.state.appendPending(pc))

	t.Run("apply writes the fact and resolves", func(t *testing.T) {
		require.NoError(t, p.ResolvePending(context.Background(), pc, true))

		ms.mu.Lock()
		factCount := len(ms.facts)
		resolved := ms.pendingChanges[0]
		ms.mu.Unlock()
		assert.Equal(t, 1, factCount)
		assert.True(t, resolved.Resolved)
		assert.Equal(t, "applied", resolved.Resolution)

		remaining, err := p.state.loadPending(2)
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}

func TestResolvePendingBatch(t *testing.T) {
	t.Parallel()

	ms := newMemStore()
	p := newTestProcessor(t, ms, &fakeContent{}, &fakeFacts{})

	pcs := []model.PendingChange{
		{ID: "pc1", DealID: "deal-1", Tier: 2, Candidate: model.CandidateFact{
			TempID: "c1", Domain: "applications", Entity: model.EntityTarget,
			Item: "NetSuite is the ERP", Status: model.FactStatusActive, Confidence: 0.85,
		}},
		{ID: "pc2", DealID: "deal-1", Tier: 2, Candidate: model.CandidateFact{
			TempID: "c2", Domain: "applications", Entity: model.EntityTarget,
			Item: "Workday handles HR", Status: model.FactStatusActive, Confidence: 0.82,
		}},
	}
	for _, pc := range pcs {
		ms.pendingChanges = append(ms.pendingChanges, pc)
		require.NoError(t, p.state.appendPending(pc))
	}

	require.NoError(t, p.ResolvePendingBatch(context.Background(), pcs, true))

	ms.mu.Lock()
	factCount := len(ms.facts)
	bulkWrites := ms.bulkWrites
	allResolved := ms.pendingChanges[0].Resolved && ms.pendingChanges[1].Resolved
	ms.mu.Unlock()

	assert.Equal(t, 2, factCount, "both approved changes landed")
	assert.Equal(t, 1, bulkWrites, "applied facts committed in one bulk upsert")
	assert.True(t, allResolved)

	remaining, err := p.state.loadPending(2)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestResolvePendingBatchReject(t *testing.T) {
	t.Parallel()

	ms := newMemStore()
	p := newTestProcessor(t, ms, &fakeContent{}, &fakeFacts{})

	pc := model.PendingChange{ID: "pc1", DealID: "deal-1", Tier: 3,
		Candidate: model.CandidateFact{Item: "dubious"}}
	ms.pendingChanges = append(ms.pendingChanges, pc)
	require.NoError(t, p.state.appendPending(pc))

	require.NoError(t, p.ResolvePendingBatch(context.Background(), []model.PendingChange{pc}, false))

	ms.mu.Lock()
	factCount := len(ms.facts)
	bulkWrites := ms.bulkWrites
	ms.mu.Unlock()
	assert.Zero(t, factCount)
	assert.Zero(t, bulkWrites, "rejections never open a batch")
}

func TestResolvePendingReject(t *testing.T) {
	t.Parallel()

	ms := newMemStore()
	p := newTestProcessor(t, ms, &fakeContent{}, &fakeFacts{})

	pc := model.PendingChange{ID: "pc2", DealID: "deal-1", Tier: 3,
		Candidate: model.CandidateFact{Item: "questionable"}}
	ms.pendingChanges = append(ms.pendingChanges, pc)
	require.NoError(t, p.state.appendPending(pc))

	require.NoError(t, p.ResolvePending(context.Background(), pc, false))

	ms.mu.Lock()
	factCount := len(ms.facts)
	resolution := ms.pendingChanges[0].Resolution
	ms.mu.Unlock()
	assert.Zero(t, factCount, "rejected change writes nothing")
	assert.Equal(t, "rejected", resolution)
}

func TestShorten(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", shorten("short", 10))

	got := shorten("a long description of the failure", 10)
	assert.True(t, strings.HasSuffix(got, "…"))

	// Cutting inside a multi-byte rune must snap to the rune boundary.
	got = shorten(strings.Repeat("é", 20), 7)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ééé…", got)
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	ms := newMemStore()
	p := newTestProcessor(t, ms, &fakeContent{}, &fakeFacts{})
	p.Start(context.Background())
	p.Stop()

	err := p.Enqueue(pendingDoc("late"), "run-x", model.PriorityNormal)
	assert.Error(t, err)
}

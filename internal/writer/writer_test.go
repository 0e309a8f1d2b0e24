package writer

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// fakeStore embeds the interface so only the methods under test need
// implementations.
type fakeStore struct {
	store.Store

	factErr    error
	facts      []model.Fact
	bulkCalls  int
	gapErr     error
	findingErr error

	progressErr   error
	progressCalls int
}

func (f *fakeStore) UpsertFact(_ context.Context, fact *model.Fact) error {
	if f.factErr != nil {
		return f.factErr
	}
	f.facts = append(f.facts, *fact)
	return nil
}

func (f *fakeStore) UpsertFacts(_ context.Context, facts []model.Fact) error {
	f.bulkCalls++
	if f.factErr != nil {
		return f.factErr
	}
	f.facts = append(f.facts, facts...)
	return nil
}

func (f *fakeStore) UpsertGap(_ context.Context, _ *model.Gap) error {
	return f.gapErr
}

func (f *fakeStore) UpsertFinding(_ context.Context, _ *model.Finding) error {
	return f.findingErr
}

func (f *fakeStore) UpdateRunProgress(_ context.Context, _ string, _ float64, _ model.RunCounts) error {
	if f.progressErr != nil {
		return f.progressErr
	}
	f.progressCalls++
	return nil
}

func TestWriteFact(t *testing.T) {
	t.Parallel()

	t.Run("success returns true", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{}
		w := New(fs, config.WriterConfig{})
		ok := w.WriteFact(context.Background(), &model.Fact{ID: "f1", DealID: "d1"})
		assert.True(t, ok)
		assert.Len(t, fs.facts, 1)
		assert.Zero(t, w.ErrorCount())
	})

	t.Run("failure returns false and counts", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{factErr: eris.New("boom")}
		w := New(fs, config.WriterConfig{})
		assert.False(t, w.WriteFact(context.Background(), &model.Fact{ID: "f1"}))
		assert.Equal(t, 1, w.ErrorCount())
	})

	t.Run("gap and finding failures count", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{gapErr: eris.New("gap"), findingErr: eris.New("finding")}
		w := New(fs, config.WriterConfig{})
		assert.False(t, w.WriteGap(context.Background(), &model.Gap{ID: "g1"}))
		assert.False(t, w.WriteFinding(context.Background(), &model.Finding{ID: "fi1"}))
		assert.Equal(t, 2, w.ErrorCount())

		w.ResetErrors()
		assert.Zero(t, w.ErrorCount())
	})
}

func TestBatchMode(t *testing.T) {
	t.Parallel()

	t.Run("writes defer until flush", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{}
		w := New(fs, config.WriterConfig{})

		w.BeginBatch()
		assert.True(t, w.WriteFact(context.Background(), &model.Fact{ID: "f1"}))
		assert.True(t, w.WriteFact(context.Background(), &model.Fact{ID: "f2"}))
		assert.Empty(t, fs.facts, "nothing committed before flush")

		require.True(t, w.Flush(context.Background()))
		assert.Len(t, fs.facts, 2)
		assert.Equal(t, 1, fs.bulkCalls)
	})

	t.Run("flush after failure returns false once", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{factErr: eris.New("down")}
		w := New(fs, config.WriterConfig{})
		w.BeginBatch()
		w.WriteFact(context.Background(), &model.Fact{ID: "f1"})
		assert.False(t, w.Flush(context.Background()))
		assert.Equal(t, 1, w.ErrorCount())
	})

	t.Run("empty flush is a no-op", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{}
		w := New(fs, config.WriterConfig{})
		w.BeginBatch()
		assert.True(t, w.Flush(context.Background()))
		assert.Zero(t, fs.bulkCalls)
	})

	t.Run("writes resume immediate mode after flush", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{}
		w := New(fs, config.WriterConfig{})
		w.BeginBatch()
		require.True(t, w.Flush(context.Background()))
		assert.True(t, w.WriteFact(context.Background(), &model.Fact{ID: "f1"}))
		assert.Len(t, fs.facts, 1)
	})
}

func TestUpdateProgressThrottle(t *testing.T) {
	t.Parallel()

	t.Run("second write within window suppressed", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{}
		w := New(fs, config.WriterConfig{ProgressIntervalSecs: 2})

		assert.True(t, w.UpdateProgress(context.Background(), "r1", 0.1, model.RunCounts{}, false))
		assert.False(t, w.UpdateProgress(context.Background(), "r1", 0.2, model.RunCounts{}, false))
		assert.Equal(t, 1, fs.progressCalls)
	})

	t.Run("force bypasses throttle", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{}
		w := New(fs, config.WriterConfig{ProgressIntervalSecs: 2})

		assert.True(t, w.UpdateProgress(context.Background(), "r1", 0.5, model.RunCounts{}, false))
		assert.True(t, w.UpdateProgress(context.Background(), "r1", 1.0, model.RunCounts{}, true))
		assert.Equal(t, 2, fs.progressCalls)
	})

	t.Run("writes allowed after window elapses", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{}
		w := New(fs, config.WriterConfig{})
		w.progressInterval = 10 * time.Millisecond

		assert.True(t, w.UpdateProgress(context.Background(), "r1", 0.1, model.RunCounts{}, false))
		time.Sleep(20 * time.Millisecond)
		assert.True(t, w.UpdateProgress(context.Background(), "r1", 0.2, model.RunCounts{}, false))
	})

	t.Run("store failure returns false", func(t *testing.T) {
		t.Parallel()
		fs := &fakeStore{progressErr: eris.New("down")}
		w := New(fs, config.WriterConfig{})
		assert.False(t, w.UpdateProgress(context.Background(), "r1", 0.1, model.RunCounts{}, true))
		assert.Equal(t, 1, w.ErrorCount())
	})
}

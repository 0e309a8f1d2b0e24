// Package diffrun compares the fact set of a deal across two analysis
// runs. Facts carry the run that last wrote them, so added and changed
// buckets are scoped by run_id: later runs and manual edits never bleed
// into an older diff.
package diffrun

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// Result buckets a deal's facts by what the target run did to them.
type Result struct {
	BaseRunID   string       `json:"base_run_id"`
	TargetRunID string       `json:"target_run_id"`
	Added       []model.Fact `json:"added"`
	Changed     []model.Fact `json:"changed"`
	Removed     []model.Fact `json:"removed"`
}

// Diff computes added, changed, and removed facts between a base run and
// a later target run. The target run must not predate the base run.
func Diff(ctx context.Context, st store.Store, dealID, baseRunID, targetRunID string) (*Result, error) {
	base, err := st.GetRun(ctx, baseRunID)
	if err != nil {
		return nil, eris.Wrapf(err, "diffrun: load base run %s", baseRunID)
	}
	target, err := st.GetRun(ctx, targetRunID)
	if err != nil {
		return nil, eris.Wrapf(err, "diffrun: load target run %s", targetRunID)
	}
	if base.DealID != dealID || target.DealID != dealID {
		return nil, eris.Errorf("diffrun: runs do not belong to deal %s", dealID)
	}
	if target.StartedAt.Before(base.StartedAt) {
		return nil, eris.Errorf("diffrun: target run %s predates base run %s", targetRunID, baseRunID)
	}

	facts, err := st.ListFacts(ctx, store.FactFilter{DealID: dealID, IncludeDeleted: true})
	if err != nil {
		return nil, eris.Wrap(err, "diffrun: list facts")
	}

	res := &Result{BaseRunID: baseRunID, TargetRunID: targetRunID}
	for _, f := range facts {
		switch {
		case f.DeletedAt != nil:
			if withinRun(*f.DeletedAt, target) {
				res.Removed = append(res.Removed, f)
			}
		case f.RunID != targetRunID:
			// Last written by another run; not part of this diff.
		case f.CreatedAt.Before(target.StartedAt):
			// Existed before the target run and was rewritten by it.
			res.Changed = append(res.Changed, f)
		default:
			res.Added = append(res.Added, f)
		}
	}

	for _, set := range [][]model.Fact{res.Added, res.Changed, res.Removed} {
		sort.Slice(set, func(i, j int) bool {
			if set[i].Domain != set[j].Domain {
				return set[i].Domain < set[j].Domain
			}
			return set[i].Item < set[j].Item
		})
	}
	return res, nil
}

// withinRun reports whether t falls inside the run's execution window.
// Soft deletes carry no run stamp, so removal is bounded by the run's
// start and, when finished, its completion time.
func withinRun(t time.Time, run *model.AnalysisRun) bool {
	if t.Before(run.StartedAt) {
		return false
	}
	return run.CompletedAt == nil || !t.After(*run.CompletedAt)
}

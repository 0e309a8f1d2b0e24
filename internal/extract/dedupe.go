package extract

import (
	"github.com/sells-group/diligence-cli/internal/match"
	"github.com/sells-group/diligence-cli/internal/model"
)

// dedupe collapses near-identical candidates, keeping the one with the
// higher confidence. Comparison is quadratic but extraction passes top
// out at a few hundred candidates per document.
func dedupe(candidates []model.CandidateFact, minSimilarity float64) []model.CandidateFact {
	if minSimilarity <= 0 {
		minSimilarity = 0.85
	}

	var kept []model.CandidateFact
	for _, c := range candidates {
		replaced := false
		dup := false
		for i := range kept {
			if kept[i].Domain != c.Domain {
				continue
			}
			if match.Similarity(kept[i].Item, c.Item) < minSimilarity {
				continue
			}
			dup = true
			if c.Confidence > kept[i].Confidence {
				kept[i] = c
				replaced = true
			}
			break
		}
		if !dup && !replaced {
			kept = append(kept, c)
		}
	}
	return kept
}

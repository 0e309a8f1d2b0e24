package extract

import "github.com/sells-group/diligence-cli/internal/model"

// Confidence weights. The score starts at a base and accumulates for
// evidence presence, detail richness, and status clarity; near-duplicates
// within the same extraction pass take a penalty.
const (
	confidenceBase    = 0.5
	evidenceBonus     = 0.2
	detailBonus       = 0.05 // per detail key, capped
	detailBonusCap    = 0.15
	statusBonus       = 0.1
	domainSignalBonus = 0.05
	duplicatePenalty  = 0.15
)

// scoreConfidence computes a candidate's confidence from its parts.
// The result is always clamped to [0, 1].
func scoreConfidence(c *model.CandidateFact, domainScore float64, isNearDuplicate bool) float64 {
	score := confidenceBase

	if c.Evidence != nil && c.Evidence.Quote != "" {
		score += evidenceBonus
	}

	detail := float64(len(c.Details)) * detailBonus
	if detail > detailBonusCap {
		detail = detailBonusCap
	}
	score += detail

	if c.Status != model.FactStatusUnknown && c.Status != "" {
		score += statusBonus
	}

	if domainScore > 0 && c.Domain != "unknown" {
		score += domainSignalBonus
	}

	if isNearDuplicate {
		score -= duplicatePenalty
	}

	return model.ClampConfidence(score)
}

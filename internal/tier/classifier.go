// Package tier routes candidate facts into review tiers: auto-apply,
// batch review, or individual review.
package tier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/model"
)

// Tier is the review level assigned to a candidate change.
type Tier int

const (
	TierAutoApply        Tier = 1
	TierBatchReview      Tier = 2
	TierIndividualReview Tier = 3
)

// String returns the tier's display name.
func (t Tier) String() string {
	switch t {
	case TierAutoApply:
		return "auto_apply"
	case TierBatchReview:
		return "batch_review"
	case TierIndividualReview:
		return "individual_review"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ChangeCategory describes how a candidate relates to the existing facts.
type ChangeCategory string

const (
	CategoryAdditive      ChangeCategory = "additive"
	CategoryCorrective    ChangeCategory = "corrective"
	CategoryContradictory ChangeCategory = "contradictory"
	CategoryRemoval       ChangeCategory = "removal"
)

// Input is one candidate with its existing-fact context. Existing is nil
// for a net-new fact. Conflict is set by the caller when the candidate
// contradicts Existing (status or detail disagreement on the same item).
type Input struct {
	Candidate model.CandidateFact
	Existing  *model.Fact
	Conflict  bool
}

// Decision is a classification outcome. Classification never fails: every
// candidate gets a tier, a category, and at least one reason.
type Decision struct {
	Tier      Tier
	Category  ChangeCategory
	AutoApply bool
	Reasons   []string
	RiskScore float64
}

// riskKeywords flag language that affects deal risk regardless of the
// candidate's confidence.
var riskKeywords = []string{
	"breach",
	"ransomware",
	"critical vulnerability",
	"unencrypted",
	"unsupported",
	"out of support",
	"end-of-life",
	"eol",
	"no backup",
	"no backups",
	"no disaster recovery",
	"single point of failure",
	"data loss",
	"outage",
	"lawsuit",
	"litigation",
	"non-compliance",
	"noncompliant",
	"audit finding",
}

// Classifier applies the review-tier rules. Rule order is fixed; the
// first rule that fires decides the tier.
type Classifier struct {
	cfg      config.TierConfig
	risk     *regexp.Regexp
	lowRisk  map[string]bool
	critical map[string]bool
}

// NewClassifier builds a classifier from config. Domain sets are matched
// case-insensitively.
func NewClassifier(cfg config.TierConfig) *Classifier {
	escaped := make([]string, len(riskKeywords))
	for i, k := range riskKeywords {
		escaped[i] = regexp.QuoteMeta(k)
	}
	return &Classifier{
		cfg:      cfg,
		risk:     regexp.MustCompile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`),
		lowRisk:  toSet(cfg.LowRiskDomains),
		critical: toSet(cfg.CriticalDomains),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[strings.ToLower(s)] = true
	}
	return set
}

// Classify assigns a review tier to one candidate change.
func (c *Classifier) Classify(in Input) Decision {
	cand := in.Candidate
	category := c.categorize(in)

	d := Decision{
		Tier:     TierAutoApply,
		Category: category,
		Reasons:  []string{},
	}

	switch {
	case in.Conflict && in.Existing != nil && in.Existing.Verified:
		d.Tier = TierIndividualReview
		d.Reasons = append(d.Reasons, "conflicts with a verified fact")

	case c.hasRiskKeyword(cand):
		d.Tier = TierIndividualReview
		d.Reasons = append(d.Reasons, "risk-impacting language: "+c.riskMatches(cand))

	case category == CategoryAdditive && c.critical[strings.ToLower(cand.Domain)]:
		d.Tier = TierBatchReview
		d.Reasons = append(d.Reasons, "new fact in critical domain "+cand.Domain)

	case cand.Confidence >= c.cfg.MediumConfidenceMin && cand.Confidence < c.cfg.AutoApplyThreshold:
		d.Tier = TierBatchReview
		d.Reasons = append(d.Reasons, fmt.Sprintf("medium confidence %.2f", cand.Confidence))

	case in.Existing != nil && !in.Existing.Verified && significantChange(cand, in.Existing):
		d.Tier = TierBatchReview
		d.Reasons = append(d.Reasons, "significant change to unverified fact")

	default:
		d.Reasons = append(d.Reasons, "routine change")
	}

	d.AutoApply = d.Tier == TierAutoApply &&
		cand.Confidence >= c.cfg.AutoApplyThreshold &&
		category == CategoryAdditive &&
		c.lowRisk[strings.ToLower(cand.Domain)]
	if d.Tier == TierAutoApply && !d.AutoApply {
		// Eligible tier but failed an auto-apply gate; hold for batch
		// review rather than silently applying.
		d.Tier = TierBatchReview
		d.Reasons = append(d.Reasons, autoApplyGateReason(cand, category, c))
	}

	d.RiskScore = c.riskScore(d, cand)
	return d
}

// categorize derives the change category from the existing-fact context.
func (c *Classifier) categorize(in Input) ChangeCategory {
	if in.Existing == nil {
		return CategoryAdditive
	}
	if in.Candidate.Status == model.FactStatusRetired && in.Existing.Status != model.FactStatusRetired {
		return CategoryRemoval
	}
	if in.Conflict {
		return CategoryContradictory
	}
	return CategoryCorrective
}

func (c *Classifier) hasRiskKeyword(cand model.CandidateFact) bool {
	if c.risk.MatchString(cand.Item) {
		return true
	}
	return cand.Evidence != nil && c.risk.MatchString(cand.Evidence.Quote)
}

func (c *Classifier) riskMatches(cand model.CandidateFact) string {
	if m := c.risk.FindString(cand.Item); m != "" {
		return strings.ToLower(m)
	}
	if cand.Evidence != nil {
		return strings.ToLower(c.risk.FindString(cand.Evidence.Quote))
	}
	return ""
}

// significantChange reports whether applying cand would materially alter
// existing: a status transition or a changed detail value.
func significantChange(cand model.CandidateFact, existing *model.Fact) bool {
	if cand.Status != model.FactStatusUnknown && cand.Status != existing.Status {
		return true
	}
	for k, v := range cand.Details {
		ev, ok := existing.Details[k]
		if ok && fmt.Sprint(ev) != fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func autoApplyGateReason(cand model.CandidateFact, category ChangeCategory, c *Classifier) string {
	switch {
	case cand.Confidence < c.cfg.AutoApplyThreshold:
		return fmt.Sprintf("confidence %.2f below auto-apply threshold", cand.Confidence)
	case category != CategoryAdditive:
		return "non-additive change"
	default:
		return "domain " + cand.Domain + " not in low-risk set"
	}
}

// riskScore folds tier, domain, and keyword signals into [0, 1] for
// review-queue ordering.
func (c *Classifier) riskScore(d Decision, cand model.CandidateFact) float64 {
	var score float64
	switch d.Tier {
	case TierIndividualReview:
		score = 0.8
	case TierBatchReview:
		score = 0.5
	default:
		score = 0.1
	}
	if c.critical[strings.ToLower(cand.Domain)] {
		score += 0.1
	}
	if c.hasRiskKeyword(cand) {
		score += 0.1
	}
	return model.ClampConfidence(score)
}

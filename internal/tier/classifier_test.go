package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/model"
)

func testClassifier() *Classifier {
	return NewClassifier(config.TierConfig{
		AutoApplyThreshold:  0.9,
		MediumConfidenceMin: 0.7,
		LowRiskDomains:      []string{"organization", "itsm", "endpoints"},
		CriticalDomains:     []string{"security", "identity", "data"},
	})
}

func TestClassifyVerifiedConflict(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	existing := &model.Fact{
		ID:       "f1",
		Domain:   "itsm",
		Item:     "ServiceNow handles all tickets",
		Status:   model.FactStatusActive,
		Verified: true,
	}

	t.Run("always individual review regardless of confidence", func(t *testing.T) {
		t.Parallel()
		for _, conf := range []float64{0.1, 0.75, 0.95, 1.0} {
			d := c.Classify(Input{
				Candidate: model.CandidateFact{Domain: "itsm", Item: "Jira handles all tickets", Confidence: conf},
				Existing:  existing,
				Conflict:  true,
			})
			assert.Equal(t, TierIndividualReview, d.Tier, "confidence %.2f", conf)
			assert.False(t, d.AutoApply)
			assert.Equal(t, CategoryContradictory, d.Category)
		}
	})

	t.Run("conflict with unverified fact is not tier 3", func(t *testing.T) {
		t.Parallel()
		unverified := *existing
		unverified.Verified = false
		d := c.Classify(Input{
			Candidate: model.CandidateFact{Domain: "itsm", Item: "Jira handles all tickets", Confidence: 0.95},
			Existing:  &unverified,
			Conflict:  true,
		})
		assert.NotEqual(t, TierIndividualReview, d.Tier)
	})
}

func TestClassifyRiskKeyword(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	t.Run("item text", func(t *testing.T) {
		t.Parallel()
		d := c.Classify(Input{
			Candidate: model.CandidateFact{
				Domain:     "infrastructure",
				Item:       "The file server suffered a ransomware outage in 2023",
				Confidence: 0.95,
			},
		})
		assert.Equal(t, TierIndividualReview, d.Tier)
		assert.False(t, d.AutoApply)
		require.NotEmpty(t, d.Reasons)
		assert.Contains(t, d.Reasons[0], "risk-impacting")
	})

	t.Run("evidence quote", func(t *testing.T) {
		t.Parallel()
		d := c.Classify(Input{
			Candidate: model.CandidateFact{
				Domain:     "data",
				Item:       "Nightly jobs copy the warehouse",
				Evidence:   &model.Evidence{Quote: "there is no disaster recovery plan for the warehouse"},
				Confidence: 0.8,
			},
		})
		assert.Equal(t, TierIndividualReview, d.Tier)
	})
}

func TestClassifyCriticalDomain(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	t.Run("new fact in critical domain is batch review", func(t *testing.T) {
		t.Parallel()
		d := c.Classify(Input{
			Candidate: model.CandidateFact{Domain: "security", Item: "Okta enforces MFA for all staff", Confidence: 0.95},
		})
		assert.Equal(t, TierBatchReview, d.Tier)
		assert.Equal(t, CategoryAdditive, d.Category)
		assert.False(t, d.AutoApply)
	})

	t.Run("update in critical domain skips the rule", func(t *testing.T) {
		t.Parallel()
		existing := &model.Fact{ID: "f1", Domain: "security", Item: "Okta enforces MFA", Status: model.FactStatusActive}
		d := c.Classify(Input{
			Candidate: model.CandidateFact{Domain: "security", Item: "Okta enforces MFA for all staff", Status: model.FactStatusActive, Confidence: 0.95},
			Existing:  existing,
		})
		assert.NotEqual(t, TierIndividualReview, d.Tier)
		assert.Equal(t, CategoryCorrective, d.Category)
	})
}

func TestClassifyMediumConfidence(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	d := c.Classify(Input{
		Candidate: model.CandidateFact{Domain: "organization", Item: "IT headcount is 25 FTE", Confidence: 0.8},
	})
	assert.Equal(t, TierBatchReview, d.Tier)
	assert.False(t, d.AutoApply)
	require.NotEmpty(t, d.Reasons)
	assert.Contains(t, d.Reasons[0], "medium confidence")
}

func TestClassifySignificantChange(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	existing := &model.Fact{
		ID:       "f1",
		Domain:   "applications",
		Item:     "SAP ECC runs finance",
		Status:   model.FactStatusActive,
		Details:  map[string]any{"version": "6.0"},
		Verified: false,
	}

	t.Run("status transition", func(t *testing.T) {
		t.Parallel()
		d := c.Classify(Input{
			Candidate: model.CandidateFact{Domain: "applications", Item: "SAP ECC runs finance", Status: model.FactStatusDeprecated, Confidence: 0.95},
			Existing:  existing,
		})
		assert.Equal(t, TierBatchReview, d.Tier)
	})

	t.Run("changed detail value", func(t *testing.T) {
		t.Parallel()
		d := c.Classify(Input{
			Candidate: model.CandidateFact{
				Domain: "applications", Item: "SAP ECC runs finance",
				Status:     model.FactStatusActive,
				Details:    map[string]any{"version": "7.5"},
				Confidence: 0.95,
			},
			Existing: existing,
		})
		assert.Equal(t, TierBatchReview, d.Tier)
	})

	t.Run("same status and details is routine", func(t *testing.T) {
		t.Parallel()
		d := c.Classify(Input{
			Candidate: model.CandidateFact{
				Domain: "applications", Item: "SAP ECC runs finance",
				Status:     model.FactStatusActive,
				Details:    map[string]any{"version": "6.0"},
				Confidence: 0.95,
			},
			Existing: existing,
		})
		// Corrective changes never auto-apply but stay out of tier 3.
		assert.Equal(t, TierBatchReview, d.Tier)
		assert.False(t, d.AutoApply)
	})
}

func TestAutoApplyGate(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	base := model.CandidateFact{Domain: "itsm", Item: "ServiceNow is the ticketing platform", Confidence: 0.95}

	t.Run("all conditions met", func(t *testing.T) {
		t.Parallel()
		d := c.Classify(Input{Candidate: base})
		assert.Equal(t, TierAutoApply, d.Tier)
		assert.True(t, d.AutoApply)
	})

	t.Run("confidence below threshold disqualifies", func(t *testing.T) {
		t.Parallel()
		cand := base
		cand.Confidence = 0.89
		d := c.Classify(Input{Candidate: cand})
		assert.False(t, d.AutoApply)
		assert.NotEqual(t, TierAutoApply, d.Tier)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		t.Parallel()
		cand := base
		cand.Confidence = 0.9
		d := c.Classify(Input{Candidate: cand})
		assert.True(t, d.AutoApply)
	})

	t.Run("non-low-risk domain disqualifies", func(t *testing.T) {
		t.Parallel()
		cand := base
		cand.Domain = "network"
		d := c.Classify(Input{Candidate: cand})
		assert.False(t, d.AutoApply)
		assert.Equal(t, TierBatchReview, d.Tier)
	})

	t.Run("non-additive disqualifies", func(t *testing.T) {
		t.Parallel()
		existing := &model.Fact{ID: "f1", Domain: "itsm", Item: base.Item, Status: model.FactStatusActive}
		d := c.Classify(Input{Candidate: base, Existing: existing})
		assert.False(t, d.AutoApply)
	})

	t.Run("low confidence lands in batch review", func(t *testing.T) {
		t.Parallel()
		cand := base
		cand.Confidence = 0.3
		d := c.Classify(Input{Candidate: cand})
		assert.Equal(t, TierBatchReview, d.Tier)
		assert.False(t, d.AutoApply)
	})
}

func TestCategorize(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	existing := &model.Fact{ID: "f1", Domain: "cloud", Item: "AWS hosts production", Status: model.FactStatusActive}

	tests := []struct {
		name string
		in   Input
		want ChangeCategory
	}{
		{"no existing fact", Input{Candidate: model.CandidateFact{Item: "new"}}, CategoryAdditive},
		{"retirement of active fact", Input{
			Candidate: model.CandidateFact{Item: "AWS decommissioned", Status: model.FactStatusRetired},
			Existing:  existing,
		}, CategoryRemoval},
		{"conflicting", Input{
			Candidate: model.CandidateFact{Item: "Azure hosts production", Status: model.FactStatusActive},
			Existing:  existing,
			Conflict:  true,
		}, CategoryContradictory},
		{"plain update", Input{
			Candidate: model.CandidateFact{Item: "AWS hosts production and staging", Status: model.FactStatusActive},
			Existing:  existing,
		}, CategoryCorrective},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, c.categorize(tc.in))
		})
	}
}

func TestRiskScoreBounds(t *testing.T) {
	t.Parallel()
	c := testClassifier()

	d := c.Classify(Input{
		Candidate: model.CandidateFact{
			Domain:     "security",
			Item:       "A breach caused data loss and an outage",
			Confidence: 0.2,
		},
	})
	assert.GreaterOrEqual(t, d.RiskScore, 0.0)
	assert.LessOrEqual(t, d.RiskScore, 1.0)
	assert.Equal(t, TierIndividualReview, d.Tier)
}

func TestTierString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "auto_apply", TierAutoApply.String())
	assert.Equal(t, "batch_review", TierBatchReview.String())
	assert.Equal(t, "individual_review", TierIndividualReview.String())
}

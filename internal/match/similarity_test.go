package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and strips punctuation", "VMware vSphere (Production)", "vmware vsphere production"},
		{"keeps version dots", "Upgraded to v2.1.3!", "upgraded to v2.1.3"},
		{"collapses whitespace", "  SQL   Server\t2019 ", "sql server 2019"},
		{"unicode letters survive", "Café Núcleo", "café núcleo"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestTokens_DropsStopwords(t *testing.T) {
	t.Parallel()

	got := Tokens("The migration of the servers to AWS")
	assert.Equal(t, map[string]bool{"migration": true, "servers": true, "aws": true}, got)
}

func TestTokens_TrimsTrailingDots(t *testing.T) {
	t.Parallel()

	got := Tokens("Running vSphere 7.0.3.")
	assert.True(t, got["7.0.3"], "version token should keep interior dots but lose the sentence dot: %v", got)
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	t.Run("identical strings score 1", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1.0, Similarity("VMware vSphere cluster", "VMware vSphere cluster"))
	})

	t.Run("disjoint strings score 0", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0.0, Similarity("Okta SSO", "PostgreSQL replication"))
	})

	t.Run("partial overlap", func(t *testing.T) {
		t.Parallel()
		// tokens: {vmware vsphere 7} vs {vmware vsphere 8}: 2/4.
		assert.InDelta(t, 0.5, Similarity("VMware vSphere 7", "VMware vSphere 8"), 1e-9)
	})

	t.Run("stopwords do not inflate similarity", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0.0, Similarity("the server in the rack", "the printer on the desk"))
	})

	t.Run("both empty score 1", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1.0, Similarity("", ""))
	})

	t.Run("one empty scores 0", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0.0, Similarity("backup policy", ""))
	})
}

package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

func fb(reviewer string, approved bool, score float64, issues ...string) core.ReviewFeedback {
	return core.ReviewFeedback{
		ReviewerID:     reviewer,
		Approved:       approved,
		Score:          score,
		BlockingIssues: issues,
	}
}

func TestResolveAuthorityVeto(t *testing.T) {
	r := NewResolver(Weights{}, nil)

	t.Run("security keyword from first reviewer vetoes", func(t *testing.T) {
		res := r.Resolve(
			fb("reviewer-security", false, 9.0, "SQL injection in login handler"),
			fb("reviewer-quality", true, 9.5),
		)
		require.False(t, res.Approved)
		assert.Equal(t, core.ActionReject, res.Action)
		assert.Zero(t, res.FinalScore)
		assert.Contains(t, res.DecisionReason, "Authority Veto")
		assert.Contains(t, res.DecisionReason, "reviewer-security")
	})

	t.Run("quality keyword from second reviewer vetoes", func(t *testing.T) {
		res := r.Resolve(
			fb("reviewer-security", true, 9.0),
			fb("reviewer-quality", false, 8.0, "race condition in session manager"),
		)
		require.False(t, res.Approved)
		assert.Contains(t, res.DecisionReason, "race condition")
	})

	t.Run("keyword outside authority domain does not veto", func(t *testing.T) {
		// Only the second reviewer is authoritative for race conditions.
		res := r.Resolve(
			fb("reviewer-security", false, 8.0, "possible race condition"),
			fb("reviewer-quality", true, 9.0),
		)
		assert.NotContains(t, res.DecisionReason, "Authority Veto")
	})

	t.Run("process gap never vetoes", func(t *testing.T) {
		res := r.Resolve(
			fb("reviewer-security", true, 8.0, "threat model for injection not documented"),
			fb("reviewer-quality", true, 9.0),
		)
		assert.True(t, res.Approved)
		assert.Equal(t, core.ActionApprove, res.Action)
	})

	t.Run("veto reason is stable when several keywords match", func(t *testing.T) {
		// The first matching authority rule decides, every run.
		for i := 0; i < 10; i++ {
			res := r.Resolve(
				fb("reviewer-security", false, 9.0, "SQL injection enables stored XSS"),
				fb("reviewer-quality", true, 9.5),
			)
			require.False(t, res.Approved)
			assert.Equal(t, "Authority Veto: reviewer-security flagged injection", res.DecisionReason)
		}
	})
}

func TestResolveBlockingIssues(t *testing.T) {
	r := NewResolver(Weights{}, nil)

	res := r.Resolve(
		fb("a", false, 8.0, "test asserts wrong value"),
		fb("b", true, 9.0),
	)
	require.False(t, res.Approved)
	assert.Equal(t, core.ActionReject, res.Action)
	assert.Equal(t, "Blocking issues present", res.DecisionReason)
	assert.Equal(t, []string{"test asserts wrong value"}, res.BlockingIssues)
}

func TestResolveHighDisagreement(t *testing.T) {
	r := NewResolver(Weights{}, nil)

	res := r.Resolve(fb("a", true, 9.5), fb("b", false, 4.0))
	require.False(t, res.Approved)
	assert.Equal(t, core.ActionEscalate, res.Action)
	assert.Contains(t, res.DecisionReason, "High disagreement")
}

func TestResolveWeightedThreshold(t *testing.T) {
	r := NewResolver(Weights{}, nil)

	t.Run("below floor rejects", func(t *testing.T) {
		res := r.Resolve(fb("a", true, 6.0), fb("b", true, 4.0))
		// 6.0*0.6 + 4.0*0.4 = 5.2 < 6.0
		require.False(t, res.Approved)
		assert.Equal(t, core.ActionReject, res.Action)
		assert.InDelta(t, 5.2, res.FinalScore, 0.001)
	})

	t.Run("at or above floor approves", func(t *testing.T) {
		res := r.Resolve(fb("a", true, 8.0), fb("b", true, 7.0))
		// 8.0*0.6 + 7.0*0.4 = 7.6
		require.True(t, res.Approved)
		assert.Equal(t, core.ActionApprove, res.Action)
		assert.InDelta(t, 7.6, res.FinalScore, 0.001)
	})
}

func TestResolveWeightNormalisation(t *testing.T) {
	// Unnormalised weights behave the same as their normalised form.
	r := NewResolver(Weights{A: 3, B: 2}, nil)
	res := r.Resolve(fb("a", true, 8.0), fb("b", true, 7.0))
	assert.InDelta(t, 7.6, res.FinalScore, 0.001)
}

func TestPartitionIssues(t *testing.T) {
	real, gaps := partitionIssues([]string{
		"buffer overflow on parse",
		"rate limiting not specified",
		"consider adding docs",
	})
	assert.Equal(t, []string{"buffer overflow on parse"}, real)
	assert.Len(t, gaps, 2)
}

package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// CompositeVerifier wraps a list of verifiers under a pass policy.
type CompositeVerifier struct {
	verifiers  []Verifier
	requireAll bool
}

// NewCompositeVerifier creates a composite. With requireAll, every child
// must pass; otherwise one passing child suffices.
func NewCompositeVerifier(verifiers []Verifier, requireAll bool) *CompositeVerifier {
	return &CompositeVerifier{verifiers: verifiers, requireAll: requireAll}
}

// Kind returns the verifier kind.
func (v *CompositeVerifier) Kind() core.VerifierKind { return core.VerifierComposite }

// Verify runs every child and folds results under the policy.
func (v *CompositeVerifier) Verify(ctx context.Context, vctx Context) (*core.VerificationResult, error) {
	if len(v.verifiers) == 0 {
		return &core.VerificationResult{
			Passed:  true,
			Kind:    core.VerifierComposite,
			Summary: "no verifiers configured",
		}, nil
	}

	var summaries []string
	var failures, warnings []string
	passedCount := 0
	result := &core.VerificationResult{Kind: core.VerifierComposite}

	for _, child := range v.verifiers {
		r, err := child.Verify(ctx, vctx)
		if err != nil {
			return nil, err
		}
		result.Duration += r.Duration
		summaries = append(summaries, fmt.Sprintf("%s: %s", r.Kind, r.Summary))
		failures = append(failures, r.Failures...)
		warnings = append(warnings, r.Warnings...)
		if r.Passed {
			passedCount++
		}
	}

	if v.requireAll {
		result.Passed = passedCount == len(v.verifiers)
	} else {
		result.Passed = passedCount > 0
	}
	result.Summary = strings.Join(summaries, "; ")
	result.Failures = failures
	result.Warnings = warnings
	return result, nil
}

// NoneVerifier always passes.
type NoneVerifier struct{}

// Kind returns the verifier kind.
func (NoneVerifier) Kind() core.VerifierKind { return core.VerifierNone }

// Verify trivially passes.
func (NoneVerifier) Verify(_ context.Context, _ Context) (*core.VerificationResult, error) {
	return &core.VerificationResult{
		Passed:  true,
		Kind:    core.VerifierNone,
		Summary: "verification disabled",
	}, nil
}

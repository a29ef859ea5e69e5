package verify

import (
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// NewVerifier constructs a verifier of the given kind.
func NewVerifier(kind core.VerifierKind, projectDir string, timeout time.Duration) (Verifier, error) {
	switch kind {
	case core.VerifierTests:
		return NewTestVerifier(projectDir, timeout), nil
	case core.VerifierLint:
		return NewLintVerifier(projectDir, timeout), nil
	case core.VerifierSecurity:
		return NewSecurityVerifier(projectDir, timeout), nil
	case core.VerifierNone:
		return NoneVerifier{}, nil
	case core.VerifierComposite:
		return NewDefaultComposite(projectDir, CompositeOptions{
			IncludeTests: true,
			IncludeLint:  true,
			RequireAll:   true,
			Timeout:      timeout,
		}), nil
	default:
		return nil, core.ErrValidation("UNKNOWN_VERIFIER",
			fmt.Sprintf("unknown verifier kind %q", kind))
	}
}

// CompositeOptions selects which defaults a composite includes.
type CompositeOptions struct {
	IncludeTests    bool
	IncludeLint     bool
	IncludeSecurity bool
	RequireAll      bool
	Timeout         time.Duration
}

// NewDefaultComposite builds the standard composite for a project.
func NewDefaultComposite(projectDir string, opts CompositeOptions) *CompositeVerifier {
	var children []Verifier
	if opts.IncludeTests {
		children = append(children, NewTestVerifier(projectDir, opts.Timeout))
	}
	if opts.IncludeLint {
		children = append(children, NewLintVerifier(projectDir, opts.Timeout))
	}
	if opts.IncludeSecurity {
		children = append(children, NewSecurityVerifier(projectDir, opts.Timeout))
	}
	return NewCompositeVerifier(children, opts.RequireAll)
}

// Package review resolves conflicting reviewer verdicts and drives the
// execute/review/retry cycle for review-gated tasks.
package review

import (
	"fmt"
	"math"
	"strings"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// Resolver thresholds.
const (
	disagreementThreshold = 3.0
	approvalFloor         = 6.0
)

// domainRule binds a blocking-issue keyword to the reviewer index
// (0 = first input, 1 = second) whose verdict is authoritative for that
// domain. Security-shaped issues defer to the first reviewer.
type domainRule struct {
	keyword   string
	authority int
}

// domainAuthority is ordered: the first matching rule decides, so the
// veto reason is stable across runs.
var domainAuthority = []domainRule{
	{"injection", 0},
	{"xss", 0},
	{"csrf", 0},
	{"privilege escalation", 0},
	{"hardcoded credential", 0},
	{"hardcoded secret", 0},
	{"path traversal", 0},
	{"insecure deserial", 0},
	{"race condition", 1},
	{"memory leak", 1},
	{"n+1 query", 1},
}

// processGapMarkers identify issues that describe missing process rather
// than defects in the change itself. They warn, never block.
var processGapMarkers = []string{
	"not specified",
	"missing",
	"should include",
	"no mention",
	"unclear",
	"not documented",
	"consider adding",
}

// Weights are the relative trust placed in each reviewer.
type Weights struct {
	A float64
	B float64
}

// DefaultWeights favours the first reviewer.
func DefaultWeights() Weights { return Weights{A: 0.6, B: 0.4} }

// Resolver reduces two heterogeneous reviewer verdicts to one decision.
type Resolver struct {
	weights Weights
	logger  *logging.Logger
}

// NewResolver creates a resolver with the given weights; zero weights
// fall back to the defaults.
func NewResolver(weights Weights, logger *logging.Logger) *Resolver {
	if weights.A == 0 && weights.B == 0 {
		weights = DefaultWeights()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{weights: weights, logger: logger}
}

// Resolve applies the decision cascade: authority veto, real blockers,
// high disagreement, weighted threshold.
func (r *Resolver) Resolve(a, b core.ReviewFeedback) *core.ResolutionResult {
	if res := r.authorityVeto(a, b); res != nil {
		return res
	}

	wA, wB := normalise(r.weights)
	weighted := a.Score*wA + b.Score*wB

	realBlockers, processGaps := partitionIssues(append(append([]string{}, a.BlockingIssues...), b.BlockingIssues...))
	for _, gap := range processGaps {
		r.logger.Warn("process gap noted in review", "issue", gap)
	}
	if len(realBlockers) > 0 {
		return &core.ResolutionResult{
			Approved:       false,
			FinalScore:     weighted,
			DecisionReason: "Blocking issues present",
			BlockingIssues: realBlockers,
			Action:         core.ActionReject,
		}
	}

	if math.Abs(a.Score-b.Score) > disagreementThreshold {
		return &core.ResolutionResult{
			Approved:       false,
			FinalScore:     weighted,
			DecisionReason: fmt.Sprintf("High disagreement: %.1f vs %.1f", a.Score, b.Score),
			Action:         core.ActionEscalate,
		}
	}

	if weighted < approvalFloor {
		return &core.ResolutionResult{
			Approved:       false,
			FinalScore:     weighted,
			DecisionReason: fmt.Sprintf("Weighted score %.2f below threshold %.1f", weighted, approvalFloor),
			Action:         core.ActionReject,
		}
	}

	return &core.ResolutionResult{
		Approved:       true,
		FinalScore:     weighted,
		DecisionReason: fmt.Sprintf("Weighted score %.2f meets threshold", weighted),
		Action:         core.ActionApprove,
	}
}

// authorityVeto rejects immediately when a reviewer flags an issue inside
// its authority domain, unless the issue is only a process gap.
func (r *Resolver) authorityVeto(a, b core.ReviewFeedback) *core.ResolutionResult {
	reviewers := [2]core.ReviewFeedback{a, b}
	for idx, fb := range reviewers {
		for _, issue := range fb.BlockingIssues {
			lower := strings.ToLower(issue)
			for _, rule := range domainAuthority {
				if rule.authority != idx || !strings.Contains(lower, rule.keyword) {
					continue
				}
				if isProcessGap(lower) {
					continue
				}
				return &core.ResolutionResult{
					Approved:       false,
					FinalScore:     0,
					DecisionReason: fmt.Sprintf("Authority Veto: %s flagged %s", fb.ReviewerID, rule.keyword),
					BlockingIssues: []string{issue},
					Action:         core.ActionReject,
				}
			}
		}
	}
	return nil
}

func isProcessGap(lowerIssue string) bool {
	for _, marker := range processGapMarkers {
		if strings.Contains(lowerIssue, marker) {
			return true
		}
	}
	return false
}

func partitionIssues(issues []string) (real, gaps []string) {
	for _, issue := range issues {
		if isProcessGap(strings.ToLower(issue)) {
			gaps = append(gaps, issue)
		} else {
			real = append(real, issue)
		}
	}
	return real, gaps
}

func normalise(w Weights) (float64, float64) {
	sum := w.A + w.B
	if sum == 0 {
		return 0.5, 0.5
	}
	return w.A / sum, w.B / sum
}

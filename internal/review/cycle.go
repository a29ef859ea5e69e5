package review

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
	"github.com/hugo-lorenzo-mato/foreman/internal/registry"
)

// Cycle defaults.
const (
	DefaultMaxIterations = 3
	DefaultApprovalScore = 7.0
	maxCycleLog          = 100
)

// CycleStatus is the terminal state of one review cycle.
type CycleStatus string

const (
	CycleApproved  CycleStatus = "approved"
	CycleEscalated CycleStatus = "escalated"
	CycleError     CycleStatus = "error"
)

// Decision classifies one review round.
type Decision string

const (
	DecisionApproved     Decision = "APPROVED"
	DecisionNeedsChanges Decision = "NEEDS_CHANGES"
	DecisionConflict     Decision = "CONFLICT"
)

// Dispatcher is the one-shot invocation surface the cycle needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *core.Task) (*core.DispatchResult, error)
}

// CycleResult is the outcome of a full review cycle.
type CycleResult struct {
	Status     CycleStatus            `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	Iterations int                    `json:"iterations"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Reviews    []core.ReviewFeedback  `json:"reviews,omitempty"`
}

// logEntry records one review round for inspection.
type logEntry struct {
	TaskID    string
	Iteration int
	Decision  Decision
	Scores    []float64
	Timestamp time.Time
}

// Cycle drives execute, parallel-review, feedback-merge, and retry for a
// single review-gated task.
type Cycle struct {
	dispatcher    Dispatcher
	registry      *registry.Registry
	resolver      *Resolver
	maxIterations int
	approvalScore float64
	reviewerIDs   []string // optional override of registry assignment

	mu  sync.Mutex
	log []logEntry

	logger *logging.Logger
}

// CycleOption customises a Cycle.
type CycleOption func(*Cycle)

// WithMaxIterations overrides the retry bound.
func WithMaxIterations(n int) CycleOption {
	return func(c *Cycle) { c.maxIterations = n }
}

// WithApprovalScore overrides the per-reviewer approval threshold.
func WithApprovalScore(s float64) CycleOption {
	return func(c *Cycle) { c.approvalScore = s }
}

// WithReviewers overrides the registry's reviewer assignment.
func WithReviewers(ids ...string) CycleOption {
	return func(c *Cycle) { c.reviewerIDs = ids }
}

// NewCycle creates a review cycle.
func NewCycle(d Dispatcher, reg *registry.Registry, resolver *Resolver, logger *logging.Logger, opts ...CycleOption) *Cycle {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Cycle{
		dispatcher:    d,
		registry:      reg,
		resolver:      resolver,
		maxIterations: DefaultMaxIterations,
		approvalScore: DefaultApprovalScore,
		logger:        logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run executes the cycle for one task.
func (c *Cycle) Run(ctx context.Context, task *core.Task) (*CycleResult, error) {
	reviewerIDs := c.reviewerIDs
	if len(reviewerIDs) == 0 {
		spec, err := c.registry.Get(task.AssignedAgentID)
		if err != nil {
			return nil, err
		}
		reviewerIDs = spec.Reviewers
	}
	if len(reviewerIDs) < 2 {
		return &CycleResult{
			Status: CycleError,
			Reason: "No reviewers configured",
		}, nil
	}

	log := c.logger.WithTask(task.ID)
	work := *task // do not mutate the caller's task

	for iter := 1; iter <= c.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		work.Iteration = iter

		res, err := c.dispatcher.Dispatch(ctx, &work)
		if err != nil {
			return &CycleResult{
				Status:     CycleError,
				Reason:     fmt.Sprintf("Working agent error: %v", err),
				Iterations: iter,
			}, nil
		}
		if res.Status == core.TaskStatusFailed && len(res.Output) == 0 {
			return &CycleResult{
				Status:     CycleError,
				Reason:     fmt.Sprintf("Working agent error: %s", res.Error),
				Iterations: iter,
			}, nil
		}

		reviews := c.fanOutReviews(ctx, &work, reviewerIDs, res, iter)
		decision := c.decide(reviews)
		c.record(task.ID, iter, decision, reviews)
		log.Info("review round complete",
			"iteration", iter, "decision", string(decision), "reviewers", len(reviews))

		switch decision {
		case DecisionApproved:
			return &CycleResult{
				Status:     CycleApproved,
				Iterations: iter,
				Output:     res.Output,
				Reviews:    reviews,
			}, nil
		case DecisionConflict:
			return &CycleResult{
				Status:     CycleEscalated,
				Reason:     "Reviewer conflict unresolved",
				Iterations: iter,
				Reviews:    reviews,
			}, nil
		default:
			work.PreviousFeedback = rejectedFeedback(reviews)
		}
	}

	return &CycleResult{
		Status:     CycleEscalated,
		Reason:     fmt.Sprintf("Max iterations (%d) exceeded without approval", c.maxIterations),
		Iterations: c.maxIterations,
	}, nil
}

// fanOutReviews dispatches every reviewer concurrently. A reviewer's
// failure becomes a rejecting feedback record; others still proceed.
func (c *Cycle) fanOutReviews(ctx context.Context, task *core.Task, reviewerIDs []string, work *core.DispatchResult, iteration int) []core.ReviewFeedback {
	reviews := make([]core.ReviewFeedback, len(reviewerIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, rid := range reviewerIDs {
		g.Go(func() error {
			reviews[i] = c.reviewOne(gctx, task, rid, work, iteration)
			return nil
		})
	}
	_ = g.Wait()
	return reviews
}

func (c *Cycle) reviewOne(ctx context.Context, task *core.Task, reviewerID string, work *core.DispatchResult, iteration int) core.ReviewFeedback {
	spec, err := c.registry.Get(reviewerID)
	if err != nil {
		return failedReview(reviewerID, "", err)
	}

	reviewTask := &core.Task{
		ID:              task.ID + "-review-" + reviewerID,
		Title:           "Review: " + task.Title,
		Description:     reviewPayload(task, work, iteration),
		AssignedAgentID: reviewerID,
		Iteration:       iteration,
	}
	res, err := c.dispatcher.Dispatch(ctx, reviewTask)
	if err != nil {
		return failedReview(reviewerID, spec.PrimaryCLI, err)
	}
	return parseFeedback(reviewerID, res)
}

// reviewPayload renders the review task body: task metadata, changed
// files, agent output, and the standard checklist.
func reviewPayload(task *core.Task, work *core.DispatchResult, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task under review: %s (%s), iteration %d.\n\n", task.Title, task.ID, iteration)
	if len(work.FilesCreated) > 0 {
		fmt.Fprintf(&b, "Files created: %s\n", strings.Join(work.FilesCreated, ", "))
	}
	if len(work.FilesModified) > 0 {
		fmt.Fprintf(&b, "Files modified: %s\n", strings.Join(work.FilesModified, ", "))
	}
	if raw, ok := work.Output["raw_output"].(string); ok && raw != "" {
		fmt.Fprintf(&b, "\nAgent output:\n%s\n", raw)
	}
	b.WriteString("\nReview checklist:\n")
	b.WriteString("1. Correctness against the acceptance criteria\n")
	b.WriteString("2. Test coverage of new behaviour\n")
	b.WriteString("3. Code quality and maintainability\n")
	b.WriteString("4. Security of inputs and secrets\n")
	b.WriteString("5. Performance of hot paths\n")
	b.WriteString("6. Error handling and edge cases\n")
	return b.String()
}

// decide maps a round's feedback to a Decision.
func (c *Cycle) decide(reviews []core.ReviewFeedback) Decision {
	approvals := 0
	for _, fb := range reviews {
		if fb.Approved && fb.Score >= c.approvalScore {
			approvals++
		}
	}
	switch {
	case approvals == len(reviews):
		return DecisionApproved
	case approvals == 0:
		return DecisionNeedsChanges
	}

	// Mixed verdicts go through the resolver pairwise; the first two
	// disagreeing reviewers decide.
	res := c.resolver.Resolve(reviews[0], reviews[1])
	switch res.Action {
	case core.ActionApprove:
		return DecisionApproved
	case core.ActionEscalate:
		return DecisionConflict
	default:
		return DecisionNeedsChanges
	}
}

func (c *Cycle) record(taskID string, iteration int, decision Decision, reviews []core.ReviewFeedback) {
	scores := make([]float64, len(reviews))
	for i, fb := range reviews {
		scores[i] = fb.Score
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, logEntry{
		TaskID:    taskID,
		Iteration: iteration,
		Decision:  decision,
		Scores:    scores,
		Timestamp: time.Now(),
	})
	if len(c.log) > maxCycleLog {
		c.log = c.log[len(c.log)-maxCycleLog:]
	}
}

// rejectedFeedback keeps only rejecting reviews for the next iteration.
func rejectedFeedback(reviews []core.ReviewFeedback) []core.ReviewFeedback {
	var out []core.ReviewFeedback
	for _, fb := range reviews {
		if !fb.Approved {
			out = append(out, fb)
		}
	}
	return out
}

func failedReview(reviewerID string, cli core.CLIFamily, err error) core.ReviewFeedback {
	return core.ReviewFeedback{
		ReviewerID:     reviewerID,
		CLI:            cli,
		Approved:       false,
		Score:          0,
		BlockingIssues: []string{fmt.Sprintf("reviewer failed: %v", err)},
	}
}

// parseFeedback extracts a ReviewFeedback from a reviewer's JSON output.
func parseFeedback(reviewerID string, res *core.DispatchResult) core.ReviewFeedback {
	fb := core.ReviewFeedback{ReviewerID: reviewerID, CLI: res.CLIUsed}
	out := res.Output
	if out == nil {
		fb.BlockingIssues = []string{"reviewer produced no output"}
		return fb
	}
	if approved, ok := out["approved"].(bool); ok {
		fb.Approved = approved
	}
	if score, ok := out["score"].(float64); ok {
		fb.Score = score
	}
	fb.BlockingIssues = toStrings(out["blocking_issues"])
	fb.Suggestions = toStrings(out["suggestions"])
	fb.SecurityFindings = toStrings(out["security_findings"])
	return fb
}

func toStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

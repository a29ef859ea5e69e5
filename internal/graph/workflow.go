package graph

import (
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// Node ids of the standard workflow.
const (
	NodePrerequisites  = "prerequisites"
	NodeResearch       = "research"
	NodeDiscuss        = "discuss"
	NodePlanning       = "planning"
	NodeTaskBreakdown  = "task_breakdown"
	NodeValidationFan  = "validation_reviews"
	NodeValidationGate = "validation_gate"
	NodeImplementation = "implementation"
	NodeQualityGates   = "quality_gates"
	NodeVerifyFan      = "verification_reviews"
	NodeVerifyGate     = "verification_gate"
	NodeCompletion     = "completion"
	NodeEscalation     = "escalation"
	NodeErrorDispatch  = "error_dispatch"
	NodeFixer          = "fixer"
)

// validation and verification reviewer assignments.
var (
	validationReviewers   = []string{"reviewer-security", "reviewer-quality"}
	verificationReviewers = []string{"reviewer-security", "reviewer-style"}
)

// BuildWorkflow assembles the standard six-phase graph over the services.
func BuildWorkflow(s *Services) (*Graph, error) {
	b := NewBuilder()

	b.AddNode(&Node{
		ID: NodePrerequisites, Phase: core.PhasePrerequisites,
		Description: "Validate spec, workflow directory, and agent availability",
		Fn:          prerequisitesNode(s),
	})
	b.AddNode(&Node{
		ID: NodeResearch, Phase: core.PhasePlanning, Subgraph: SubgraphResearch,
		Agent: "claude-family",
		Description: "Research the product spec and existing code",
		Fn: planningStepNode(s, "research",
			"Research the product spec and the existing codebase. Summarise constraints, risks, and the relevant modules."),
	})
	b.AddNode(&Node{
		ID: NodeDiscuss, Phase: core.PhasePlanning, Subgraph: SubgraphResearch,
		Agent: "claude-family",
		Description: "Weigh design alternatives",
		Fn: planningStepNode(s, "discuss",
			"Weigh the design alternatives surfaced by research. Pick an approach and justify it briefly."),
	})
	b.AddNode(&Node{
		ID: NodePlanning, Phase: core.PhasePlanning,
		Agent: "claude-family",
		Description: "Draft the implementation plan",
		Fn: planningStepNode(s, "planning",
			"Draft an ordered implementation plan for the chosen approach, naming the files and tests involved."),
	})
	b.AddNode(&Node{
		ID: NodeTaskBreakdown, Phase: core.PhasePlanning,
		Agent:       "claude-family",
		Description: "Break the plan into dispatchable tasks",
		Fn:          taskBreakdownNode(s),
	})
	b.AddNode(&Node{
		ID: NodeValidationFan, Phase: core.PhaseValidation, Subgraph: SubgraphValidation,
		Description: "Two independent plan reviews in parallel",
		Fn: reviewFanOutNode(s, core.PhaseValidation, validationReviewers,
			"Review the implementation plan for correctness, feasibility, and security."),
	})
	b.AddNode(&Node{
		ID: NodeValidationGate, Phase: core.PhaseValidation, Subgraph: SubgraphValidation,
		Description: "Resolve plan reviews into a go/no-go",
		Suspends:    true,
		Fn:          approvalGateNode(s, core.PhaseValidation),
	})
	b.AddNode(&Node{
		ID: NodeImplementation, Phase: core.PhaseImplementation,
		Agent:       "claude-family",
		Description: "Execute tasks in dependency order",
		Fn:          implementationNode(s),
	})
	b.AddNode(&Node{
		ID: NodeQualityGates, Phase: core.PhaseImplementation, Subgraph: SubgraphQuality,
		Description: "Build, test, and security gates over the result",
		Fn:          qualityGatesNode(s),
	})
	b.AddNode(&Node{
		ID: NodeVerifyFan, Phase: core.PhaseVerification, Subgraph: SubgraphVerification,
		Description: "Two independent implementation reviews in parallel",
		Fn: reviewFanOutNode(s, core.PhaseVerification, verificationReviewers,
			"Review the complete implementation against the plan and acceptance criteria."),
	})
	b.AddNode(&Node{
		ID: NodeVerifyGate, Phase: core.PhaseVerification, Subgraph: SubgraphVerification,
		Description: "Resolve implementation reviews into a verdict",
		Suspends:    true,
		Fn:          approvalGateNode(s, core.PhaseVerification),
	})
	b.AddNode(&Node{
		ID: NodeCompletion, Phase: core.PhaseCompletion,
		Description: "Finalise and emit the workflow summary",
		Fn:          completionNode(s),
	})
	b.AddNode(&Node{
		ID: NodeEscalation, Phase: core.PhaseCompletion,
		Description: "Suspend for a human decision",
		Suspends:    true,
		Fn:          escalationNode(s),
	})
	b.AddNode(&Node{
		ID: NodeErrorDispatch, Phase: core.PhaseCompletion, Subgraph: SubgraphFixer,
		Description: "Route failures to auto-heal or escalation",
		Fn:          errorDispatchNode(s),
	})
	b.AddNode(&Node{
		ID: NodeFixer, Phase: core.PhaseCompletion, Subgraph: SubgraphFixer,
		Agent:       "claude-family",
		Description: "Diagnose and repair an auto-healable failure",
		Fn:          fixerNode(s),
	})

	b.SetEntry(NodePrerequisites)

	b.AddConditional(NodePrerequisites,
		stopAtEndPhase(core.PhasePrerequisites, NodeResearch, decisionRouter(NodeResearch, NodeEscalation)),
		map[string]string{
			NodeResearch:   "prerequisites satisfied",
			EndNode:        "aborted or end phase reached",
			NodeEscalation: "escalate",
		})
	b.AddEdge(NodeResearch, NodeDiscuss)
	b.AddEdge(NodeDiscuss, NodePlanning)
	b.AddEdge(NodePlanning, NodeTaskBreakdown)
	b.AddConditional(NodeTaskBreakdown, planningRouter(), map[string]string{
		NodeValidationFan:  "plan ready",
		NodeImplementation: "validation skipped",
		NodeErrorDispatch:  "planning failed",
		EndNode:            "end phase reached",
	})
	b.AddEdge(NodeValidationFan, NodeValidationGate)
	b.AddConditional(NodeValidationGate,
		stopAtEndPhase(core.PhaseValidation, NodeImplementation, gateRouter(NodeImplementation, NodeValidationFan)),
		map[string]string{
			NodeImplementation: "approved",
			NodeValidationFan:  "retry reviews",
			NodeEscalation:     "conflict",
			EndNode:            "rejected or end phase reached",
		})
	b.AddConditional(NodeImplementation, decisionRouter(NodeQualityGates, NodeEscalation), map[string]string{
		NodeQualityGates: "tasks complete",
		NodeEscalation:   "blocked tasks",
	})
	b.AddConditional(NodeQualityGates,
		stopAtEndPhase(core.PhaseImplementation, NodeVerifyFan, gateRouter(NodeVerifyFan, NodeFixer)),
		map[string]string{
			NodeVerifyFan:  "gates passed",
			NodeFixer:      "auto-heal",
			NodeEscalation: "escalate",
			EndNode:        "end phase reached",
		})
	b.AddEdge(NodeVerifyFan, NodeVerifyGate)
	b.AddConditional(NodeVerifyGate,
		stopAtEndPhase(core.PhaseVerification, NodeCompletion, gateRouter(NodeCompletion, NodeVerifyFan)),
		map[string]string{
			NodeCompletion: "approved",
			NodeVerifyFan:  "retry reviews",
			NodeEscalation: "conflict",
			EndNode:        "rejected or end phase reached",
		})
	b.AddEdge(NodeCompletion, EndNode)
	b.AddConditional(NodeEscalation, responseRouter(), map[string]string{
		NodeErrorDispatch: "retry requested",
		EndNode:           "abort or skip",
	})
	b.AddConditional(NodeErrorDispatch, decisionRouter(NodeFixer, NodeEscalation), map[string]string{
		NodeFixer:      "auto-healable",
		NodeEscalation: "needs human",
	})
	b.AddConditional(NodeFixer, decisionRouter(NodeQualityGates, NodeEscalation), map[string]string{
		NodeQualityGates: "fix applied",
		NodeEscalation:   "fix failed",
	})

	return b.Build()
}

// decisionRouter maps next_decision to the happy-path target, the
// escalation target, or END on abort.
func decisionRouter(onContinue, onEscalate string) Router {
	return func(state *core.WorkflowState) string {
		switch state.NextDecision {
		case core.DecisionAbort:
			return EndNode
		case core.DecisionEscalate:
			return onEscalate
		case core.DecisionRetry:
			return onContinue
		default:
			return onContinue
		}
	}
}

// planningRouter routes a completed plan to validation, straight to
// implementation when the run skips validation, or END when planning is
// the configured end phase. A failed plan goes to error dispatch.
func planningRouter() Router {
	return func(state *core.WorkflowState) string {
		ps, ok := state.PhaseStatus[core.PhasePlanning]
		if !ok || ps.Status != core.PhaseCompleted {
			if state.NextDecision == core.DecisionAbort {
				return EndNode
			}
			return NodeErrorDispatch
		}
		if state.Config.EndPhase <= core.PhasePlanning {
			return EndNode
		}
		if state.Config.SkipValidation {
			return NodeImplementation
		}
		return NodeValidationFan
	}
}

// stopAtEndPhase stops the run instead of advancing into the next phase
// once the configured end phase has completed.
func stopAtEndPhase(completed core.Phase, onAdvance string, inner Router) Router {
	return func(state *core.WorkflowState) string {
		next := inner(state)
		if next == onAdvance && state.Config.EndPhase <= completed {
			return EndNode
		}
		return next
	}
}

// gateRouter handles an approval gate's outcomes. A human response from
// a resumed interrupt overrides the gate's own decision.
func gateRouter(onApprove, onRetry string) Router {
	return func(state *core.WorkflowState) string {
		if hr := state.HumanResponse; hr != nil {
			switch hr.Action {
			case "approve", "continue", "skip":
				return onApprove
			case "retry", "request_changes":
				if state.RetryCount >= state.MaxRetries {
					return NodeEscalation
				}
				return onRetry
			case "reject", "abort":
				return EndNode
			default:
				return NodeEscalation
			}
		}
		switch state.NextDecision {
		case core.DecisionContinue:
			return onApprove
		case core.DecisionRetry:
			if state.RetryCount >= state.MaxRetries {
				return NodeEscalation
			}
			return onRetry
		case core.DecisionAbort:
			return EndNode
		default:
			return NodeEscalation
		}
	}
}

// EntryForPhase maps a configured start phase to the node a fresh run
// begins at.
func EntryForPhase(p core.Phase) string {
	switch p {
	case core.PhasePlanning:
		return NodeResearch
	case core.PhaseValidation:
		return NodeValidationFan
	case core.PhaseImplementation:
		return NodeImplementation
	case core.PhaseVerification:
		return NodeVerifyFan
	case core.PhaseCompletion:
		return NodeCompletion
	default:
		return NodePrerequisites
	}
}

// responseRouter resumes after an escalation interrupt based on the
// human's answer.
func responseRouter() Router {
	return func(state *core.WorkflowState) string {
		if state.HumanResponse == nil {
			return EndNode
		}
		switch state.HumanResponse.Action {
		case "retry", "answer_clarification", "request_changes":
			return NodeErrorDispatch
		case "continue", "approve":
			return NodeCompletion
		default: // skip, abort, reject
			return EndNode
		}
	}
}

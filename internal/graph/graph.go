// Package graph models the workflow as a directed graph of named nodes
// with unconditional, conditional, and suspending edges, checkpointed
// after every node boundary.
package graph

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// Terminal pseudo-node ids.
const (
	StartNode = "__start__"
	EndNode   = "__end__"
)

// NodeType distinguishes real nodes from router pseudo-nodes in the
// external definition.
type NodeType string

const (
	NodeDefault NodeType = "default"
	NodeRouter  NodeType = "router"
)

// Subgraph labels group related nodes for UI rendering.
type Subgraph string

const (
	SubgraphNone         Subgraph = ""
	SubgraphValidation   Subgraph = "validation"
	SubgraphVerification Subgraph = "verification"
	SubgraphFixer        Subgraph = "fixer"
	SubgraphQuality      Subgraph = "quality"
	SubgraphResearch     Subgraph = "research"
)

// NodeFunc executes one node. It receives the current state and returns
// a delta that the reducers merge in. A nil delta means no change.
type NodeFunc func(ctx context.Context, state *core.WorkflowState) (*Delta, error)

// Router picks the next node id from the merged state.
type Router func(state *core.WorkflowState) string

// Node is one vertex of the workflow graph.
type Node struct {
	ID          string
	Phase       core.Phase
	Subgraph    Subgraph
	Agent       string // CLI family label for the UI, empty when none
	Description string
	Suspends    bool // node may yield a pending interrupt
	Fn          NodeFunc
}

// Edge connects a source node to its successor. Exactly one of Target
// and Route is set.
type Edge struct {
	Source string
	Target string
	Route  Router
	// Labels names each conditional target for the external definition.
	Labels map[string]string
}

// Graph is an immutable node/edge table plus an entry point.
type Graph struct {
	nodes map[string]*Node
	edges map[string]*Edge
	entry string
}

// Builder assembles a Graph.
type Builder struct {
	g   *Graph
	err error
}

// NewBuilder starts a graph definition.
func NewBuilder() *Builder {
	return &Builder{g: &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}}
}

// AddNode registers a node.
func (b *Builder) AddNode(n *Node) *Builder {
	if b.err != nil {
		return b
	}
	if _, dup := b.g.nodes[n.ID]; dup {
		b.err = fmt.Errorf("duplicate node %q", n.ID)
		return b
	}
	b.g.nodes[n.ID] = n
	return b
}

// AddEdge registers an unconditional edge.
func (b *Builder) AddEdge(source, target string) *Builder {
	return b.addEdge(&Edge{Source: source, Target: target})
}

// AddConditional registers a router edge. labels maps target node ids to
// human-readable conditions for the external definition.
func (b *Builder) AddConditional(source string, route Router, labels map[string]string) *Builder {
	return b.addEdge(&Edge{Source: source, Route: route, Labels: labels})
}

// SetEntry marks the first node to run.
func (b *Builder) SetEntry(id string) *Builder {
	if b.err == nil {
		b.g.entry = id
	}
	return b
}

func (b *Builder) addEdge(e *Edge) *Builder {
	if b.err != nil {
		return b
	}
	if _, dup := b.g.edges[e.Source]; dup {
		b.err = fmt.Errorf("duplicate edge from %q", e.Source)
		return b
	}
	b.g.edges[e.Source] = e
	return b
}

// Build validates and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.g.entry == "" {
		return nil, fmt.Errorf("graph has no entry node")
	}
	for src, e := range b.g.edges {
		if src != StartNode {
			if _, ok := b.g.nodes[src]; !ok {
				return nil, fmt.Errorf("edge from unknown node %q", src)
			}
		}
		if e.Target != "" && e.Target != EndNode {
			if _, ok := b.g.nodes[e.Target]; !ok {
				return nil, fmt.Errorf("edge to unknown node %q", e.Target)
			}
		}
	}
	return b.g, nil
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

// next resolves the successor of a node for the given state.
func (g *Graph) next(id string, state *core.WorkflowState) (string, error) {
	e, ok := g.edges[id]
	if !ok {
		return EndNode, nil
	}
	if e.Route != nil {
		target := e.Route(state)
		if target == "" {
			return "", fmt.Errorf("router at %q returned no target", id)
		}
		return target, nil
	}
	return e.Target, nil
}

// Executor walks the graph, merging node deltas and checkpointing after
// every node.
type Executor struct {
	graph        *Graph
	checkpointer core.Checkpointer
	progress     core.ProgressCallback
	logger       *logging.Logger
}

// NewExecutor creates an executor. A nil progress callback is replaced
// with a no-op; the checkpointer may be nil to disable persistence.
func NewExecutor(g *Graph, cp core.Checkpointer, progress core.ProgressCallback, logger *logging.Logger) *Executor {
	if progress == nil {
		progress = core.NopProgress{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{graph: g, checkpointer: cp, progress: progress, logger: logger}
}

// Run drives the graph from startNode (or the entry when empty) until
// EndNode, an interrupt, or an error. The returned state is final.
func (e *Executor) Run(ctx context.Context, state *core.WorkflowState, startNode string) (*core.WorkflowState, error) {
	current := startNode
	if current == "" || current == StartNode {
		current = e.graph.Entry()
	}

	for current != EndNode {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		node, ok := e.graph.Node(current)
		if !ok {
			return state, core.ErrState(core.CodeInvalidState,
				fmt.Sprintf("unknown node %q", current))
		}

		e.progress.OnNodeStart(node.ID, state)
		e.logger.WithPhase(int(node.Phase)).Debug("node start", "node", node.ID)

		delta, err := node.Fn(ctx, state)
		if err != nil {
			return state, err
		}
		state = Merge(state, delta)

		e.progress.OnNodeEnd(node.ID, state)
		if err := e.checkpoint(ctx, node.ID, state); err != nil {
			return state, err
		}

		if state.PendingInterrupt != nil {
			e.progress.OnInterrupt(state.PendingInterrupt)
			return state, nil
		}

		current, err = e.graph.next(node.ID, state)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// Resume continues after a checkpointed node: it evaluates that node's
// outgoing edge against the (human-response-seeded) state and runs from
// the successor, never re-running the node itself. The response answers
// that node's interrupt only, so it is consumed here and never leaks
// into later gates.
func (e *Executor) Resume(ctx context.Context, state *core.WorkflowState, checkpointedNode string) (*core.WorkflowState, error) {
	next, err := e.graph.next(checkpointedNode, state)
	if hr := state.HumanResponse; hr != nil {
		if hr.Action == "reject" || hr.Action == "abort" {
			state.NextDecision = core.DecisionAbort
		}
		state.HumanResponse = nil
	}
	if err != nil {
		return state, err
	}
	if next == EndNode {
		return state, nil
	}
	return e.Run(ctx, state, next)
}

func (e *Executor) checkpoint(ctx context.Context, node string, state *core.WorkflowState) error {
	if e.checkpointer == nil {
		return nil
	}
	return e.checkpointer.Save(ctx, &core.Checkpoint{
		ProjectName: state.ProjectName,
		Node:        node,
		State:       state,
	})
}

package graph

import (
	"fmt"
	"sort"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// NodeStatus is the UI-facing execution state of one node.
type NodeStatus string

const (
	StatusIdle      NodeStatus = "idle"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// DefNode is one node of the external graph representation.
type DefNode struct {
	ID       string     `json:"id"`
	Type     NodeType   `json:"type"`
	Phase    core.Phase `json:"phase"`
	Subgraph string     `json:"subgraph,omitempty"`
	Agent    string     `json:"agent,omitempty"`
	Data     DefData    `json:"data"`
}

// DefData carries the node's display payload.
type DefData struct {
	Label       string     `json:"label"`
	Status      NodeStatus `json:"status"`
	Description string     `json:"description,omitempty"`
}

// DefEdge is one edge of the external graph representation.
type DefEdge struct {
	Source string      `json:"source"`
	Target string      `json:"target"`
	Data   DefEdgeData `json:"data,omitempty"`
}

// DefEdgeData labels a conditional branch.
type DefEdgeData struct {
	Label     string `json:"label,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// Definition is the full external graph: nodes, edges, metadata.
// Conditional branch sources get a synthetic router pseudo-node so UIs
// can render the branch point explicitly.
type Definition struct {
	Nodes    []DefNode              `json:"nodes"`
	Edges    []DefEdge              `json:"edges"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Describe exports the graph. An optional state colours node statuses;
// nil leaves every node idle.
func (g *Graph) Describe(state *core.WorkflowState) *Definition {
	def := &Definition{
		Metadata: map[string]interface{}{
			"entry":  g.entry,
			"phases": 6,
		},
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := g.nodes[id]
		def.Nodes = append(def.Nodes, DefNode{
			ID:       n.ID,
			Type:     NodeDefault,
			Phase:    n.Phase,
			Subgraph: string(n.Subgraph),
			Agent:    n.Agent,
			Data: DefData{
				Label:       n.ID,
				Status:      nodeStatus(n, state),
				Description: n.Description,
			},
		})
	}

	sources := make([]string, 0, len(g.edges))
	for src := range g.edges {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		e := g.edges[src]
		if e.Route == nil {
			def.Edges = append(def.Edges, DefEdge{Source: src, Target: e.Target})
			continue
		}

		// Insert the router pseudo-node for the branch point.
		routerID := src + "__router"
		phase := core.PhasePrerequisites
		if n, ok := g.nodes[src]; ok {
			phase = n.Phase
		}
		def.Nodes = append(def.Nodes, DefNode{
			ID:    routerID,
			Type:  NodeRouter,
			Phase: phase,
			Data:  DefData{Label: fmt.Sprintf("route after %s", src), Status: StatusIdle},
		})
		def.Edges = append(def.Edges, DefEdge{Source: src, Target: routerID})

		targets := make([]string, 0, len(e.Labels))
		for target := range e.Labels {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			def.Edges = append(def.Edges, DefEdge{
				Source: routerID,
				Target: target,
				Data:   DefEdgeData{Label: e.Labels[target], Condition: e.Labels[target]},
			})
		}
	}
	return def
}

// nodeStatus derives a node's display status from the workflow state.
func nodeStatus(n *Node, state *core.WorkflowState) NodeStatus {
	if state == nil {
		return StatusIdle
	}
	ps, ok := state.PhaseStatus[n.Phase]
	if !ok {
		return StatusIdle
	}
	switch ps.Status {
	case core.PhaseCompleted:
		return StatusCompleted
	case core.PhaseFailed:
		return StatusFailed
	case core.PhaseSkipped:
		return StatusSkipped
	case core.PhaseRunning:
		if state.CurrentPhase == n.Phase {
			return StatusRunning
		}
		return StatusIdle
	default:
		return StatusIdle
	}
}

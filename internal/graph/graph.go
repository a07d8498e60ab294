// Package graph builds the in-memory dependency graph a scheduling
// pass operates on. A graph is a snapshot: it is rebuilt from the
// ticket store every pass and never mutated in place, so concurrent
// passes cannot race on shared edges.
package graph

import (
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
)

// Node holds one ticket's edges and the attributes scheduling needs
type Node struct {
	ID           string
	Dependencies []string
	Dependents   []string
	State        domain.TicketState
	Priority     domain.Priority
}

// Graph maps ticket ids to nodes. Insertion order of the source
// tickets is preserved for stable iteration.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// Build constructs the graph from a ticket snapshot in one O(V+E)
// pass. Dependencies referencing unknown tickets are reported as
// orphan warnings and the edge is dropped from both directions.
func Build(tickets []*domain.Ticket) (*Graph, []*orcerrors.OrphanReference) {
	g := &Graph{
		nodes: make(map[string]*Node, len(tickets)),
		order: make([]string, 0, len(tickets)),
	}

	for _, t := range tickets {
		if _, exists := g.nodes[t.ID]; exists {
			continue
		}
		g.nodes[t.ID] = &Node{
			ID:       t.ID,
			State:    t.State,
			Priority: t.Priority,
		}
		g.order = append(g.order, t.ID)
	}

	var orphans []*orcerrors.OrphanReference
	for _, t := range tickets {
		node := g.nodes[t.ID]
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true

			target, ok := g.nodes[dep]
			if !ok {
				orphans = append(orphans, &orcerrors.OrphanReference{TicketID: t.ID, Missing: dep})
				continue
			}
			node.Dependencies = append(node.Dependencies, dep)
			target.Dependents = append(target.Dependents, t.ID)
		}
	}

	return g, orphans
}

// Node returns the node for id, or nil if unknown
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns ticket ids in original insertion order
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Dependents returns the ids of tickets that depend on id
func (g *Graph) Dependents(id string) []string {
	if n := g.nodes[id]; n != nil {
		return n.Dependents
	}
	return nil
}

// Dependencies returns the ids id depends on, orphan edges excluded
func (g *Graph) Dependencies(id string) []string {
	if n := g.nodes[id]; n != nil {
		return n.Dependencies
	}
	return nil
}

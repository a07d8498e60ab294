package graph

import (
	"fmt"
)

// CriticalPathReport holds the longest-chain analysis for a graph
type CriticalPathReport struct {
	// Depths maps each ticket id to the length of the longest
	// dependency chain ending at it. A ticket with no
	// dependencies has depth 1.
	Depths map[string]int
	// CriticalID is the ticket with the maximum depth, first in
	// insertion order on ties.
	CriticalID string
	MaxDepth   int
}

// TopologicalOrder returns ticket ids with every dependency before
// its dependents (Kahn's algorithm). Errors if the graph has a
// cycle; run DetectCycle first for the full path report.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = len(g.nodes[id].Dependencies)
	}

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dependent := range g.nodes[id].Dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("topological order impossible: %d of %d tickets are in cycles",
			len(g.nodes)-len(order), len(g.nodes))
	}
	return order, nil
}

// CriticalPaths computes the longest dependency chain ending at each
// ticket via dynamic programming over a topological order. Used for
// scheduling hints and reporting only; it never gates scheduling.
func (g *Graph) CriticalPaths() (*CriticalPathReport, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	report := &CriticalPathReport{
		Depths: make(map[string]int, len(order)),
	}

	for _, id := range order {
		depth := 1
		for _, dep := range g.nodes[id].Dependencies {
			if d := report.Depths[dep] + 1; d > depth {
				depth = d
			}
		}
		report.Depths[id] = depth
	}

	// Pick the critical ticket deterministically: insertion order
	// breaks depth ties.
	for _, id := range g.order {
		if report.Depths[id] > report.MaxDepth {
			report.MaxDepth = report.Depths[id]
			report.CriticalID = id
		}
	}

	return report, nil
}

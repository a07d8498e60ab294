package graph

import (
	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
)

type visitColor uint8

const (
	colorWhite visitColor = iota // unvisited
	colorGrey                    // on the current DFS stack
	colorBlack                   // fully explored
)

// DetectCycle runs a depth-first search over every unvisited node.
// A back edge to a node still on the DFS stack is a cycle; the full
// ordered path is reconstructed so callers can report A -> B -> A
// instead of just "cycle found". Returns nil for acyclic graphs.
//
// Any cycle poisons the whole graph: callers must refuse the entire
// scheduling pass, not skip the affected tickets.
func (g *Graph) DetectCycle() *orcerrors.StructuralError {
	colors := make(map[string]visitColor, len(g.nodes))
	var stack []string

	var visit func(id string) *orcerrors.StructuralError
	visit = func(id string) *orcerrors.StructuralError {
		colors[id] = colorGrey
		stack = append(stack, id)

		for _, dep := range g.nodes[id].Dependencies {
			switch colors[dep] {
			case colorGrey:
				// Back edge: slice the stack from the first
				// occurrence of dep and close the loop.
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				path := make([]string, 0, len(stack)-start+1)
				path = append(path, stack[start:]...)
				path = append(path, dep)
				return &orcerrors.StructuralError{Path: path}
			case colorWhite:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = colorBlack
		return nil
	}

	for _, id := range g.order {
		if colors[id] == colorWhite {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

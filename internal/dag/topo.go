package dag

import (
	"fmt"
	"slices"
)

// Ancestors returns the given roots together with every node they depend on,
// directly or transitively. Unknown roots are reported as an error.
func (g *Graph) Ancestors(roots ...string) (map[string]struct{}, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]struct{}, len(roots))
	stack := make([]*node, 0, len(roots))
	for _, id := range roots {
		n, ok := g.nodes[id]
		if !ok {
			return nil, fmt.Errorf("node not found: %s", id)
		}
		stack = append(stack, n)
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n.id]; ok {
			continue
		}
		seen[n.id] = struct{}{}
		for _, dep := range n.deps {
			stack = append(stack, dep)
		}
	}
	return seen, nil
}

// TopologicalOrder sorts the given subset so every node comes after the nodes
// it depends on. Edges leaving the subset are ignored. Among nodes whose
// dependencies are all placed, the one with the lowest rank goes first, ties
// broken by ID, which makes the order stable across calls.
func (g *Graph) TopologicalOrder(subset map[string]struct{}, rank func(id string) int) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	remaining := make(map[string]int, len(subset))
	for id := range subset {
		n, ok := g.nodes[id]
		if !ok {
			return nil, fmt.Errorf("node not found: %s", id)
		}
		count := 0
		for dep := range n.deps {
			if _, in := subset[dep]; in {
				count++
			}
		}
		remaining[id] = count
	}

	less := func(a, b string) int {
		if rank != nil {
			if ra, rb := rank(a), rank(b); ra != rb {
				return ra - rb
			}
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}

	var ready []string
	for id, count := range remaining {
		if count == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(subset))
	for len(ready) > 0 {
		slices.SortFunc(ready, less)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for dependent := range g.nodes[id].dependents {
			if _, in := remaining[dependent]; !in {
				continue
			}
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(subset) {
		return nil, fmt.Errorf("cycle detected among %d unsorted nodes", len(subset)-len(order))
	}
	return order, nil
}

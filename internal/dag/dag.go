package dag

import (
	"fmt"
	"slices"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.addNode(id)
}

func (g *Graph) addNode(id string) *node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.nodes[id] = n
	return n
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist. A *CycleError is returned, and the graph left
// untouched, if the edge would close a cycle.
func (g *Graph) AddEdge(fromID, toID string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}
	if path := g.cyclePath(fromID, toID); path != nil {
		return &CycleError{Path: path}
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode
	return nil
}

// CheckEdge reports the cycle that AddEdge(fromID, toID) would create, without
// modifying the graph. Unknown nodes cannot take part in a cycle, so they are
// not an error here.
func (g *Graph) CheckEdge(fromID, toID string) error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	if path := g.cyclePath(fromID, toID); path != nil {
		return &CycleError{Path: path}
	}
	return nil
}

// cyclePath returns the cycle closed by a new fromID -> toID edge, or nil.
// The caller must hold the mutex.
func (g *Graph) cyclePath(fromID, toID string) []string {
	if fromID == toID {
		return []string{toID, toID}
	}
	// toID already (transitively) feeds fromID; the new edge closes the loop.
	path := g.pathTo(toID, fromID)
	if path == nil {
		return nil
	}
	return append(path, toID)
}

// pathTo finds a path from -> ... -> to following dependent edges. Neighbours
// are explored in sorted order so the reported path is deterministic.
func (g *Graph) pathTo(from, to string) []string {
	start, ok := g.nodes[from]
	if !ok {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}

	prev := map[string]string{from: ""}
	queue := []*node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.id == to {
			var path []string
			for id := to; id != ""; id = prev[id] {
				path = append(path, id)
			}
			slices.Reverse(path)
			return path
		}
		for _, id := range sortedKeys(n.dependents) {
			if _, seen := prev[id]; seen {
				continue
			}
			prev[id] = n.id
			queue = append(queue, n.dependents[id])
		}
	}
	return nil
}

// Dependencies returns a sorted slice of node IDs that the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.deps), nil
}

// Dependents returns a sorted slice of node IDs that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.dependents), nil
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, indicating the first node involved in the detected cycle.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Use classic depth-first search with three sets of nodes:
	// permanent: nodes that have been fully visited and are not part of a cycle.
	// temporary: nodes currently in the recursion stack for the current traversal.
	// unvisited: all other nodes.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}

		temporary[n.id] = true
		for _, id := range sortedKeys(n.dependents) {
			if err := visit(n.dependents[id]); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, id := range sortedKeys(g.nodes) {
		if err := visit(g.nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

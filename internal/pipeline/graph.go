package pipeline

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/dag"
)

// Graph is a validated, immutable pipeline definition. Values returned by its
// methods are copies or must be treated as read-only.
type Graph struct {
	topology   *dag.Graph
	stages     map[string]Stage
	order      []string
	rank       map[string]int
	deps       map[string][]Dependency
	dependents map[string][]string
	produces   map[string][]artifacts.Rule
	source     []StageTrigger
	finish     map[string][]StageTrigger
}

// Stages returns every stage in declaration order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.stages[id])
	}
	return out
}

// Stage looks up a stage by ID.
func (g *Graph) Stage(id string) (Stage, bool) {
	s, ok := g.stages[id]
	return s, ok
}

// Len returns the number of stages.
func (g *Graph) Len() int { return len(g.order) }

// Dependencies returns the upstream edges of id in declaration order.
func (g *Graph) Dependencies(id string) []Dependency {
	return slices.Clone(g.deps[id])
}

// Dependency returns the edge from downstream to upstream, if declared.
func (g *Graph) Dependency(downstream, upstream string) (Dependency, bool) {
	for _, d := range g.deps[downstream] {
		if d.StageID == upstream {
			return d, true
		}
	}
	return Dependency{}, false
}

// Dependents returns the stages depending on id, in declaration order.
func (g *Graph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// ProducingRules returns the parsed artifact producing rules of a stage.
func (g *Graph) ProducingRules(id string) []artifacts.Rule {
	return g.produces[id]
}

// Closure returns the roots plus every stage they transitively depend on.
func (g *Graph) Closure(roots ...string) (map[string]struct{}, error) {
	for _, id := range roots {
		if _, ok := g.stages[id]; !ok {
			return nil, &UnknownStageError{StageID: id}
		}
	}
	return g.topology.Ancestors(roots...)
}

// Order sorts ids so every stage follows its upstream stages. Stages that
// become ready together keep declaration order.
func (g *Graph) Order(ids map[string]struct{}) ([]string, error) {
	for id := range ids {
		if _, ok := g.stages[id]; !ok {
			return nil, &UnknownStageError{StageID: id}
		}
	}
	order, err := g.topology.TopologicalOrder(ids, g.Rank)
	if err != nil {
		return nil, fmt.Errorf("order stages: %w", err)
	}
	return order, nil
}

// Rank is the declaration index of a stage, or -1.
func (g *Graph) Rank(id string) int {
	if r, ok := g.rank[id]; ok {
		return r
	}
	return -1
}

// SourceTriggered returns the enabled source-change triggers in declaration
// order.
func (g *Graph) SourceTriggered() []StageTrigger {
	return slices.Clone(g.source)
}

// FinishTriggers returns the enabled finish triggers that fire when upstream
// finishes.
func (g *Graph) FinishTriggers(upstream string) []StageTrigger {
	return slices.Clone(g.finish[upstream])
}

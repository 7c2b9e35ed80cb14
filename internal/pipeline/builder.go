package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/dag"
)

// Builder collects stage registrations and validates them into a Graph.
// A Builder is not safe for concurrent use.
type Builder struct {
	topology *dag.Graph
	stages   map[string]*Stage
	order    []string
	deps     map[string][]Dependency
	produces map[string][]artifacts.Rule
	errs     *multierror.Error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		topology: dag.New(),
		stages:   make(map[string]*Stage),
		deps:     make(map[string][]Dependency),
		produces: make(map[string][]artifacts.Rule),
	}
}

// RegisterStage adds a stage and its upstream dependencies. Dependencies may
// name stages that are registered later. On error nothing is added and the
// error is also reported again by Build.
func (b *Builder) RegisterStage(stage Stage, deps ...Dependency) error {
	if err := b.register(stage, deps); err != nil {
		b.errs = multierror.Append(b.errs, err)
		return err
	}
	return nil
}

func (b *Builder) register(stage Stage, deps []Dependency) error {
	if stage.ID == "" {
		return errors.New("stage without an ID")
	}
	if _, ok := b.stages[stage.ID]; ok {
		return &DuplicateStageError{StageID: stage.ID}
	}

	produces, err := artifacts.ParseRules(stage.Artifacts)
	if err != nil {
		return fmt.Errorf("stage %q: %w", stage.ID, err)
	}
	if err := validateTriggers(stage); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(deps))
	for _, dep := range deps {
		if dep.StageID == "" {
			return fmt.Errorf("stage %q: dependency without a stage", stage.ID)
		}
		if _, dup := seen[dep.StageID]; dup {
			return fmt.Errorf("stage %q: dependency on %q declared twice", stage.ID, dep.StageID)
		}
		seen[dep.StageID] = struct{}{}

		// Every edge points into the new stage, so a cycle can only use one
		// of them and checking each against the current graph is enough.
		if err := b.topology.CheckEdge(dep.StageID, stage.ID); err != nil {
			var cycle *dag.CycleError
			if errors.As(err, &cycle) {
				return &CycleError{Path: cycle.Path}
			}
			return err
		}
	}

	b.topology.AddNode(stage.ID)
	for _, dep := range deps {
		b.topology.AddNode(dep.StageID)
		if err := b.topology.AddEdge(dep.StageID, stage.ID); err != nil {
			return fmt.Errorf("stage %q: %w", stage.ID, err)
		}
	}

	s := stage
	b.stages[stage.ID] = &s
	b.order = append(b.order, stage.ID)
	b.deps[stage.ID] = slices.Clone(deps)
	b.produces[stage.ID] = produces
	return nil
}

func validateTriggers(stage Stage) error {
	for _, t := range stage.Triggers {
		if t.QuietPeriod < 0 {
			return fmt.Errorf("stage %q: negative quiet period %s", stage.ID, t.QuietPeriod)
		}
		if t.Kind != TriggerStageFinished {
			continue
		}
		if t.StageID == "" {
			return fmt.Errorf("stage %q: finish trigger without a stage", stage.ID)
		}
		if t.StageID == stage.ID {
			return fmt.Errorf("stage %q: finish trigger on itself", stage.ID)
		}
	}
	return nil
}

// Build validates the collected registrations. Every registration error,
// dangling dependency and unknown finish trigger target is reported in one
// aggregated error, in which case no graph is returned.
func (b *Builder) Build() (*Graph, error) {
	errs := b.errs
	if errs != nil {
		errs = &multierror.Error{Errors: slices.Clone(errs.Errors)}
	}

	for _, id := range b.order {
		for _, dep := range b.deps[id] {
			if _, ok := b.stages[dep.StageID]; !ok {
				errs = multierror.Append(errs, &UnknownStageError{StageID: dep.StageID, ReferencedBy: id})
			}
		}
		for _, t := range b.stages[id].Triggers {
			if t.Kind != TriggerStageFinished || !t.Enabled {
				continue
			}
			if _, ok := b.stages[t.StageID]; !ok {
				errs = multierror.Append(errs, &UnknownStageError{StageID: t.StageID, ReferencedBy: id})
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	return b.freeze()
}

// freeze copies the builder state into a new Graph so later registrations
// cannot change it.
func (b *Builder) freeze() (*Graph, error) {
	g := &Graph{
		topology:   dag.New(),
		stages:     make(map[string]Stage, len(b.stages)),
		order:      slices.Clone(b.order),
		rank:       make(map[string]int, len(b.order)),
		deps:       make(map[string][]Dependency, len(b.deps)),
		produces:   maps.Clone(b.produces),
		dependents: make(map[string][]string),
		finish:     make(map[string][]StageTrigger),
	}
	for i, id := range b.order {
		g.stages[id] = *b.stages[id]
		g.rank[id] = i
		g.deps[id] = slices.Clone(b.deps[id])
		g.topology.AddNode(id)
	}
	for _, id := range b.order {
		for _, dep := range b.deps[id] {
			if err := g.topology.AddEdge(dep.StageID, id); err != nil {
				return nil, fmt.Errorf("freeze graph: %w", err)
			}
			g.dependents[dep.StageID] = append(g.dependents[dep.StageID], id)
		}
		for _, t := range b.stages[id].Triggers {
			if !t.Enabled {
				continue
			}
			st := StageTrigger{StageID: id, Trigger: t}
			switch t.Kind {
			case TriggerSourceChange:
				g.source = append(g.source, st)
			case TriggerStageFinished:
				g.finish[t.StageID] = append(g.finish[t.StageID], st)
			}
		}
	}
	return g, nil
}

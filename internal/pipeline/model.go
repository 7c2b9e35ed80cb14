package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/config"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
)

// BuildFromModel registers every stage of the model and builds the graph.
// Translation and registration errors are aggregated into one error.
func BuildFromModel(ctx context.Context, m *config.Model) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	if m == nil {
		return nil, fmt.Errorf("nil pipeline model")
	}

	b := NewBuilder()
	var errs *multierror.Error
	for _, cs := range m.Stages {
		stage, deps, err := fromModelStage(cs)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := b.RegisterStage(stage, deps...); err != nil {
			logger.Debug("Stage registration failed.", "stage", cs.ID, "source", cs.Source, "error", err)
		}
	}

	g, err := b.Build()
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	logger.Debug("Pipeline graph built.", "stages", g.Len(), "source_triggers", len(g.source))
	return g, nil
}

func fromModelStage(cs *config.Stage) (Stage, []Dependency, error) {
	stage := Stage{
		ID:        cs.ID,
		Name:      cs.Name,
		Artifacts: slices.Clone(cs.Artifacts),
	}
	for _, st := range cs.Steps {
		kind, err := ParseStepKind(st.Kind)
		if err != nil {
			return Stage{}, nil, fmt.Errorf("stage %q step %q: %w", cs.ID, st.Name, err)
		}
		stage.Steps = append(stage.Steps, Step{
			Name:        st.Name,
			Kind:        kind,
			Command:     st.Command,
			WorkingDir:  st.WorkingDir,
			Env:         maps.Clone(st.Env),
			Credentials: st.Credentials,
			Disabled:    st.Disabled,
		})
	}
	for _, t := range cs.Triggers {
		trig := Trigger{
			Enabled:          t.Enabled,
			QuietPeriod:      t.QuietPeriod,
			GroupByCommitter: t.GroupByCommitter,
			StageID:          t.StageID,
			SuccessfulOnly:   t.SuccessfulOnly,
		}
		switch t.Kind {
		case config.TriggerSourceChange:
			trig.Kind = TriggerSourceChange
		case config.TriggerStageFinished:
			trig.Kind = TriggerStageFinished
		default:
			return Stage{}, nil, fmt.Errorf("stage %q: unknown trigger kind %q", cs.ID, t.Kind)
		}
		stage.Triggers = append(stage.Triggers, trig)
	}

	deps := make([]Dependency, 0, len(cs.Dependencies))
	for _, d := range cs.Dependencies {
		reuse, err := ParseReusePolicy(d.ReuseBuilds)
		if err != nil {
			return Stage{}, nil, fmt.Errorf("stage %q dependency %q: %w", cs.ID, d.StageID, err)
		}
		onFailure, err := ParseFailurePolicy(d.OnFailure)
		if err != nil {
			return Stage{}, nil, fmt.Errorf("stage %q dependency %q: %w", cs.ID, d.StageID, err)
		}
		rules, err := artifacts.ParseRules(d.ArtifactRules)
		if err != nil {
			return Stage{}, nil, fmt.Errorf("stage %q dependency %q: %w", cs.ID, d.StageID, err)
		}
		deps = append(deps, Dependency{StageID: d.StageID, Reuse: reuse, OnFailure: onFailure, Artifacts: rules})
	}
	return stage, deps, nil
}

// ToModel converts a graph back into the format-agnostic model, keeping
// declaration order. Disabled steps and triggers are kept.
func ToModel(g *Graph) *config.Model {
	m := &config.Model{Stages: make([]*config.Stage, 0, g.Len())}
	for _, s := range g.Stages() {
		cs := &config.Stage{
			ID:        s.ID,
			Name:      s.Name,
			Artifacts: slices.Clone(s.Artifacts),
		}
		for _, st := range s.Steps {
			cs.Steps = append(cs.Steps, &config.Step{
				Name:        st.Name,
				Kind:        string(st.Kind),
				Command:     st.Command,
				WorkingDir:  st.WorkingDir,
				Env:         maps.Clone(st.Env),
				Credentials: st.Credentials,
				Disabled:    st.Disabled,
			})
		}
		for _, d := range g.Dependencies(s.ID) {
			rules := make([]string, 0, len(d.Artifacts))
			for _, r := range d.Artifacts {
				rules = append(rules, r.String())
			}
			cs.Dependencies = append(cs.Dependencies, &config.Dependency{
				StageID:       d.StageID,
				ReuseBuilds:   d.Reuse.String(),
				OnFailure:     d.OnFailure.String(),
				ArtifactRules: rules,
			})
		}
		for _, t := range s.Triggers {
			cs.Triggers = append(cs.Triggers, &config.Trigger{
				Kind:             t.Kind.String(),
				Enabled:          t.Enabled,
				QuietPeriod:      t.QuietPeriod,
				GroupByCommitter: t.GroupByCommitter,
				StageID:          t.StageID,
				SuccessfulOnly:   t.SuccessfulOnly,
			})
		}
		m.Stages = append(m.Stages, cs)
	}
	return m
}

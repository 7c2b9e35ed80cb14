package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// ResolveArtifacts returns the artifacts of the most recent successful run
// of producer at revision, mapped through the consumer's rules for that
// dependency. Without such a run it fails with *pipeline.ArtifactNotFoundError
// when the dependency reuses builds, and returns nothing otherwise.
func (e *Engine) ResolveArtifacts(ctx context.Context, consumer, producer, revision string) ([]artifacts.Mapping, error) {
	dep, err := e.dependency(consumer, producer)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	var source *pipeline.Run
	if r := e.latestRun(producer, revision, pipeline.StatusSucceeded); r != nil {
		source = r.Clone()
	}
	e.mu.Unlock()

	if source == nil {
		if dep.Reuse == pipeline.ReuseAlways {
			return nil, &pipeline.ArtifactNotFoundError{Consumer: consumer, Producer: producer, Revision: revision}
		}
		return nil, nil
	}
	return e.mapArtifacts(ctx, dep, source)
}

func (e *Engine) dependency(consumer, producer string) (pipeline.Dependency, error) {
	for _, id := range []string{consumer, producer} {
		if _, ok := e.graph.Stage(id); !ok {
			return pipeline.Dependency{}, &pipeline.UnknownStageError{StageID: id}
		}
	}
	dep, ok := e.graph.Dependency(consumer, producer)
	if !ok {
		return pipeline.Dependency{}, &pipeline.NoDependencyError{Consumer: consumer, Producer: producer}
	}
	return dep, nil
}

// mapArtifacts lists the producer run's manifest from the store, falling back
// to the paths kept on the run, and maps them through the dependency rules.
func (e *Engine) mapArtifacts(ctx context.Context, dep pipeline.Dependency, source *pipeline.Run) ([]artifacts.Mapping, error) {
	paths := source.Artifacts
	if e.store != nil {
		ref := artifacts.Ref{StageID: source.StageID, Revision: source.Revision, RunID: source.ID}
		listed, err := e.store.List(ctx, ref)
		switch {
		case err == nil:
			paths = listed
		case errors.Is(err, artifacts.ErrNotRecorded):
			ctxlog.FromContext(ctx).Debug("No manifest in store, using run artifacts.", "run", source.ID)
		default:
			return nil, fmt.Errorf("list artifacts of %s: %w", ref, err)
		}
	}
	return artifacts.Map(dep.Artifacts, paths), nil
}

// Input is what a run consumes from one upstream stage.
type Input struct {
	StageID string              `json:"stage"`
	RunID   string              `json:"run_id,omitempty"`
	Files   []artifacts.Mapping `json:"files"`
}

// ResolveInputs resolves the artifacts of every dependency of a run. The
// bound upstream run is used when it succeeded, otherwise the latest
// successful run at the revision. If a required input is missing the run
// fails, the failure propagates, and the *pipeline.ArtifactNotFoundError is
// returned.
func (e *Engine) ResolveInputs(ctx context.Context, runID string) ([]Input, error) {
	e.mu.Lock()
	run, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return nil, &pipeline.RunNotFoundError{RunID: runID}
	}
	consumer := run.Clone()
	sources := make(map[string]*pipeline.Run)
	for _, d := range e.graph.Dependencies(consumer.StageID) {
		src := e.runs[consumer.Upstream[d.StageID]]
		if src == nil || src.Status != pipeline.StatusSucceeded {
			src = e.latestRun(d.StageID, consumer.Revision, pipeline.StatusSucceeded)
		}
		if src != nil {
			sources[d.StageID] = src.Clone()
		}
	}
	e.mu.Unlock()

	var inputs []Input
	for _, d := range e.graph.Dependencies(consumer.StageID) {
		src, ok := sources[d.StageID]
		if !ok {
			if d.Reuse == pipeline.ReuseNever {
				inputs = append(inputs, Input{StageID: d.StageID})
				continue
			}
			notFound := &pipeline.ArtifactNotFoundError{Consumer: consumer.StageID, Producer: d.StageID, Revision: consumer.Revision}
			if _, err := e.failRun(ctx, runID, notFound); err != nil {
				return nil, errors.Join(notFound, err)
			}
			return nil, notFound
		}
		files, err := e.mapArtifacts(ctx, d, src)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, Input{StageID: d.StageID, RunID: src.ID, Files: files})
	}
	return inputs, nil
}

// failRun marks a Queued or Running run as Failed because of cause.
func (e *Engine) failRun(ctx context.Context, runID string, cause error) (*Schedule, error) {
	return e.apply(ctx, "resolve", func(tx *txn) error {
		run, ok := e.runs[runID]
		if !ok || run.Status.Terminal() || run.Status == pipeline.StatusPending {
			return nil
		}
		tx.sched.Cause = causeFinish + run.StageID
		return e.finish(ctx, tx, run, pipeline.StatusFailed, cause.Error(), nil)
	})
}

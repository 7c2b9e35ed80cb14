// Package executor runs the work the engine schedules. The engine hands a
// Queued run to a Dispatcher; the executor runs the stage's steps and reports
// back through a Reporter.
package executor

import (
	"context"
	"fmt"
	"slices"

	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// Request is one run handed to an executor.
type Request struct {
	RunID    string          `json:"run_id"`
	StageID  string          `json:"stage"`
	Revision string          `json:"revision"`
	Steps    []pipeline.Step `json:"steps"`
	// Artifacts are the stage's producing rules.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Reporter receives progress of dispatched runs.
type Reporter interface {
	RunStarted(ctx context.Context, runID string) error
	RunFinished(ctx context.Context, runID string, status pipeline.Status, produced []string) error
	Inputs(ctx context.Context, runID string) ([]engine.Input, error)
}

// Executor accepts requests without blocking on their execution.
type Executor interface {
	Execute(ctx context.Context, req Request) error
	Close(ctx context.Context) error
}

// Dispatcher adapts an Executor to engine.Dispatcher.
type Dispatcher struct {
	graph *pipeline.Graph
	exec  Executor
}

var _ engine.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher builds requests from g for exec.
func NewDispatcher(g *pipeline.Graph, exec Executor) *Dispatcher {
	return &Dispatcher{graph: g, exec: exec}
}

// Dispatch implements engine.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, run *pipeline.Run) error {
	stage, ok := d.graph.Stage(run.StageID)
	if !ok {
		return &pipeline.UnknownStageError{StageID: run.StageID}
	}
	req := Request{
		RunID:     run.ID,
		StageID:   run.StageID,
		Revision:  run.Revision,
		Steps:     slices.Clone(stage.Steps),
		Artifacts: slices.Clone(stage.Artifacts),
	}
	if err := d.exec.Execute(ctx, req); err != nil {
		return fmt.Errorf("execute run %s: %w", run.ID, err)
	}
	return nil
}

// EngineReporter reports to an engine.
type EngineReporter struct {
	Engine *engine.Engine
}

var _ Reporter = EngineReporter{}

func (r EngineReporter) RunStarted(ctx context.Context, runID string) error {
	return r.Engine.OnRunStarted(ctx, runID)
}

func (r EngineReporter) RunFinished(ctx context.Context, runID string, status pipeline.Status, produced []string) error {
	_, err := r.Engine.OnRunFinished(ctx, runID, status, produced...)
	return err
}

func (r EngineReporter) Inputs(ctx context.Context, runID string) ([]engine.Input, error) {
	return r.Engine.ResolveInputs(ctx, runID)
}

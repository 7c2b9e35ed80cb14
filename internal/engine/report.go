package engine

import (
	"context"
	"fmt"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// OnRunStarted records that an executor accepted a queued run. Repeated
// reports are ignored. Starting a run that already reached a terminal status
// returns *pipeline.InvalidTransitionError; the executor must not run it.
func (e *Engine) OnRunStarted(ctx context.Context, runID string) error {
	_, err := e.apply(ctx, "started", func(tx *txn) error {
		run, ok := e.runs[runID]
		if !ok {
			return &pipeline.RunNotFoundError{RunID: runID}
		}
		return e.start(ctx, tx, run)
	})
	return err
}

// OnStageStarted is OnRunStarted addressed by the active run of a stage at a
// revision, or by its latest run when none is active.
func (e *Engine) OnStageStarted(ctx context.Context, stageID, revision string) error {
	_, err := e.apply(ctx, "started", func(tx *txn) error {
		run := e.activeRun(stageID, revision)
		if run == nil {
			run = e.latestRun(stageID, revision)
		}
		if run == nil {
			return e.missingStageRun(ctx, stageID, revision)
		}
		return e.start(ctx, tx, run)
	})
	return err
}

// start moves a Queued run to Running. A repeated start is ignored. A run
// that already finished, for example one canceled after it was dispatched,
// fails with *pipeline.InvalidTransitionError so the executor drops it.
func (e *Engine) start(ctx context.Context, tx *txn, run *pipeline.Run) error {
	if run.Status == pipeline.StatusRunning {
		ctxlog.FromContext(ctx).Warn("Ignoring repeated start report.", "run", run.ID, "stage", run.StageID)
		return nil
	}
	if run.Status.Terminal() {
		return &pipeline.InvalidTransitionError{RunID: run.ID, From: run.Status, To: pipeline.StatusRunning}
	}
	if err := run.Transition(pipeline.StatusRunning, e.now(), ""); err != nil {
		return err
	}
	tx.touch(run)
	ctxlog.FromContext(ctx).Info("Run started.", "run", run.ID, "stage", run.StageID, "revision", run.Revision)
	return nil
}

// OnRunFinished applies an executor's terminal report. On success the
// produced paths are filtered through the stage's producing rules and
// recorded as the run's artifacts. Dependent runs are then re-evaluated and
// finish triggers fire. A report for a run that already finished is logged
// and ignored.
func (e *Engine) OnRunFinished(ctx context.Context, runID string, status pipeline.Status, produced ...string) (*Schedule, error) {
	if err := checkReport(status); err != nil {
		return nil, err
	}
	return e.apply(ctx, causeFinish+runID, func(tx *txn) error {
		run, ok := e.runs[runID]
		if !ok {
			return &pipeline.RunNotFoundError{RunID: runID}
		}
		tx.sched.Cause = causeFinish + run.StageID
		return e.finish(ctx, tx, run, status, "", produced)
	})
}

// OnStageFinished is OnRunFinished addressed by stage and revision. It
// applies to the active run; if the stage only has finished runs at the
// revision the report is treated as a duplicate.
func (e *Engine) OnStageFinished(ctx context.Context, stageID, revision string, status pipeline.Status, produced ...string) (*Schedule, error) {
	if err := checkReport(status); err != nil {
		return nil, err
	}
	return e.apply(ctx, causeFinish+stageID, func(tx *txn) error {
		run := e.activeRun(stageID, revision)
		if run == nil {
			return e.missingStageRun(ctx, stageID, revision)
		}
		return e.finish(ctx, tx, run, status, "", produced)
	})
}

func checkReport(status pipeline.Status) error {
	if status != pipeline.StatusSucceeded && status != pipeline.StatusFailed {
		return fmt.Errorf("report %s: %w", status, ErrInvalidStatus)
	}
	return nil
}

// missingStageRun tells a duplicate report apart from one about a run that
// never existed. The caller holds the lock.
func (e *Engine) missingStageRun(ctx context.Context, stageID, revision string) error {
	if _, ok := e.graph.Stage(stageID); !ok {
		return &pipeline.UnknownStageError{StageID: stageID}
	}
	if last := e.latestRun(stageID, revision); last != nil {
		ctxlog.FromContext(ctx).Warn("Ignoring report for finished run.", "run", last.ID, "stage", stageID, "revision", revision, "status", last.Status)
		return nil
	}
	return &pipeline.RunNotFoundError{StageID: stageID, Revision: revision}
}

// finish moves run to a terminal status reported by an executor, passing
// through Running when the start report was lost. The caller holds the lock.
func (e *Engine) finish(ctx context.Context, tx *txn, run *pipeline.Run, status pipeline.Status, reason string, produced []string) error {
	logger := ctxlog.FromContext(ctx)
	if run.Status.Terminal() {
		logger.Warn("Ignoring report for finished run.", "run", run.ID, "stage", run.StageID, "status", run.Status, "reported", status)
		return nil
	}
	if run.Status == pipeline.StatusPending {
		return &pipeline.InvalidTransitionError{RunID: run.ID, From: run.Status, To: status}
	}
	if run.Status == pipeline.StatusQueued {
		if err := run.Transition(pipeline.StatusRunning, e.now(), "finished without a start report"); err != nil {
			return err
		}
	}

	if status == pipeline.StatusSucceeded {
		run.Artifacts = artifacts.Filter(e.graph.ProducingRules(run.StageID), produced)
		tx.manifest = append(tx.manifest, manifest{
			ref:   artifacts.Ref{StageID: run.StageID, Revision: run.Revision, RunID: run.ID},
			paths: run.Artifacts,
		})
	}
	if err := run.Transition(status, e.now(), reason); err != nil {
		return err
	}
	tx.touch(run)
	logger.Info("Run finished.", "run", run.ID, "stage", run.StageID, "revision", run.Revision, "status", status, "artifacts", len(run.Artifacts))

	if err := e.propagate(ctx, tx, run); err != nil {
		return err
	}

	for _, st := range e.graph.FinishTriggers(run.StageID) {
		if st.Trigger.SuccessfulOnly && status != pipeline.StatusSucceeded {
			continue
		}
		err := e.schedule(ctx, tx, request{
			roots:     []string{st.StageID},
			revision:  run.Revision,
			committer: run.Committer,
			cause:     causeFinish + run.StageID,
			bind:      map[string]*pipeline.Run{run.StageID: run},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Cancel cancels a Pending or Queued run and everything bound to it under a
// cancel policy. Running runs cannot be canceled; canceling a canceled run is
// a no-op.
func (e *Engine) Cancel(ctx context.Context, runID, reason string) (*Schedule, error) {
	if reason == "" {
		reason = "canceled by request"
	}
	return e.apply(ctx, "cancel", func(tx *txn) error {
		run, ok := e.runs[runID]
		if !ok {
			return &pipeline.RunNotFoundError{RunID: runID}
		}
		if run.Status == pipeline.StatusCanceled {
			return nil
		}
		return e.cancel(ctx, tx, run, reason)
	})
}

package engine

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// Schedule is the outcome of one event.
type Schedule struct {
	// Cause names the event, e.g. "vcs", "manual" or "finish:build".
	Cause string
	// Runs are the newly created runs, upstream before downstream.
	Runs []*pipeline.Run
	// Queued are the runs that became ready during the event and were handed
	// to the dispatcher.
	Queued []*pipeline.Run
	// Deferred counts stages whose source-change trigger went into a quiet
	// period instead of being scheduled.
	Deferred int
}

// All yields the created runs in topological order.
func (s *Schedule) All() iter.Seq[*pipeline.Run] {
	return func(yield func(*pipeline.Run) bool) {
		if s == nil {
			return
		}
		for _, r := range s.Runs {
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of created runs.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Runs)
}

// request is one scheduling pass.
type request struct {
	roots     []string
	revision  string
	committer string
	cause     string
	// bind pins stages to existing runs, used for the run that fired a
	// finish trigger.
	bind map[string]*pipeline.Run
}

// schedule creates the runs needed to execute the roots at a revision. The
// closure of the roots is visited downstream first; a stage is required if it
// is a root or if a dependent got a new run. Required stages coalesce onto an
// active run of the same revision, reuse the latest successful run when every
// requiring edge allows it, and otherwise get a new run. The caller holds the
// lock.
func (e *Engine) schedule(ctx context.Context, tx *txn, req request) error {
	logger := ctxlog.FromContext(ctx)

	closure, err := e.graph.Closure(req.roots...)
	if err != nil {
		return err
	}
	order, err := e.graph.Order(closure)
	if err != nil {
		return err
	}

	required := make(map[string]bool, len(req.roots))
	for _, id := range req.roots {
		required[id] = true
	}
	fresh := make(map[string]bool)
	assigned := make(map[string]*pipeline.Run, len(order))
	created := make(map[string]*pipeline.Run)

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if !required[id] {
			continue
		}

		var run *pipeline.Run
		switch {
		case req.bind[id] != nil:
			run = req.bind[id]
		case e.activeRun(id, req.revision) != nil:
			run = e.activeRun(id, req.revision)
			logger.Debug("Coalescing onto active run.", "stage", id, "revision", req.revision, "run", run.ID, "status", run.Status)
		case fresh[id], isRoot(req.roots, id):
		default:
			run = e.latestRun(id, req.revision, pipeline.StatusSucceeded)
			if run != nil {
				logger.Debug("Reusing successful run.", "stage", id, "revision", req.revision, "run", run.ID)
			}
		}

		if run == nil {
			run = e.newRun(id, req)
			created[id] = run
			for _, d := range e.graph.Dependencies(id) {
				required[d.StageID] = true
				if d.Reuse == pipeline.ReuseNever {
					fresh[d.StageID] = true
				}
			}
		}
		assigned[id] = run
	}

	for _, id := range order {
		run, ok := created[id]
		if !ok {
			continue
		}
		for _, d := range e.graph.Dependencies(id) {
			up, ok := assigned[d.StageID]
			if !ok {
				return fmt.Errorf("stage %q: upstream %q was not resolved", id, d.StageID)
			}
			run.Upstream[d.StageID] = up.ID
		}
		e.insert(run)
		tx.touch(run)
		tx.sched.Runs = append(tx.sched.Runs, run)
		logger.Info("Run scheduled.", "run", run.ID, "stage", id, "revision", run.Revision, "cause", run.Cause)
	}

	for _, id := range order {
		if run, ok := created[id]; ok {
			if err := e.evaluate(ctx, tx, run); err != nil {
				return err
			}
		}
	}
	return nil
}

func isRoot(roots []string, id string) bool {
	return slices.Contains(roots, id)
}

func (e *Engine) newRun(stageID string, req request) *pipeline.Run {
	return &pipeline.Run{
		ID:        e.newID(),
		StageID:   stageID,
		Revision:  req.revision,
		Committer: req.committer,
		Cause:     req.cause,
		Status:    pipeline.StatusPending,
		Upstream:  make(map[string]string),
		CreatedAt: e.now(),
	}
}

// evaluate moves a Pending run to Queued once every bound upstream run has
// finished acceptably, or cancels it when an upstream failed under a cancel
// policy. The caller holds the lock.
func (e *Engine) evaluate(ctx context.Context, tx *txn, run *pipeline.Run) error {
	if run.Status != pipeline.StatusPending && run.Status != pipeline.StatusQueued {
		return nil
	}

	ready := true
	for _, d := range e.graph.Dependencies(run.StageID) {
		upID := run.Upstream[d.StageID]
		up, ok := e.runs[upID]
		if !ok {
			ctxlog.FromContext(ctx).Warn("Upstream run is missing.", "run", run.ID, "stage", run.StageID, "upstream_stage", d.StageID, "upstream_run", upID, "on_failure", d.OnFailure)
			if d.OnFailure == pipeline.FailureCancel {
				return e.cancel(ctx, tx, run, fmt.Sprintf("upstream %s run %q missing", d.StageID, upID))
			}
			continue
		}
		switch up.Status {
		case pipeline.StatusSucceeded:
		case pipeline.StatusFailed, pipeline.StatusCanceled:
			if d.OnFailure == pipeline.FailureCancel {
				reason := fmt.Sprintf("upstream %s run %s %s", up.StageID, up.ID, up.Status)
				return e.cancel(ctx, tx, run, reason)
			}
		default:
			ready = false
		}
	}

	if ready && run.Status == pipeline.StatusPending {
		if err := run.Transition(pipeline.StatusQueued, e.now(), ""); err != nil {
			return err
		}
		tx.touch(run)
		tx.sched.Queued = append(tx.sched.Queued, run)
		ctxlog.FromContext(ctx).Info("Run queued.", "run", run.ID, "stage", run.StageID, "revision", run.Revision)
	}
	return nil
}

// propagate re-evaluates every run bound to run as an upstream.
func (e *Engine) propagate(ctx context.Context, tx *txn, run *pipeline.Run) error {
	for _, down := range e.downstream[run.ID] {
		if err := e.evaluate(ctx, tx, down); err != nil {
			return err
		}
	}
	return nil
}

// cancel moves a Pending or Queued run to Canceled and propagates.
func (e *Engine) cancel(ctx context.Context, tx *txn, run *pipeline.Run, reason string) error {
	if err := run.Transition(pipeline.StatusCanceled, e.now(), reason); err != nil {
		return err
	}
	tx.touch(run)
	ctxlog.FromContext(ctx).Info("Run canceled.", "run", run.ID, "stage", run.StageID, "revision", run.Revision, "reason", reason)
	return e.propagate(ctx, tx, run)
}

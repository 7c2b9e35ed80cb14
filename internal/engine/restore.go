package engine

import (
	"context"
	"fmt"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// Snapshot returns copies of every run in creation order.
func (e *Engine) Snapshot() []*pipeline.Run {
	return e.Runs(RunFilter{})
}

// Restore loads a run table saved by Snapshot into an engine that has no runs
// yet. Pending runs are re-evaluated and Queued runs are dispatched again.
func (e *Engine) Restore(ctx context.Context, runs []*pipeline.Run) error {
	_, err := e.apply(ctx, "restore", func(tx *txn) error {
		if len(e.runs) > 0 {
			return fmt.Errorf("restore into an engine with %d runs", len(e.runs))
		}
		seen := make(map[string]bool, len(runs))
		for _, r := range runs {
			if _, ok := e.graph.Stage(r.StageID); !ok {
				return &pipeline.UnknownStageError{StageID: r.StageID, ReferencedBy: "run " + r.ID}
			}
			if seen[r.ID] {
				return fmt.Errorf("restore: duplicate run %q", r.ID)
			}
			seen[r.ID] = true
		}

		for _, r := range runs {
			c := r.Clone()
			if c.Upstream == nil {
				c.Upstream = make(map[string]string)
			}
			e.insert(c)
			if c.Status == pipeline.StatusQueued {
				tx.sched.Queued = append(tx.sched.Queued, c)
			}
		}
		for _, r := range e.order {
			if r.Status == pipeline.StatusPending {
				if err := e.evaluate(ctx, tx, r); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Run table restored.", "runs", len(runs))
	return nil
}

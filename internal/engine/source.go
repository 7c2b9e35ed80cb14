package engine

import (
	"context"
	"time"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/debounce"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

const (
	causeSource = "vcs"
	causeManual = "manual"
	causeFinish = "finish:"

	anyCommitter = "*"
)

// sourceEvent is the payload held by a quiet-period window.
type sourceEvent struct {
	stageID   string
	revision  string
	committer string
}

func quietKey(st pipeline.StageTrigger, committer string) string {
	if st.Trigger.GroupByCommitter {
		return st.StageID + "|" + committer
	}
	return st.StageID + "|" + anyCommitter
}

// OnSourceChange handles a new revision reported by source control. Stages
// whose trigger has no quiet period are scheduled right away. The others
// open or extend a quiet-period window; a window that had already expired
// by timestamp is scheduled now, with the revision it collected.
func (e *Engine) OnSourceChange(ctx context.Context, revision, committer string, timestamp time.Time) (*Schedule, error) {
	ctxlog.FromContext(ctx).Info("Source change received.", "revision", revision, "committer", committer)

	return e.apply(ctx, causeSource, func(tx *txn) error {
		var roots []string
		var flushed []debounce.Entry[sourceEvent]
		for _, st := range e.graph.SourceTriggered() {
			if st.Trigger.QuietPeriod <= 0 {
				if !isRoot(roots, st.StageID) {
					roots = append(roots, st.StageID)
				}
				continue
			}
			ev := sourceEvent{stageID: st.StageID, revision: revision, committer: committer}
			if old, ok := e.quiet.Add(quietKey(st, committer), ev, timestamp, st.Trigger.QuietPeriod); ok {
				flushed = append(flushed, old)
			}
			tx.sched.Deferred++
		}

		for _, entry := range flushed {
			if err := e.scheduleQuiet(ctx, tx, entry); err != nil {
				return err
			}
		}
		if len(roots) == 0 {
			return nil
		}
		return e.schedule(ctx, tx, request{roots: roots, revision: revision, committer: committer, cause: causeSource})
	})
}

func (e *Engine) scheduleQuiet(ctx context.Context, tx *txn, entry debounce.Entry[sourceEvent]) error {
	ev := entry.Payload
	ctxlog.FromContext(ctx).Debug("Quiet period over.",
		"stage", ev.stageID, "revision", ev.revision, "key", entry.Key, "events", entry.Count)
	return e.schedule(ctx, tx, request{
		roots:     []string{ev.stageID},
		revision:  ev.revision,
		committer: ev.committer,
		cause:     causeSource,
	})
}

// fire is the quiet-period timer callback.
func (e *Engine) fire(key string, gen uint64) {
	ctx := e.ctx
	sched, err := e.apply(ctx, causeSource, func(tx *txn) error {
		entry, ok := e.quiet.Take(key, gen)
		if !ok {
			return nil
		}
		return e.scheduleQuiet(ctx, tx, entry)
	})
	if err != nil {
		ctxlog.FromContext(ctx).Error("Scheduling after quiet period failed.", "key", key, "error", err)
		return
	}
	if sched.Len() > 0 {
		ctxlog.FromContext(ctx).Debug("Quiet period schedule applied.", "key", key, "runs", sched.Len())
	}
}

// FlushQuietPeriods closes every open quiet-period window now and schedules
// what they collected.
func (e *Engine) FlushQuietPeriods(ctx context.Context) (*Schedule, error) {
	return e.apply(ctx, causeSource, func(tx *txn) error {
		for _, entry := range e.quiet.Drain() {
			if err := e.scheduleQuiet(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Trigger schedules a stage by hand, as if its source-change trigger fired
// without a quiet period.
func (e *Engine) Trigger(ctx context.Context, stageID, revision, committer string) (*Schedule, error) {
	if _, ok := e.graph.Stage(stageID); !ok {
		return nil, &pipeline.UnknownStageError{StageID: stageID}
	}
	return e.apply(ctx, causeManual, func(tx *txn) error {
		return e.schedule(ctx, tx, request{roots: []string{stageID}, revision: revision, committer: committer, cause: causeManual})
	})
}

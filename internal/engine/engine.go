package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/debounce"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// ErrInvalidStatus is returned when an executor reports a status other than
// succeeded or failed as a run's outcome.
var ErrInvalidStatus = errors.New("only succeeded or failed can be reported")

// Dispatcher hands queued runs to an executor. Dispatch must not block for
// the duration of the run; the outcome is reported back through the engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, run *pipeline.Run) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, run *pipeline.Run) error

func (f DispatcherFunc) Dispatch(ctx context.Context, run *pipeline.Run) error { return f(ctx, run) }

// Recorder receives a copy of every run that changed. It is called while the
// engine holds its lock and must not block.
type Recorder interface {
	Record(run *pipeline.Run)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDispatcher sets where queued runs are sent. Without one, runs stay
// Queued until reported on.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithArtifactStore sets the store that receives artifact manifests.
func WithArtifactStore(s artifacts.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithRecorder sets the run journal.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the uuid based run ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithAfterFunc replaces the timer factory used for quiet periods.
func WithAfterFunc(after debounce.AfterFunc) Option {
	return func(e *Engine) { e.after = after }
}

type runKey struct {
	stageID  string
	revision string
}

// Engine processes events against the run table of one graph.
type Engine struct {
	mu    sync.Mutex
	ctx   context.Context
	graph *pipeline.Graph

	runs       map[string]*pipeline.Run
	order      []*pipeline.Run
	byKey      map[runKey][]*pipeline.Run
	downstream map[string][]*pipeline.Run
	quiet      *debounce.Debouncer[sourceEvent]

	dispatcher Dispatcher
	store      artifacts.Store
	recorder   Recorder
	now        func() time.Time
	newID      func() string
	after      debounce.AfterFunc
}

// New creates an engine for g. ctx supplies the logger and is used for work
// started by quiet-period timers; its cancellation is ignored.
func New(ctx context.Context, g *pipeline.Graph, opts ...Option) *Engine {
	e := &Engine{
		ctx:        context.WithoutCancel(ctx),
		graph:      g,
		runs:       make(map[string]*pipeline.Run),
		byKey:      make(map[runKey][]*pipeline.Run),
		downstream: make(map[string][]*pipeline.Run),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.quiet = debounce.New[sourceEvent](e.after, e.fire)
	return e
}

// Graph returns the graph the engine was built for.
func (e *Engine) Graph() *pipeline.Graph {
	return e.graph
}

// txn collects the effects of one event while the lock is held.
type txn struct {
	sched    *Schedule
	changed  []*pipeline.Run
	seen     map[string]bool
	manifest []manifest
}

type manifest struct {
	ref   artifacts.Ref
	paths []string
}

func newTxn(cause string) *txn {
	return &txn{sched: &Schedule{Cause: cause}, seen: make(map[string]bool)}
}

func (tx *txn) touch(r *pipeline.Run) {
	if !tx.seen[r.ID] {
		tx.seen[r.ID] = true
		tx.changed = append(tx.changed, r)
	}
}

// apply runs fn under the lock and then performs the collected side effects.
// The returned schedule holds copies, so callers may keep it.
func (e *Engine) apply(ctx context.Context, cause string, fn func(tx *txn) error) (*Schedule, error) {
	tx := newTxn(cause)

	e.mu.Lock()
	err := fn(tx)
	sched := e.commit(tx)
	e.mu.Unlock()

	e.recordManifests(ctx, tx.manifest)
	e.dispatch(ctx, sched.Queued)
	return sched, err
}

// commit copies the changed runs out of the table. The caller holds the lock.
func (e *Engine) commit(tx *txn) *Schedule {
	for _, r := range tx.changed {
		if e.recorder != nil {
			e.recorder.Record(r.Clone())
		}
	}
	out := &Schedule{Cause: tx.sched.Cause, Deferred: tx.sched.Deferred}
	for _, r := range tx.sched.Runs {
		out.Runs = append(out.Runs, r.Clone())
	}
	for _, r := range tx.sched.Queued {
		// A run queued and canceled within the same event is not dispatched.
		if r.Status == pipeline.StatusQueued {
			out.Queued = append(out.Queued, r.Clone())
		}
	}
	return out
}

func (e *Engine) recordManifests(ctx context.Context, ms []manifest) {
	if e.store == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	for _, m := range ms {
		if err := e.store.Record(ctx, m.ref, m.paths); err != nil {
			logger.Warn("Failed to record artifact manifest.", "run", m.ref.RunID, "stage", m.ref.StageID, "error", err)
		}
	}
}

// dispatch sends queued runs to the dispatcher. A run the dispatcher rejects
// is canceled, which may in turn queue dependents that ignore failures.
func (e *Engine) dispatch(ctx context.Context, runs []*pipeline.Run) {
	if e.dispatcher == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	for _, r := range runs {
		if err := e.dispatcher.Dispatch(ctx, r); err != nil {
			logger.Error("Dispatch failed, canceling run.", "run", r.ID, "stage", r.StageID, "error", err)
			_, _ = e.apply(ctx, "dispatch", func(tx *txn) error {
				live, ok := e.runs[r.ID]
				if !ok || live.Status != pipeline.StatusQueued {
					return nil
				}
				return e.cancel(ctx, tx, live, "dispatch failed: "+err.Error())
			})
			continue
		}
		logger.Debug("Run dispatched.", "run", r.ID, "stage", r.StageID, "revision", r.Revision)
	}
}

// RunFilter selects runs. Zero fields match everything.
type RunFilter struct {
	StageID  string
	Revision string
	Status   *pipeline.Status
	Active   bool
}

func (f RunFilter) match(r *pipeline.Run) bool {
	switch {
	case f.StageID != "" && r.StageID != f.StageID:
		return false
	case f.Revision != "" && r.Revision != f.Revision:
		return false
	case f.Status != nil && r.Status != *f.Status:
		return false
	case f.Active && !r.Active():
		return false
	}
	return true
}

// Runs returns copies of the matching runs in creation order.
func (e *Engine) Runs(filter RunFilter) []*pipeline.Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*pipeline.Run
	for _, r := range e.order {
		if filter.match(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Run returns a copy of one run.
func (e *Engine) Run(id string) (*pipeline.Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[id]
	if !ok {
		return nil, &pipeline.RunNotFoundError{RunID: id}
	}
	return r.Clone(), nil
}

// PendingQuietPeriods returns how many quiet-period windows are open.
func (e *Engine) PendingQuietPeriods() int {
	return e.quiet.Len()
}

// activeRun returns the non-terminal run of stage at revision, if any.
func (e *Engine) activeRun(stageID, revision string) *pipeline.Run {
	runs := e.byKey[runKey{stageID, revision}]
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Active() {
			return runs[i]
		}
	}
	return nil
}

// latestRun returns the most recently created run of stage at revision whose
// status is one of statuses, or any status when none are given.
func (e *Engine) latestRun(stageID, revision string, statuses ...pipeline.Status) *pipeline.Run {
	runs := e.byKey[runKey{stageID, revision}]
	for i := len(runs) - 1; i >= 0; i-- {
		if len(statuses) == 0 || slices.Contains(statuses, runs[i].Status) {
			return runs[i]
		}
	}
	return nil
}

// insert adds a run to the table and its indexes.
func (e *Engine) insert(r *pipeline.Run) {
	e.runs[r.ID] = r
	e.order = append(e.order, r)
	key := runKey{r.StageID, r.Revision}
	e.byKey[key] = append(e.byKey[key], r)
	for _, d := range e.graph.Dependencies(r.StageID) {
		if upID, ok := r.Upstream[d.StageID]; ok {
			e.downstream[upID] = append(e.downstream[upID], r)
		}
	}
}

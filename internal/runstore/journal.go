package runstore

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// writeTimeout bounds a single SaveRun.
const writeTimeout = 10 * time.Second

// Journal writes runs to a Store from a background goroutine. Record never
// blocks: the queue is unbounded and writes keep the order they were
// recorded in. Failed writes are logged and dropped.
type Journal struct {
	ctx   context.Context
	store Store

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*pipeline.Run
	closed bool
	done   chan struct{}
}

// NewJournal starts a journal writing to store. ctx carries the logger; its
// cancellation is ignored so runs recorded during shutdown are still written.
// Close ends the journal.
func NewJournal(ctx context.Context, store Store) *Journal {
	j := &Journal{ctx: context.WithoutCancel(ctx), store: store, done: make(chan struct{})}
	j.cond = sync.NewCond(&j.mu)
	go j.loop()
	return j
}

// Record queues a run. Records after Close are dropped.
func (j *Journal) Record(run *pipeline.Run) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.queue = append(j.queue, run)
	j.cond.Signal()
}

// Close stops accepting records and waits until the queue is written or ctx
// is done.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	j.closed = true
	j.cond.Signal()
	j.mu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) loop() {
	defer close(j.done)
	logger := ctxlog.FromContext(j.ctx)

	for {
		j.mu.Lock()
		for len(j.queue) == 0 && !j.closed {
			j.cond.Wait()
		}
		batch := j.queue
		j.queue = nil
		closed := j.closed
		j.mu.Unlock()

		for _, run := range batch {
			if err := j.save(run); err != nil {
				logger.Error("Failed to persist run.", "run", run.ID, "stage", run.StageID, "status", run.Status, "error", err)
			}
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}

func (j *Journal) save(run *pipeline.Run) error {
	ctx, cancel := context.WithTimeout(j.ctx, writeTimeout)
	defer cancel()
	return j.store.SaveRun(ctx, run)
}

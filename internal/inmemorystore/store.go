package inmemorystore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/pipegraph/internal/pipeline"
	"github.com/specialistvlad/pipegraph/internal/runstore"
)

// Store is an in-memory implementation of runstore.Store using sync.Map
// for fine-grained concurrent access without global lock contention.
//
// Each run ID maps to an entry holding the sequence number of its first save
// and the latest saved copy, so LoadRuns can return runs in creation order.
type Store struct {
	runs sync.Map // Key: run ID string, Value: *entry
	seq  atomic.Uint64
}

type entry struct {
	seq uint64
	run atomic.Pointer[pipeline.Run]
}

var _ runstore.Store = (*Store)(nil)

// New creates a new, empty in-memory run store.
func New() *Store {
	return &Store{}
}

// SaveRun stores a copy of the run, replacing an earlier copy with the same ID.
func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	v, ok := s.runs.Load(run.ID)
	if !ok {
		v, _ = s.runs.LoadOrStore(run.ID, &entry{seq: s.seq.Add(1)})
	}
	v.(*entry).run.Store(run.Clone())
	return nil
}

// GetRun returns a copy of one run, or nil if it was never saved.
func (s *Store) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	v, ok := s.runs.Load(id)
	if !ok {
		return nil, nil
	}
	return v.(*entry).run.Load().Clone(), nil
}

// LoadRuns returns copies of every run in the order they were first saved.
func (s *Store) LoadRuns(ctx context.Context) ([]*pipeline.Run, error) {
	type item struct {
		seq uint64
		run *pipeline.Run
	}
	var items []item
	s.runs.Range(func(_, v any) bool {
		e := v.(*entry)
		if r := e.run.Load(); r != nil {
			items = append(items, item{seq: e.seq, run: r.Clone()})
		}
		return true
	})
	slices.SortFunc(items, func(a, b item) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]*pipeline.Run, 0, len(items))
	for _, it := range items {
		out = append(out, it.run)
	}
	return out, nil
}

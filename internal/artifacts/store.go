// Package artifacts describes what stages produce and consume. It parses the
// glob based artifact rules used in pipeline definitions, maps a producer's
// output tree onto a consumer's input locations, and records produced paths
// in an artifact store.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNotRecorded is returned by a Store when nothing was recorded for a run.
var ErrNotRecorded = errors.New("no artifacts recorded")

// Ref identifies the run whose artifacts are recorded.
type Ref struct {
	StageID  string
	Revision string
	RunID    string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@%s#%s", r.StageID, r.Revision, r.RunID)
}

// Store records the paths produced by successful runs.
type Store interface {
	Record(ctx context.Context, ref Ref, paths []string) error
	List(ctx context.Context, ref Ref) ([]string, error)
}

// MemoryStore keeps artifact manifests in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[Ref][]string
}

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{manifests: make(map[Ref][]string)}
}

// Record stores a copy of paths under ref, replacing any earlier manifest.
func (s *MemoryStore) Record(_ context.Context, ref Ref, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[ref] = slices.Clone(paths)
	return nil
}

// List returns the recorded manifest, or ErrNotRecorded.
func (s *MemoryStore) List(_ context.Context, ref Ref) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths, ok := s.manifests[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotRecorded)
	}
	return slices.Clone(paths), nil
}

// Package runstore defines how the run table is persisted and provides the
// Journal, an asynchronous writer that keeps persistence off the engine's
// critical path.
package runstore

import (
	"context"

	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// Store persists runs. SaveRun inserts or replaces a run by ID; LoadRuns
// returns every run in the order it was first saved.
type Store interface {
	SaveRun(ctx context.Context, run *pipeline.Run) error
	LoadRuns(ctx context.Context) ([]*pipeline.Run, error)
}

package inmemorystore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

func TestSaveAndGetRun(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Get a run that doesn't exist yet
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, run)

	original := &pipeline.Run{ID: "run-1", StageID: "build", Status: pipeline.StatusPending, Upstream: map[string]string{"test": "run-0"}}
	require.NoError(t, s.SaveRun(ctx, original))

	// The store keeps its own copy
	original.Upstream["test"] = "changed"
	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-0", run.Upstream["test"])

	require.NoError(t, s.SaveRun(ctx, &pipeline.Run{ID: "run-1", StageID: "build", Status: pipeline.StatusQueued}))
	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusQueued, run.Status)
}

func TestLoadRunsKeepsFirstSaveOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SaveRun(ctx, &pipeline.Run{ID: id}))
	}
	require.NoError(t, s.SaveRun(ctx, &pipeline.Run{ID: "c", Status: pipeline.StatusSucceeded}))

	runs, err := s.LoadRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, pipeline.StatusSucceeded, runs[0].Status)
	assert.Equal(t, "a", runs[1].ID)
	assert.Equal(t, "b", runs[2].ID)
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	numGoroutines := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i%10)
			err := s.SaveRun(ctx, &pipeline.Run{ID: id, Status: pipeline.StatusRunning})
			assert.NoError(t, err)
			run, err := s.GetRun(ctx, id)
			assert.NoError(t, err)
			assert.NotNil(t, run)
		}(i)
	}
	wg.Wait()

	runs, err := s.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 10)
}

package integration_tests

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/debounce"
	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/inmemorystore"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
	"github.com/specialistvlad/pipegraph/internal/runstore"
	"github.com/specialistvlad/pipegraph/internal/snapshot"
	"github.com/specialistvlad/pipegraph/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

// neverFire keeps quiet periods open until they are flushed.
func neverFire(time.Duration, func()) debounce.Timer { return idleTimer{} }

func loadRelease(t *testing.T) *testutil.HarnessResult {
	t.Helper()
	res := testutil.RunPipelineTest(t, map[string]string{
		"release.hcl": releaseHCL,
		"deploy.hcl":  deployHCL,
	}, "DEPLOY_HOST=staging")
	require.NoError(t, res.Err)
	return res
}

func onlyRun(t *testing.T, eng *engine.Engine, stageID, revision string) *pipeline.Run {
	t.Helper()
	runs := eng.Runs(engine.RunFilter{StageID: stageID, Revision: revision})
	require.Len(t, runs, 1, "runs of %s at %s", stageID, revision)
	return runs[0]
}

func finish(t *testing.T, eng *engine.Engine, stageID, revision string, status pipeline.Status, produced ...string) *engine.Schedule {
	t.Helper()
	ctx := context.Background()
	run := onlyRun(t, eng, stageID, revision)
	require.NoError(t, eng.OnRunStarted(ctx, run.ID))
	s, err := eng.OnRunFinished(ctx, run.ID, status, produced...)
	require.NoError(t, err)
	return s
}

func TestRelease_FromSourceChangeToDeploy(t *testing.T) {
	res := loadRelease(t)
	ctx := res.Ctx

	runs := inmemorystore.New()
	journal := runstore.NewJournal(ctx, runs)
	eng := engine.New(ctx, res.Graph,
		engine.WithArtifactStore(artifacts.NewMemoryStore()),
		engine.WithRecorder(journal),
		engine.WithAfterFunc(neverFire),
		engine.WithClock(func() time.Time { return t0 }),
	)

	// frontend has no quiet period, test waits for one.
	s, err := eng.OnSourceChange(ctx, "r1", "alice", t0)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "frontend", s.Runs[0].StageID)
	assert.Equal(t, 1, s.Deferred)
	assert.Equal(t, 1, eng.PendingQuietPeriods())

	s, err = eng.FlushQuietPeriods(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "test", s.Runs[0].StageID)
	assert.Equal(t, 0, eng.PendingQuietPeriods())

	// test succeeding fires the finish trigger of build.
	s = finish(t, eng, "test", "r1", pipeline.StatusSucceeded)
	require.Equal(t, 1, s.Len())
	build := s.Runs[0]
	assert.Equal(t, "build", build.StageID)
	assert.Equal(t, onlyRun(t, eng, "test", "r1").ID, build.Upstream["test"])
	require.Len(t, s.Queued, 1)

	// build succeeding schedules deploy, which coalesces onto the frontend
	// run that is still queued.
	s = finish(t, eng, "build", "r1", pipeline.StatusSucceeded,
		"out/bin/app", "out/bin/app.tmp", "out/log.txt", "src/main.go")
	require.Equal(t, 1, s.Len())
	deploy := s.Runs[0]
	assert.Equal(t, "deploy", deploy.StageID)
	assert.Equal(t, pipeline.StatusPending, deploy.Status)
	assert.Equal(t, onlyRun(t, eng, "frontend", "r1").ID, deploy.Upstream["frontend"])
	assert.Equal(t, []string{"out/bin/app", "out/log.txt"}, onlyRun(t, eng, "build", "r1").Artifacts)

	s = finish(t, eng, "frontend", "r1", pipeline.StatusSucceeded, "dist/index.html", "dist/js/app.js")
	assert.Equal(t, 0, s.Len())
	require.Len(t, s.Queued, 1)
	assert.Equal(t, deploy.ID, s.Queued[0].ID)

	inputs, err := eng.ResolveInputs(ctx, deploy.ID)
	require.NoError(t, err)
	want := []engine.Input{
		{
			StageID: "build",
			RunID:   build.ID,
			Files:   []artifacts.Mapping{{Source: "out/bin/app", Target: "bin/app"}},
		},
		{
			StageID: "frontend",
			RunID:   onlyRun(t, eng, "frontend", "r1").ID,
			Files: []artifacts.Mapping{
				{Source: "dist/index.html", Target: "web/index.html"},
				{Source: "dist/js/app.js", Target: "web/js/app.js"},
			},
		},
	}
	if diff := cmp.Diff(want, inputs); diff != "" {
		t.Errorf("ResolveInputs() mismatch (-want +got):\n%s", diff)
	}

	finish(t, eng, "deploy", "r1", pipeline.StatusSucceeded)
	assert.Empty(t, eng.Runs(engine.RunFilter{Active: true}))

	require.NoError(t, journal.Close(ctx))
	stored, err := runs.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
	for _, r := range stored {
		assert.Equal(t, pipeline.StatusSucceeded, r.Status, r.StageID)
	}
}

func TestRelease_FailureCancelsDownstream(t *testing.T) {
	res := loadRelease(t)
	ctx := res.Ctx
	eng := engine.New(ctx, res.Graph, engine.WithAfterFunc(neverFire))

	s, err := eng.Trigger(ctx, "deploy", "r2", "bob")
	require.NoError(t, err)
	var stages []string
	for r := range s.All() {
		stages = append(stages, r.StageID)
	}
	assert.ElementsMatch(t, []string{"frontend", "test", "build", "deploy"}, stages)
	assert.Equal(t, "deploy", stages[len(stages)-1])

	// successful_only keeps build's finish trigger from firing.
	s = finish(t, eng, "test", "r2", pipeline.StatusFailed)
	assert.Equal(t, 0, s.Len())

	assert.Equal(t, pipeline.StatusCanceled, onlyRun(t, eng, "build", "r2").Status)
	assert.Equal(t, pipeline.StatusCanceled, onlyRun(t, eng, "deploy", "r2").Status)
	assert.Equal(t, pipeline.StatusQueued, onlyRun(t, eng, "frontend", "r2").Status)

	_, err = eng.ResolveArtifacts(ctx, "deploy", "build", "r2")
	var notFound *pipeline.ArtifactNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "build", notFound.Producer)

	// frontend is never reused, so a missing run is not an error.
	files, err := eng.ResolveArtifacts(ctx, "deploy", "frontend", "r2")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRelease_SnapshotSurvivesRestart(t *testing.T) {
	res := loadRelease(t)
	ctx := res.Ctx
	path := filepath.Join(res.Dir, "state", "snapshot.yaml")

	first := engine.New(ctx, res.Graph, engine.WithAfterFunc(neverFire))
	_, err := first.Trigger(ctx, "build", "r3", "carol")
	require.NoError(t, err)
	finish(t, first, "test", "r3", pipeline.StatusSucceeded)
	finish(t, first, "build", "r3", pipeline.StatusSucceeded, "out/bin/app")

	require.NoError(t, snapshot.Save(ctx, path, res.Graph, first.Snapshot()))

	restored, err := snapshot.Restore(ctx, path, res.Graph)
	require.NoError(t, err)
	second := engine.New(ctx, res.Graph, engine.WithAfterFunc(neverFire))
	require.NoError(t, second.Restore(ctx, restored))

	if diff := cmp.Diff(first.Snapshot(), second.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("restored runs mismatch (-want +got):\n%s", diff)
	}

	// build's finish trigger scheduled deploy before the restart.
	finish(t, second, "frontend", "r3", pipeline.StatusSucceeded, "dist/index.html")
	finish(t, second, "deploy", "r3", pipeline.StatusSucceeded)

	// The next deploy reuses build at r3 but never frontend.
	s, err := second.Trigger(ctx, "deploy", "r3", "carol")
	require.NoError(t, err)
	var stages []string
	var deploy *pipeline.Run
	for r := range s.All() {
		stages = append(stages, r.StageID)
		if r.StageID == "deploy" {
			deploy = r
		}
	}
	assert.ElementsMatch(t, []string{"frontend", "deploy"}, stages)
	require.NotNil(t, deploy)
	assert.Equal(t, onlyRun(t, second, "build", "r3").ID, deploy.Upstream["build"])
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/executor"
	"github.com/specialistvlad/pipegraph/internal/inmemorystore"
	"github.com/specialistvlad/pipegraph/internal/pgstore"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
	"github.com/specialistvlad/pipegraph/internal/runstore"
	"github.com/specialistvlad/pipegraph/internal/snapshot"
)

// closer releases a backend on shutdown.
type closer func(ctx context.Context) error

func (a *App) openArtifactStore(ctx context.Context) (artifacts.Store, error) {
	logger := ctxlog.FromContext(ctx)
	if a.config.Artifacts != BackendMinIO {
		logger.Debug("Using in-memory artifact store.")
		return artifacts.NewMemoryStore(), nil
	}

	cfg, err := artifacts.MinIOConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("minio config: %w", err)
	}
	client, err := artifacts.NewMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	store := artifacts.NewMinIOStore(client, cfg)
	if err := store.EnsureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	logger.Info("Using MinIO artifact store.", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return store, nil
}

func (a *App) openRunStore(ctx context.Context) (runstore.Store, closer, error) {
	logger := ctxlog.FromContext(ctx)
	if a.config.State != BackendPostgres {
		logger.Debug("Using in-memory run store.")
		return inmemorystore.New(), nil, nil
	}

	cfg, err := pgstore.ConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("postgres config: %w", err)
	}
	db, err := pgstore.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store := pgstore.New(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("Using PostgreSQL run store.")
	return store, closeDB(db), nil
}

func closeDB(db *sql.DB) closer {
	return func(context.Context) error { return db.Close() }
}

func (a *App) openExecutor(ctx context.Context, reporter executor.Reporter) (executor.Executor, error) {
	switch a.config.Executor {
	case ExecutorSocketIO:
		return executor.DialSocketIO(ctx, executor.SocketIOConfig{URL: a.config.ExecutorURL}, reporter)
	default:
		workspace := a.config.Workspace
		if workspace == "" {
			workspace = filepath.Join(os.TempDir(), "pipegraph")
		}
		ctxlog.FromContext(ctx).Info("Using local executor.", "workspace", workspace, "workers", a.config.Workers)
		return executor.NewLocal(ctx, workspace, a.config.Workers, reporter)
	}
}

// loadRuns returns the runs to resume: the run store's when it has any,
// otherwise the snapshot's. Runs of stages the pipeline no longer declares
// are dropped.
func (a *App) loadRuns(ctx context.Context, store runstore.Store) ([]*pipeline.Run, error) {
	logger := ctxlog.FromContext(ctx)
	runs, err := store.LoadRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	if len(runs) == 0 && a.config.SnapshotPath != "" {
		runs, err = snapshot.Restore(ctx, a.config.SnapshotPath, a.graph)
		if err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Debug("Runs loaded from snapshot.", "path", a.config.SnapshotPath, "runs", len(runs))
		return runs, nil
	}

	kept := runs[:0]
	for _, r := range runs {
		if _, ok := a.graph.Stage(r.StageID); !ok {
			logger.Warn("Dropping run of a stage no longer in the pipeline.", "run", r.ID, "stage", r.StageID)
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

func (a *App) saveSnapshot(ctx context.Context, runs []*pipeline.Run) error {
	if a.config.SnapshotPath == "" {
		return nil
	}
	if err := snapshot.Save(ctx, a.config.SnapshotPath, a.graph, runs); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Snapshot saved.", "path", a.config.SnapshotPath, "runs", len(runs))
	return nil
}

func closeAll(ctx context.Context, closers ...closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

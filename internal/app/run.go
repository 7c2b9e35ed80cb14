package app

import (
	"context"
	"fmt"
	"net"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/executor"
	"github.com/specialistvlad/pipegraph/internal/runstore"
	"github.com/specialistvlad/pipegraph/internal/server"
)

// Run starts the engine and serves until ctx is done, then drains pending
// quiet periods, stops the executor and persists state.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.ValidateOnly {
		a.logger.Info("Pipeline is valid.", "stages", a.graph.Len())
		return nil
	}

	store, err := a.openArtifactStore(ctx)
	if err != nil {
		return err
	}
	runs, closeRuns, err := a.openRunStore(ctx)
	if err != nil {
		return err
	}
	restored, err := a.loadRuns(ctx, runs)
	if err != nil {
		_ = closeAll(ctx, closeRuns)
		return err
	}

	journal := runstore.NewJournal(ctx, runs)
	reporter := &executor.EngineReporter{}
	exec, err := a.openExecutor(ctx, reporter)
	if err != nil {
		_ = closeAll(ctx, journal.Close, closeRuns)
		return err
	}

	eng := engine.New(ctx, a.graph,
		engine.WithDispatcher(executor.NewDispatcher(a.graph, exec)),
		engine.WithArtifactStore(store),
		engine.WithRecorder(journal),
	)
	reporter.Engine = eng

	if err := eng.Restore(ctx, restored); err != nil {
		_ = closeAll(ctx, exec.Close, journal.Close, closeRuns)
		return fmt.Errorf("restore runs: %w", err)
	}
	a.logger.Info("Engine started.", "restored_runs", len(restored))

	srv := server.New(ctx, eng, server.Config{Addr: a.config.Listen, WebhookSecret: a.config.WebhookSecret})
	ln, err := srv.Listen()
	if err != nil {
		_ = closeAll(ctx, exec.Close, journal.Close, closeRuns)
		return err
	}
	return a.serve(ctx, srv, ln, eng, exec, journal, closeRuns)
}

func (a *App) serve(ctx context.Context, srv *server.Server, ln net.Listener, eng *engine.Engine, exec executor.Executor, journal *runstore.Journal, closeRuns closer) error {
	serveErr := srv.Run(ctx, ln)

	a.logger.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.ShutdownTimeout)
	defer cancel()

	if sched, err := eng.FlushQuietPeriods(shutdownCtx); err != nil {
		a.logger.Error("Failed to flush quiet periods.", "error", err)
	} else if sched.Len() > 0 {
		a.logger.Info("Quiet periods flushed.", "runs", sched.Len())
	}
	if err := exec.Close(shutdownCtx); err != nil {
		a.logger.Warn("Executor did not stop cleanly.", "error", err)
	}
	snapErr := a.saveSnapshot(shutdownCtx, eng.Snapshot())
	closeErr := closeAll(shutdownCtx, journal.Close, closeRuns)

	for _, err := range []error{serveErr, snapErr, closeErr} {
		if err != nil {
			return err
		}
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

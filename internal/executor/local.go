package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/shlex"
	"github.com/mattn/go-zglob"
	"golang.org/x/sync/semaphore"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// ErrClosed is returned by Execute after Close.
var ErrClosed = errors.New("executor closed")

// maxLoggedOutput caps how much step output is attached to a failure log.
const maxLoggedOutput = 4 << 10

// Local runs steps as processes on this machine. Each run gets its own
// directory under the workspace; produced paths are relative to it. At most
// Workers runs execute at once.
type Local struct {
	workspace string
	reporter  Reporter
	slots     *semaphore.Weighted
	// ctx outlives the dispatching request and is canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Executor = (*Local)(nil)

// NewLocal creates a local executor rooted at workspace.
func NewLocal(ctx context.Context, workspace string, workers int, reporter Reporter) (*Local, error) {
	if workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", workers)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", workspace, err)
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Local{
		workspace: workspace,
		reporter:  reporter,
		slots:     semaphore.NewWeighted(int64(workers)),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Execute starts the run in the background. It never blocks on a free worker.
func (l *Local) Execute(ctx context.Context, req Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.wg.Add(1)
	logger := ctxlog.FromContext(ctx)
	go func() {
		defer l.wg.Done()
		l.run(ctxlog.WithLogger(l.ctx, logger), req)
	}()
	return nil
}

// Close stops accepting runs and waits for running ones. If ctx ends first,
// running processes are killed.
func (l *Local) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel()
		<-done
		return ctx.Err()
	}
}

// RunDir is the directory a run executes in.
func (l *Local) RunDir(runID string) string {
	return filepath.Join(l.workspace, runID)
}

// run executes req. Only Local's own logs carry the run and stage; the
// engine adds them to the logs of reporter calls.
func (l *Local) run(ctx context.Context, req Request) {
	logger := ctxlog.FromContext(ctx).With("run", req.RunID, "stage", req.StageID)
	logCtx := ctxlog.WithLogger(ctx, logger)
	if err := l.slots.Acquire(ctx, 1); err != nil {
		logger.Warn("Run abandoned before a worker was free.", "error", err)
		return
	}
	defer l.slots.Release(1)

	inputs, err := l.reporter.Inputs(ctx, req.RunID)
	if err != nil {
		// A missing artifact already failed the run.
		var notFound *pipeline.ArtifactNotFoundError
		if !errors.As(err, &notFound) {
			l.report(ctx, logger, req, pipeline.StatusFailed, nil)
		}
		logger.Error("Failed to resolve run inputs.", "error", err)
		return
	}
	if err := l.reporter.RunStarted(ctx, req.RunID); err != nil {
		var invalid *pipeline.InvalidTransitionError
		if errors.As(err, &invalid) {
			logger.Info("Run finished before it started, skipping.", "status", invalid.From)
			return
		}
		logger.Error("Failed to report run start.", "error", err)
		return
	}

	dir := l.RunDir(req.RunID)
	if err := l.stageInputs(dir, inputs); err != nil {
		logger.Error("Failed to stage run inputs.", "error", err)
		l.report(ctx, logger, req, pipeline.StatusFailed, nil)
		return
	}

	for _, step := range req.Steps {
		if step.Disabled {
			logger.Debug("Skipping disabled step.", "step", step.Name)
			continue
		}
		if err := l.runStep(logCtx, dir, step); err != nil {
			logger.Error("Step failed.", "step", step.Name, "error", err)
			l.report(ctx, logger, req, pipeline.StatusFailed, nil)
			return
		}
	}

	produced, err := collect(dir, req.Artifacts)
	if err != nil {
		logger.Error("Failed to collect artifacts.", "error", err)
		l.report(ctx, logger, req, pipeline.StatusFailed, nil)
		return
	}
	l.report(ctx, logger, req, pipeline.StatusSucceeded, produced)
}

func (l *Local) report(ctx context.Context, logger *slog.Logger, req Request, status pipeline.Status, produced []string) {
	if err := l.reporter.RunFinished(ctx, req.RunID, status, produced); err != nil {
		logger.Error("Failed to report run result.", "status", status, "error", err)
	}
}

func (l *Local) runStep(ctx context.Context, dir string, step pipeline.Step) error {
	logger := ctxlog.FromContext(ctx).With("step", step.Name, "kind", step.Kind)

	args, err := shlex.Split(step.Command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return errors.New("empty command")
	}

	workDir := filepath.Join(dir, filepath.FromSlash(step.WorkingDir))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	if step.Kind == pipeline.StepDocker {
		// The command is "image [args...]"; the run directory is mounted as
		// the container's working tree.
		rel, _ := filepath.Rel(dir, workDir)
		args = append([]string{"docker", "run", "--rm",
			"-v", dir + ":/workspace",
			"-w", filepath.ToSlash(filepath.Join("/workspace", rel)),
		}, args...)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = stepEnv(step.Env)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("Running step.", "command", args)
	if err := cmd.Run(); err != nil {
		logger.Debug("Step output.", "output", tail(out.Bytes(), maxLoggedOutput))
		return fmt.Errorf("run %q: %w", step.Command, err)
	}
	logger.Debug("Step finished.", "output_bytes", out.Len())
	return nil
}

func stepEnv(extra map[string]string) []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// stageInputs copies each input file from the producing run's directory into
// its mapped location.
func (l *Local) stageInputs(dir string, inputs []engine.Input) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	for _, in := range inputs {
		src := l.RunDir(in.RunID)
		for _, f := range in.Files {
			from := filepath.Join(src, filepath.FromSlash(f.Source))
			to := filepath.Join(dir, filepath.FromSlash(f.Target))
			if err := copyFile(from, to); err != nil {
				return fmt.Errorf("input %s from %s: %w", f.Source, in.StageID, err)
			}
		}
	}
	return nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// collect returns the run-relative, slash separated files matched by the
// include rules. Exclusions are applied by the engine.
func collect(dir string, rules []string) ([]string, error) {
	var produced []string
	for _, raw := range rules {
		r, err := artifacts.ParseRule(raw)
		if err != nil {
			return nil, err
		}
		if r.Exclude {
			continue
		}
		matches, err := zglob.Glob(filepath.Join(dir, filepath.FromSlash(r.Pattern)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("glob %q: %w", r.Pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(dir, m)
			if err != nil {
				return nil, err
			}
			produced = append(produced, filepath.ToSlash(rel))
		}
	}
	slices.Sort(produced)
	return slices.Compact(produced), nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

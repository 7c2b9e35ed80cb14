package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// Socket.io events exchanged with a remote worker pool.
const (
	EventDispatch    = "dispatch"
	EventRunStarted  = "run_started"
	EventRunFinished = "run_finished"
	EventAbort       = "abort"
)

// SocketIOConfig configures the remote executor.
type SocketIOConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// SocketIO forwards requests to remote workers over socket.io and relays
// their progress events to the Reporter.
type SocketIO struct {
	io       *socket.Socket
	reporter Reporter
	ctx      context.Context

	mu     sync.Mutex
	closed bool
}

var _ Executor = (*SocketIO)(nil)

// DialSocketIO connects to the worker pool and waits for the connection.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig, reporter Reporter) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("executor", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	s := &SocketIO{
		io:       io,
		reporter: reporter,
		ctx:      ctxlog.WithLogger(context.WithoutCancel(ctx), logger),
	}
	io.On(types.EventName(EventRunStarted), s.onRunStarted)
	io.On(types.EventName(EventRunFinished), s.onRunFinished)
	io.On(types.EventName("disconnect"), func(reason ...any) {
		logger.Warn("Worker pool disconnected.", "reason", reason)
	})

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to worker pool.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	logger.Debug("Initiating connection.")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return s, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(cfg.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", cfg.ConnectTimeout)
	}
}

// Execute resolves the run's inputs and emits it to the worker pool.
func (s *SocketIO) Execute(ctx context.Context, req Request) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !s.io.Connected() {
		return fmt.Errorf("socket.io client is not connected")
	}

	inputs, err := s.reporter.Inputs(ctx, req.RunID)
	if err != nil {
		var notFound *pipeline.ArtifactNotFoundError
		if errors.As(err, &notFound) {
			ctxlog.FromContext(ctx).Error("Run not dispatched, inputs are missing.", "run", req.RunID, "error", err)
			return nil
		}
		return fmt.Errorf("resolve inputs: %w", err)
	}

	payload := encodeDispatch(req, inputs)
	ctxlog.FromContext(ctx).Debug("Emitting run.", "event", EventDispatch, "run", req.RunID, "stage", req.StageID)
	s.io.Emit(EventDispatch, payload)
	return nil
}

// Close disconnects from the worker pool. Runs already handed over keep
// running remotely; their late reports are lost.
func (s *SocketIO) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.io.Disconnect()
	return nil
}

func (s *SocketIO) onRunStarted(args ...any) {
	logger := ctxlog.FromContext(s.ctx)
	runID, err := decodeStarted(args)
	if err != nil {
		logger.Warn("Ignoring malformed event.", "event", EventRunStarted, "error", err)
		return
	}
	if abort := reportStarted(s.ctx, s.reporter, runID); abort != nil {
		s.io.Emit(EventAbort, abort)
	}
}

// reportStarted relays a worker's start report. It returns the payload of an
// abort event when the run already finished and the worker must drop it.
func reportStarted(ctx context.Context, reporter Reporter, runID string) map[string]any {
	logger := ctxlog.FromContext(ctx)
	err := reporter.RunStarted(ctx, runID)
	if err == nil {
		return nil
	}
	var invalid *pipeline.InvalidTransitionError
	if errors.As(err, &invalid) {
		logger.Info("Run finished before it started, aborting on worker.", "run", runID, "status", invalid.From)
		return encodeAbort(runID, invalid.From)
	}
	logger.Error("Failed to report run start.", "run", runID, "error", err)
	return nil
}

func (s *SocketIO) onRunFinished(args ...any) {
	logger := ctxlog.FromContext(s.ctx)
	f, err := decodeFinished(args)
	if err != nil {
		logger.Warn("Ignoring malformed event.", "event", EventRunFinished, "error", err)
		return
	}
	if err := s.reporter.RunFinished(s.ctx, f.runID, f.status, f.produced); err != nil {
		logger.Error("Failed to report run result.", "run", f.runID, "status", f.status, "error", err)
	}
}

package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/specialistvlad/pipegraph/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pipegraph", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
pipegraph - A dependency-aware CI pipeline scheduler.

Usage:
  pipegraph [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline file or directory.")
	pFlag := flagSet.String("p", "", "Path to the pipeline file or directory (shorthand).")
	listenFlag := flagSet.String("listen", ":8080", "HTTP listen address for the API, webhook and /health.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 4, "Number of runs the local executor executes concurrently.")
	workspaceFlag := flagSet.String("workspace", "", "Directory the local executor runs stages in. Defaults to a temporary directory.")
	executorFlag := flagSet.String("executor", app.ExecutorLocal, "Executor backend. Options: 'local' or 'socketio'.")
	executorURLFlag := flagSet.String("executor-url", "", "Socket.io URL of the remote worker pool.")
	artifactsFlag := flagSet.String("artifacts", app.BackendMemory, "Artifact manifest store. Options: 'memory' or 'minio' (configured by PIPEGRAPH_MINIO_*).")
	stateFlag := flagSet.String("state", app.BackendMemory, "Run state store. Options: 'memory' or 'postgres' (configured by DATABASE_*).")
	snapshotFlag := flagSet.String("snapshot", "", "YAML snapshot file written on shutdown and restored on start.")
	secretFlag := flagSet.String("webhook-secret", "", "Shared secret for HMAC-SHA256 verification of source hooks.")
	shutdownFlag := flagSet.Duration("shutdown-timeout", 30*time.Second, "How long to wait for running stages on shutdown.")
	validateFlag := flagSet.Bool("validate", false, "Validate the pipeline definition and exit.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	switch {
	case *pipelineFlag != "":
		path = *pipelineFlag
	case *pFlag != "":
		path = *pFlag
	case flagSet.NArg() > 0:
		path = flagSet.Arg(0)
	}
	slog.Debug("Pipeline path determined.", "path", path)

	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	slog.Debug("CLI parameter validation complete.")

	cfg, err := app.NewConfig(app.Config{
		PipelinePath:    path,
		Listen:          *listenFlag,
		WebhookSecret:   *secretFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		Executor:        strings.ToLower(*executorFlag),
		ExecutorURL:     *executorURLFlag,
		Workers:         *workersFlag,
		Workspace:       *workspaceFlag,
		Artifacts:       strings.ToLower(*artifactsFlag),
		State:           strings.ToLower(*stateFlag),
		SnapshotPath:    *snapshotFlag,
		ShutdownTimeout: *shutdownFlag,
		ValidateOnly:    *validateFlag,
	})
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}

	slog.Debug("CLI parser finished successfully.", "pipeline", cfg.PipelinePath, "executor", cfg.Executor)
	return cfg, false, nil
}

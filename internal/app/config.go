package app

import (
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by Config.
const (
	ExecutorLocal    = "local"
	ExecutorSocketIO = "socketio"

	BackendMemory   = "memory"
	BackendMinIO    = "minio"
	BackendPostgres = "postgres"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // file or directory of .hcl files

	Listen        string
	WebhookSecret string

	LogFormat string
	LogLevel  string

	Executor    string
	ExecutorURL string
	Workers     int
	Workspace   string

	Artifacts    string
	State        string
	SnapshotPath string

	ShutdownTimeout time.Duration
	// ValidateOnly loads and builds the pipeline, then exits.
	ValidateOnly bool
}

// NewConfig validates cfg and fills defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("pipeline path is a required configuration field and cannot be empty")
	}
	if cfg.Executor == "" {
		cfg.Executor = ExecutorLocal
	}
	if cfg.Artifacts == "" {
		cfg.Artifacts = BackendMemory
	}
	if cfg.State == "" {
		cfg.State = BackendMemory
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	switch cfg.Executor {
	case ExecutorLocal:
		if cfg.Workers < 1 {
			return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
		}
	case ExecutorSocketIO:
		if cfg.ExecutorURL == "" {
			return nil, errors.New("executor-url is required for the socketio executor")
		}
	default:
		return nil, fmt.Errorf("unknown executor %q: expected %q or %q", cfg.Executor, ExecutorLocal, ExecutorSocketIO)
	}
	if cfg.Artifacts != BackendMemory && cfg.Artifacts != BackendMinIO {
		return nil, fmt.Errorf("unknown artifact store %q: expected %q or %q", cfg.Artifacts, BackendMemory, BackendMinIO)
	}
	if cfg.State != BackendMemory && cfg.State != BackendPostgres {
		return nil, fmt.Errorf("unknown state store %q: expected %q or %q", cfg.State, BackendMemory, BackendPostgres)
	}
	return &cfg, nil
}

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/pipegraph/internal/config"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	graph  *pipeline.Graph
}

// NewApp loads the pipeline definition and builds its graph. Definition
// errors are returned, never panicked.
func NewApp(ctx context.Context, outW io.Writer, cfg *Config, loader config.Loader) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.PipelinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	logger.Debug("Pipeline definition loaded.", "stages", len(model.Stages))

	g, err := pipeline.BuildFromModel(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	logger.Info("Pipeline graph built.", "stages", g.Len(), "source_triggered", len(g.SourceTriggered()))

	return &App{outW: outW, logger: logger, config: cfg, graph: g}, nil
}

// Graph returns the built pipeline graph.
func (a *App) Graph() *pipeline.Graph {
	return a.graph
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

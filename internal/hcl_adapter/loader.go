package hcl_adapter

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/pipegraph/internal/config"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/fsutil"
)

// Loader is the HCL implementation of config.Loader.
type Loader struct {
	environ func() []string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnviron replaces os.Environ as the source of the `env` object.
func WithEnviron(environ func() []string) Option {
	return func(l *Loader) { l.environ = environ }
}

// NewLoader creates a new HCL configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{environ: os.Environ}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ config.Loader = (*Loader)(nil)

// Load parses every .hcl file found under paths. Directories are walked
// recursively and files are read in lexical order, so stage declaration order
// is stable. Missing paths are skipped.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(".hcl", paths...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %s", strings.Join(paths, ", "))
	}

	parser := hclparse.NewParser()
	evalCtx := l.evalContext()
	model := &config.Model{}

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		content, diags := hclFile.Body.Content(fileSchema)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		for _, block := range content.Blocks {
			stage, err := l.decodeStage(ctx, block, evalCtx)
			if err != nil {
				return nil, err
			}
			model.Stages = append(model.Stages, stage)
		}
	}

	logger.Debug("HCL loading complete.", "files", len(files), "stages", len(model.Stages))
	return model, nil
}

func (l *Loader) decodeStage(ctx context.Context, block *hcl.Block, evalCtx *hcl.EvalContext) (*config.Stage, error) {
	id := block.Labels[0]
	var body stageBody
	if diags := gohcl.DecodeBody(block.Body, evalCtx, &body); diags.HasErrors() {
		return nil, fmt.Errorf("stage %q at %s: %w", id, block.DefRange, diags)
	}
	return translateStage(ctx, id, block.DefRange.String(), &body)
}

// evalContext exposes the process environment as the `env` object, so
// attributes may be written as "${env.DEPLOY_HOST}".
func (l *Loader) evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range l.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntax.ValidIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/pipegraph/internal/hcl_adapter"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// HarnessResult holds the outcome of loading a pipeline from HCL files.
type HarnessResult struct {
	Ctx       context.Context
	Dir       string
	Graph     *pipeline.Graph
	Err       error
	LogOutput *SafeBuffer
}

// RunPipelineTest writes files (relative path to HCL content) into a temporary
// directory, loads it with the HCL loader and builds the graph.
func RunPipelineTest(t *testing.T, files map[string]string, environ ...string) *HarnessResult {
	t.Helper()
	ctx, logs := Context(t)

	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	loader := hcl_adapter.NewLoader(hcl_adapter.WithEnviron(func() []string { return environ }))
	res := &HarnessResult{Ctx: ctx, Dir: dir, LogOutput: logs}
	model, err := loader.Load(ctx, dir)
	if err != nil {
		res.Err = err
		return res
	}
	res.Graph, res.Err = pipeline.BuildFromModel(ctx, model)
	return res
}

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.hcl", "a.hcl", "nested/c.hcl", "nested/readme.md"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	files, err := FindFilesByExtension(".hcl", dir, filepath.Join(dir, "a.hcl"), filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.hcl"),
		filepath.Join(dir, "b.hcl"),
		filepath.Join(dir, "nested", "c.hcl"),
	}, files)

	files, err = FindFilesByExtension(".hcl", filepath.Join(dir, "nested", "readme.md"))
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = FindFilesByExtension("", dir)
	assert.Error(t, err)
}

// Package snapshot saves the pipeline definition and the run table to a YAML
// file so a restarted process can resume where it stopped. Writes go to a
// temporary file that replaces the snapshot atomically, under an advisory
// lock file shared by every process using the same path.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/specialistvlad/pipegraph/internal/config"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// Version is the document format written by Save.
const Version = 1

const lockRetryDelay = 50 * time.Millisecond

// Document is the on-disk snapshot.
type Document struct {
	Version  int             `yaml:"version"`
	SavedAt  time.Time       `yaml:"saved_at"`
	Pipeline *config.Model   `yaml:"pipeline"`
	Runs     []*pipeline.Run `yaml:"runs"`
}

// Save writes the graph and runs to path.
func Save(ctx context.Context, path string, g *pipeline.Graph, runs []*pipeline.Run) error {
	doc := Document{
		Version:  Version,
		SavedAt:  time.Now().UTC(),
		Pipeline: pipeline.ToModel(g),
		Runs:     runs,
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	unlock, err := lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("Snapshot saved.", "path", path, "runs", len(runs), "bytes", len(data))
	return nil
}

// Load reads a snapshot. A missing file yields an error matching
// os.ErrNotExist.
func Load(ctx context.Context, path string) (*Document, error) {
	unlock, err := lock(ctx, path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("snapshot %s has version %d, expected %d", path, doc.Version, Version)
	}
	ctxlog.FromContext(ctx).Debug("Snapshot loaded.", "path", path, "runs", len(doc.Runs), "saved_at", doc.SavedAt)
	return &doc, nil
}

// Restore loads the runs of a snapshot at path, dropping runs of stages the
// current graph does not have. A missing snapshot restores nothing.
func Restore(ctx context.Context, path string, g *pipeline.Graph) ([]*pipeline.Run, error) {
	doc, err := Load(ctx, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	runs := make([]*pipeline.Run, 0, len(doc.Runs))
	for _, r := range doc.Runs {
		if _, ok := g.Stage(r.StageID); !ok {
			logger.Warn("Dropping run of a stage no longer in the pipeline.", "run", r.ID, "stage", r.StageID)
			continue
		}
		runs = append(runs, r)
	}
	return runs, nil
}

func lock(ctx context.Context, path string) (func(), error) {
	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock snapshot %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock snapshot %s: not acquired", path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to release snapshot lock.", "path", path, "error", err)
		}
	}, nil
}

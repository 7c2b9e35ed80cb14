package pipeline

import (
	"fmt"
	"strings"
)

// CycleError is returned when registering a stage would close a dependency
// cycle. Path starts and ends with the same stage.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// DuplicateStageError is returned when a stage ID is registered twice.
type DuplicateStageError struct {
	StageID string
}

func (e *DuplicateStageError) Error() string {
	return fmt.Sprintf("stage %q is already registered", e.StageID)
}

// UnknownStageError is returned when a dependency, trigger or event names a
// stage that was never registered.
type UnknownStageError struct {
	StageID      string
	ReferencedBy string
}

func (e *UnknownStageError) Error() string {
	if e.ReferencedBy == "" {
		return fmt.Sprintf("unknown stage %q", e.StageID)
	}
	return fmt.Sprintf("unknown stage %q referenced by %q", e.StageID, e.ReferencedBy)
}

// ArtifactNotFoundError is returned when a consumer needs artifacts from a
// producer that has no successful run for the revision.
type ArtifactNotFoundError struct {
	Consumer string
	Producer string
	Revision string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("no successful run of %q at revision %q to provide artifacts for %q", e.Producer, e.Revision, e.Consumer)
}

// RunNotFoundError is returned for reports about runs the engine does not
// know. Either RunID or StageID and Revision are set.
type RunNotFoundError struct {
	RunID    string
	StageID  string
	Revision string
}

func (e *RunNotFoundError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("run %q not found", e.RunID)
	}
	return fmt.Sprintf("no run of stage %q at revision %q", e.StageID, e.Revision)
}

// InvalidTransitionError is returned when a status change is not allowed by
// the run state machine.
type InvalidTransitionError struct {
	RunID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %q cannot move from %s to %s", e.RunID, e.From, e.To)
}

// NoDependencyError is returned when artifacts are requested across stages
// that have no dependency edge.
type NoDependencyError struct {
	Consumer string
	Producer string
}

func (e *NoDependencyError) Error() string {
	return fmt.Sprintf("stage %q does not depend on %q", e.Consumer, e.Producer)
}

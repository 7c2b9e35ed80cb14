package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
)

// StepKind tells an executor how to run a step. The engine itself never
// looks inside a step.
type StepKind string

const (
	StepScript    StepKind = "script"
	StepDocker    StepKind = "docker"
	StepBuildTool StepKind = "build-tool"
)

// ParseStepKind maps a configured kind to a StepKind. Empty means script.
func ParseStepKind(s string) (StepKind, error) {
	switch k := StepKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return StepScript, nil
	case StepScript, StepDocker, StepBuildTool:
		return k, nil
	default:
		return "", fmt.Errorf("invalid step kind %q", s)
	}
}

// Step is one opaque command of a stage.
type Step struct {
	Name       string
	Kind       StepKind
	Command    string
	WorkingDir string
	Env        map[string]string
	// Credentials names a registry or credential handle. It is passed to the
	// executor as is.
	Credentials string
	// Disabled steps are kept in the graph but never executed.
	Disabled bool
}

// Stage is a named unit of work.
type Stage struct {
	ID    string
	Name  string
	Steps []Step
	// Artifacts are the producing rules: globs selecting which of the
	// reported paths a successful run publishes.
	Artifacts []string
	Triggers  []Trigger
}

// DisplayName returns Name, falling back to ID.
func (s Stage) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Dependency is a snapshot dependency from a downstream stage on StageID.
type Dependency struct {
	StageID   string
	Reuse     ReusePolicy
	OnFailure FailurePolicy
	// Artifacts are the consuming rules mapping the upstream's published
	// paths into the downstream's working tree.
	Artifacts []artifacts.Rule
}

// TriggerKind distinguishes source-change triggers from finish triggers.
type TriggerKind int

const (
	TriggerSourceChange TriggerKind = iota
	TriggerStageFinished
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerSourceChange:
		return "vcs"
	case TriggerStageFinished:
		return "finish"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// Trigger is a rule that schedules its stage. QuietPeriod and
// GroupByCommitter apply to source-change triggers; StageID and
// SuccessfulOnly to finish triggers. A disabled trigger never fires.
type Trigger struct {
	Kind             TriggerKind
	Enabled          bool
	QuietPeriod      time.Duration
	GroupByCommitter bool
	StageID          string
	SuccessfulOnly   bool
}

// StageTrigger pairs a trigger with the stage it schedules.
type StageTrigger struct {
	StageID string
	Trigger Trigger
}

package config

import "time"

// Model is the unified, format-agnostic representation of a pipeline
// definition. Stages keep the order they were declared in.
type Model struct {
	Stages []*Stage `yaml:"stages"`
}

// Stage is the format-agnostic representation of a `stage` block.
type Stage struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name,omitempty"`
	Artifacts    []string      `yaml:"artifacts,omitempty"`
	Steps        []*Step       `yaml:"steps,omitempty"`
	Dependencies []*Dependency `yaml:"dependencies,omitempty"`
	Triggers     []*Trigger    `yaml:"triggers,omitempty"`
	// Source is the file and line the stage was declared at, if known.
	Source string `yaml:"-"`
}

// Step is one opaque command of a stage.
type Step struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind,omitempty"`
	Command     string            `yaml:"command"`
	WorkingDir  string            `yaml:"working_dir,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Credentials string            `yaml:"credentials,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty"`
}

// Dependency is a snapshot dependency on an upstream stage. Empty policy
// strings mean the defaults.
type Dependency struct {
	StageID       string   `yaml:"stage"`
	ReuseBuilds   string   `yaml:"reuse_builds,omitempty"`
	OnFailure     string   `yaml:"on_failure,omitempty"`
	ArtifactRules []string `yaml:"artifact_rules,omitempty"`
}

// Trigger kinds as written in configuration.
const (
	TriggerSourceChange  = "vcs"
	TriggerStageFinished = "finish"
)

// Trigger is the format-agnostic representation of a `trigger` block.
type Trigger struct {
	Kind             string        `yaml:"kind"`
	Enabled          bool          `yaml:"enabled"`
	QuietPeriod      time.Duration `yaml:"quiet_period,omitempty"`
	GroupByCommitter bool          `yaml:"group_by_committer,omitempty"`
	StageID          string        `yaml:"stage,omitempty"`
	SuccessfulOnly   bool          `yaml:"successful_only,omitempty"`
}

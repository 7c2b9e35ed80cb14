package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileSchema lists the top-level blocks of a pipeline file. The stage label is
// the stage ID.
var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "stage", LabelNames: []string{"id"}},
	},
}

// stageBody is the content of a `stage "id" { ... }` block.
type stageBody struct {
	Name         *string            `hcl:"name,optional"`
	Artifacts    []string           `hcl:"artifacts,optional"`
	Steps        []*stepBlock       `hcl:"step,block"`
	Dependencies []*dependencyBlock `hcl:"dependency,block"`
	Triggers     []*triggerBlock    `hcl:"trigger,block"`
}

// stepBlock is a `step "name" { ... }` block.
type stepBlock struct {
	Name        string            `hcl:"name,label"`
	Kind        *string           `hcl:"kind,optional"`
	Command     string            `hcl:"command"`
	WorkingDir  *string           `hcl:"working_dir,optional"`
	Env         map[string]string `hcl:"env,optional"`
	Credentials *string           `hcl:"credentials,optional"`
	Enabled     *bool             `hcl:"enabled,optional"`
}

// dependencyBlock is a `dependency "upstream" { ... }` block.
type dependencyBlock struct {
	StageID       string   `hcl:"stage,label"`
	ReuseBuilds   *string  `hcl:"reuse_builds,optional"`
	OnFailure     *string  `hcl:"on_failure,optional"`
	ArtifactRules []string `hcl:"artifact_rules,optional"`
}

// triggerBlock is a `trigger "vcs"` or `trigger "finish"` block.
type triggerBlock struct {
	Kind             string  `hcl:"kind,label"`
	Enabled          *bool   `hcl:"enabled,optional"`
	QuietPeriod      *string `hcl:"quiet_period,optional"`
	GroupByCommitter *bool   `hcl:"group_by_committer,optional"`
	Stage            *string `hcl:"stage,optional"`
	SuccessfulOnly   *bool   `hcl:"successful_only,optional"`
}

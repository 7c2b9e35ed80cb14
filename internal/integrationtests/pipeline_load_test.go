package integration_tests

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/pipegraph/internal/pipeline"
	"github.com/specialistvlad/pipegraph/internal/testutil"
)

const releaseHCL = `
stage "test" {
  step "unit" {
    command = "go test ./..."
  }
  trigger "vcs" {
    quiet_period = "2m"
  }
}

stage "build" {
  artifacts = ["out/**", "-:out/**/*.tmp"]
  step "compile" {
    kind    = "build-tool"
    command = "make build"
  }
  dependency "test" {}
  trigger "finish" {
    stage           = "test"
    successful_only = true
  }
}
`

const deployHCL = `
stage "frontend" {
  artifacts = ["dist/"]
  step "bundle" {
    command = "npm run build"
  }
  trigger "vcs" {}
}

stage "deploy" {
  step "ship" {
    kind    = "docker"
    command = "deploy --host ${env.DEPLOY_HOST}"
  }
  dependency "build" {
    artifact_rules = ["out/bin/* => bin"]
  }
  dependency "frontend" {
    reuse_builds   = "never"
    on_failure     = "ignore"
    artifact_rules = ["dist/ => web"]
  }
  trigger "finish" {
    stage = "build"
  }
}
`

func TestPipeline_LoadsDefinitionAcrossFiles(t *testing.T) {
	res := testutil.RunPipelineTest(t, map[string]string{
		"pipeline/release.hcl":     releaseHCL,
		"pipeline/deploy/a.hcl":    deployHCL,
		"pipeline/README.md":       "not a pipeline file",
		"pipeline/extra/empty.hcl": "",
	}, "DEPLOY_HOST=prod.example.com")
	require.NoError(t, res.Err)
	g := res.Graph

	assert.Equal(t, 4, g.Len())
	closure, err := g.Closure("deploy")
	require.NoError(t, err)
	order, err := g.Order(closure)
	require.NoError(t, err)
	require.Len(t, order, 4)
	assert.Less(t, slices.Index(order, "test"), slices.Index(order, "build"))
	assert.Equal(t, "deploy", order[3])

	var source []string
	for _, st := range g.SourceTriggered() {
		source = append(source, st.StageID)
	}
	assert.ElementsMatch(t, []string{"test", "frontend"}, source)

	test, ok := g.Stage("test")
	require.True(t, ok)
	require.Len(t, test.Triggers, 1)
	assert.Equal(t, 2*time.Minute, test.Triggers[0].QuietPeriod)

	deploy, ok := g.Stage("deploy")
	require.True(t, ok)
	require.Len(t, deploy.Steps, 1)
	assert.Equal(t, pipeline.StepDocker, deploy.Steps[0].Kind)
	assert.Equal(t, "deploy --host prod.example.com", deploy.Steps[0].Command)

	dep, ok := g.Dependency("deploy", "frontend")
	require.True(t, ok)
	assert.Equal(t, pipeline.ReuseNever, dep.Reuse)
	assert.Equal(t, pipeline.FailureIgnore, dep.OnFailure)

	if diff := cmp.Diff([]string{"deploy"}, g.Dependents("build")); diff != "" {
		t.Errorf("Dependents(build) mismatch (-want +got):\n%s", diff)
	}

	finish := g.FinishTriggers("build")
	require.Len(t, finish, 1)
	assert.Equal(t, "deploy", finish[0].StageID)
	assert.False(t, finish[0].Trigger.SuccessfulOnly)
}

func TestPipeline_RejectsInvalidDefinitions(t *testing.T) {
	testCases := []struct {
		name   string
		hcl    string
		target any
		errMsg string
	}{
		{
			name: "Cycle across three stages",
			hcl: `
stage "a" {
  dependency "c" {}
}
stage "b" {
  dependency "a" {}
}
stage "c" {
  dependency "b" {}
}
`,
			target: new(*pipeline.CycleError),
			errMsg: "dependency cycle",
		},
		{
			name: "Dependency on an unknown stage",
			hcl: `
stage "deploy" {
  dependency "build" {}
}
`,
			target: new(*pipeline.UnknownStageError),
			errMsg: `unknown stage "build" referenced by "deploy"`,
		},
		{
			name: "Finish trigger on an unknown stage",
			hcl: `
stage "deploy" {
  trigger "finish" {
    stage = "build"
  }
}
`,
			target: new(*pipeline.UnknownStageError),
			errMsg: `unknown stage "build"`,
		},
		{
			name: "Stage declared twice",
			hcl: `
stage "build" {}
stage "build" {}
`,
			target: new(*pipeline.DuplicateStageError),
			errMsg: `stage "build" is already registered`,
		},
		{
			name: "Unknown reuse policy",
			hcl: `
stage "build" {}
stage "deploy" {
  dependency "build" {
    reuse_builds = "sometimes"
  }
}
`,
			errMsg: "invalid reuse policy",
		},
		{
			name: "Unknown step kind",
			hcl: `
stage "build" {
  step "compile" {
    kind    = "gradle"
    command = "gradle build"
  }
}
`,
			errMsg: "gradle",
		},
		{
			name: "Invalid artifact rule",
			hcl: `
stage "build" {
  artifacts = ["-:out/* => bin"]
}
`,
			errMsg: "exclusions cannot have a target",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := testutil.RunPipelineTest(t, map[string]string{"main.hcl": tc.hcl})

			require.Error(t, res.Err)
			assert.Nil(t, res.Graph)
			assert.Contains(t, res.Err.Error(), tc.errMsg)
			if tc.target != nil {
				assert.True(t, errors.As(res.Err, tc.target), "expected %T in %v", tc.target, res.Err)
			}
		})
	}
}

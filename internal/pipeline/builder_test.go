package pipeline

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/pipegraph/internal/artifacts"
)

func dep(id string) Dependency {
	return Dependency{StageID: id}
}

// releaseGraph registers the backend/frontend release pipeline.
func releaseGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	vcs := Trigger{Kind: TriggerSourceChange, Enabled: true}
	require.NoError(t, b.RegisterStage(Stage{ID: "test", Triggers: []Trigger{vcs}}))
	require.NoError(t, b.RegisterStage(Stage{ID: "build", Artifacts: []string{"backend/build/libs/*.jar"}}, dep("test")))
	require.NoError(t, b.RegisterStage(Stage{ID: "package-backend"}, Dependency{
		StageID:   "build",
		Artifacts: []artifacts.Rule{artifacts.MustParseRule("backend/build/libs/*.jar => docker")},
	}))
	require.NoError(t, b.RegisterStage(Stage{ID: "package-frontend", Triggers: []Trigger{vcs}}))
	require.NoError(t, b.RegisterStage(Stage{ID: "deploy"}, dep("package-backend"), dep("package-frontend")))
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestBuilder_Graph(t *testing.T) {
	g := releaseGraph(t)

	t.Run("stages keep declaration order", func(t *testing.T) {
		var ids []string
		for _, s := range g.Stages() {
			ids = append(ids, s.ID)
		}
		assert.Equal(t, []string{"test", "build", "package-backend", "package-frontend", "deploy"}, ids)
		assert.Equal(t, 5, g.Len())
	})

	t.Run("edges in both directions", func(t *testing.T) {
		assert.Equal(t, []string{"deploy"}, g.Dependents("package-frontend"))
		deps := g.Dependencies("deploy")
		require.Len(t, deps, 2)
		assert.Equal(t, "package-backend", deps[0].StageID)

		d, ok := g.Dependency("package-backend", "build")
		require.True(t, ok)
		assert.Equal(t, ReuseAlways, d.Reuse)
		assert.Equal(t, FailureCancel, d.OnFailure)
		_, ok = g.Dependency("deploy", "test")
		assert.False(t, ok)
	})

	t.Run("closure and order", func(t *testing.T) {
		closure, err := g.Closure("deploy")
		require.NoError(t, err)
		assert.Len(t, closure, 5)

		order, err := g.Order(closure)
		require.NoError(t, err)
		assert.Equal(t, []string{"test", "build", "package-backend", "package-frontend", "deploy"}, order)

		_, err = g.Closure("nope")
		var unknown *UnknownStageError
		assert.ErrorAs(t, err, &unknown)
	})

	t.Run("trigger indexes", func(t *testing.T) {
		src := g.SourceTriggered()
		require.Len(t, src, 2)
		assert.Equal(t, "test", src[0].StageID)
		assert.Equal(t, "package-frontend", src[1].StageID)
		assert.Empty(t, g.FinishTriggers("build"))
	})

	t.Run("producing rules are parsed", func(t *testing.T) {
		rules := g.ProducingRules("build")
		require.Len(t, rules, 1)
		assert.True(t, rules[0].Match("backend/build/libs/app.jar"))
	})
}

func TestBuilder_Cycle(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterStage(Stage{ID: "a"}, dep("c")))
	require.NoError(t, b.RegisterStage(Stage{ID: "b"}, dep("a")))

	err := b.RegisterStage(Stage{ID: "c"}, dep("b"))
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"c", "a", "b", "c"}, cycle.Path)

	// The failed registration left no trace.
	assert.NotContains(t, b.order, "c")
	assert.NotContains(t, b.stages, "c")
	dependents, err := b.topology.Dependents("b")
	require.NoError(t, err)
	assert.Empty(t, dependents)

	_, err = b.Build()
	require.Error(t, err)
	assert.True(t, errors.As(err, &cycle))
}

func TestBuilder_SelfDependency(t *testing.T) {
	b := NewBuilder()
	err := b.RegisterStage(Stage{ID: "a"}, dep("a"))
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "a"}, cycle.Path)
}

func TestBuilder_Duplicate(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterStage(Stage{ID: "a"}))
	err := b.RegisterStage(Stage{ID: "a"})
	var dup *DuplicateStageError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a", dup.StageID)

	g, err := b.Build()
	assert.Nil(t, g)
	assert.ErrorAs(t, err, &dup)
}

func TestBuilder_ValidationErrorsAreAggregated(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterStage(Stage{ID: "a"}, dep("ghost")))
	require.NoError(t, b.RegisterStage(Stage{ID: "b", Triggers: []Trigger{
		{Kind: TriggerStageFinished, Enabled: true, StageID: "phantom"},
		{Kind: TriggerStageFinished, Enabled: false, StageID: "disabled-ghost"},
	}}))
	assert.Error(t, b.RegisterStage(Stage{ID: "c"}, dep("a"), dep("a")))
	assert.Error(t, b.RegisterStage(Stage{ID: "d", Triggers: []Trigger{{Kind: TriggerStageFinished, Enabled: true, StageID: "d"}}}))
	assert.Error(t, b.RegisterStage(Stage{ID: "e", Artifacts: []string{"-:dist/** => web"}}))
	assert.Error(t, b.RegisterStage(Stage{}))

	g, err := b.Build()
	assert.Nil(t, g)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 6)

	var unknown *UnknownStageError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.StageID)
	assert.Equal(t, "a", unknown.ReferencedBy)
	assert.NotContains(t, err.Error(), "disabled-ghost")
}

func TestBuilder_ForwardReference(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterStage(Stage{ID: "deploy"}, dep("package")))
	require.NoError(t, b.RegisterStage(Stage{ID: "package"}))
	g, err := b.Build()
	require.NoError(t, err)

	order, err := g.Order(map[string]struct{}{"deploy": {}, "package": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"package", "deploy"}, order)
}

func TestBuilder_GraphIsIsolatedFromLaterRegistrations(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterStage(Stage{ID: "a"}))
	g, err := b.Build()
	require.NoError(t, err)

	require.NoError(t, b.RegisterStage(Stage{ID: "b"}, dep("a")))
	assert.Equal(t, 1, g.Len())
	assert.Empty(t, g.Dependents("a"))
}

func TestGraph_DisabledTriggersContributeNothing(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterStage(Stage{ID: "a", Triggers: []Trigger{{Kind: TriggerSourceChange, Enabled: false}}}))
	require.NoError(t, b.RegisterStage(Stage{ID: "b", Triggers: []Trigger{
		{Kind: TriggerStageFinished, Enabled: false, StageID: "a"},
		{Kind: TriggerStageFinished, Enabled: true, StageID: "a", SuccessfulOnly: true},
	}}))
	g, err := b.Build()
	require.NoError(t, err)

	assert.Empty(t, g.SourceTriggered())
	finish := g.FinishTriggers("a")
	require.Len(t, finish, 1)
	assert.True(t, finish[0].Trigger.SuccessfulOnly)
	assert.Equal(t, "b", finish[0].StageID)
}

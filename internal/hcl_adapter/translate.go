package hcl_adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/pipegraph/internal/config"
	"github.com/specialistvlad/pipegraph/internal/ctxlog"
)

// quietPeriodNone disables the quiet period explicitly.
const quietPeriodNone = "NONE"

// translateStage converts a decoded stage block into the agnostic model.
// Policy strings are passed through; they are validated when the graph is
// built.
func translateStage(ctx context.Context, id, source string, s *stageBody) (*config.Stage, error) {
	logger := ctxlog.FromContext(ctx).With("stage", id)
	logger.Debug("Translating HCL stage to internal config model.", "source", source)

	stage := &config.Stage{
		ID:        id,
		Name:      deref(s.Name),
		Artifacts: s.Artifacts,
		Source:    source,
	}

	for _, st := range s.Steps {
		stage.Steps = append(stage.Steps, &config.Step{
			Name:        st.Name,
			Kind:        deref(st.Kind),
			Command:     st.Command,
			WorkingDir:  deref(st.WorkingDir),
			Env:         st.Env,
			Credentials: deref(st.Credentials),
			Disabled:    st.Enabled != nil && !*st.Enabled,
		})
	}

	for _, d := range s.Dependencies {
		stage.Dependencies = append(stage.Dependencies, &config.Dependency{
			StageID:       d.StageID,
			ReuseBuilds:   deref(d.ReuseBuilds),
			OnFailure:     deref(d.OnFailure),
			ArtifactRules: d.ArtifactRules,
		})
	}

	for _, t := range s.Triggers {
		trig, err := translateTrigger(t)
		if err != nil {
			return nil, fmt.Errorf("stage %q at %s: %w", id, source, err)
		}
		stage.Triggers = append(stage.Triggers, trig)
	}

	logger.Debug("Stage translated.", "steps", len(stage.Steps), "dependencies", len(stage.Dependencies), "triggers", len(stage.Triggers))
	return stage, nil
}

func translateTrigger(t *triggerBlock) (*config.Trigger, error) {
	trig := &config.Trigger{
		Kind:             t.Kind,
		Enabled:          t.Enabled == nil || *t.Enabled,
		GroupByCommitter: t.GroupByCommitter != nil && *t.GroupByCommitter,
		StageID:          deref(t.Stage),
		SuccessfulOnly:   t.SuccessfulOnly != nil && *t.SuccessfulOnly,
	}

	switch t.Kind {
	case config.TriggerSourceChange:
		if t.Stage != nil || t.SuccessfulOnly != nil {
			return nil, fmt.Errorf("trigger %q: stage and successful_only only apply to %q triggers", t.Kind, config.TriggerStageFinished)
		}
		qp, err := parseQuietPeriod(deref(t.QuietPeriod))
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", t.Kind, err)
		}
		trig.QuietPeriod = qp
	case config.TriggerStageFinished:
		if t.QuietPeriod != nil || t.GroupByCommitter != nil {
			return nil, fmt.Errorf("trigger %q: quiet_period and group_by_committer only apply to %q triggers", t.Kind, config.TriggerSourceChange)
		}
		if trig.StageID == "" {
			return nil, fmt.Errorf("trigger %q: stage is required", t.Kind)
		}
	default:
		return nil, fmt.Errorf("unknown trigger kind %q: expected %q or %q", t.Kind, config.TriggerSourceChange, config.TriggerStageFinished)
	}
	return trig, nil
}

// parseQuietPeriod accepts "", "NONE" or a Go duration such as "90s".
func parseQuietPeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, quietPeriodNone) {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quiet_period %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid quiet_period %q: must not be negative", s)
	}
	return d, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

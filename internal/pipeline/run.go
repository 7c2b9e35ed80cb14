package pipeline

import (
	"maps"
	"slices"
	"time"
)

// Transition is one entry of a run's status history.
type Transition struct {
	From   Status    `json:"from" yaml:"from"`
	To     Status    `json:"to" yaml:"to"`
	At     time.Time `json:"at" yaml:"at"`
	Reason string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Run is one execution of a stage for a revision.
type Run struct {
	ID        string `json:"id" yaml:"id"`
	StageID   string `json:"stage" yaml:"stage"`
	Revision  string `json:"revision" yaml:"revision"`
	Committer string `json:"committer,omitempty" yaml:"committer,omitempty"`
	// Cause says what created the run, e.g. "vcs", "finish:build" or "manual".
	Cause  string `json:"cause" yaml:"cause"`
	Status Status `json:"status" yaml:"status"`
	// Upstream binds each dependency stage to the run this run consumes.
	Upstream  map[string]string `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	// Reason explains the latest transition, mostly for failures and cancels.
	Reason    string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
	History   []Transition `json:"history,omitempty" yaml:"history,omitempty"`
}

// Transition moves the run to next and appends it to the history.
func (r *Run) Transition(next Status, at time.Time, reason string) error {
	if !r.Status.CanTransition(next) {
		return &InvalidTransitionError{RunID: r.ID, From: r.Status, To: next}
	}
	r.History = append(r.History, Transition{From: r.Status, To: next, At: at, Reason: reason})
	r.Status = next
	if reason != "" {
		r.Reason = reason
	}
	return nil
}

// Active reports whether the run has not reached a terminal status.
func (r *Run) Active() bool {
	return !r.Status.Terminal()
}

// UpdatedAt is the time of the latest transition, or CreatedAt.
func (r *Run) UpdatedAt() time.Time {
	if n := len(r.History); n > 0 {
		return r.History[n-1].At
	}
	return r.CreatedAt
}

// Clone returns a deep copy that shares nothing with r.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Upstream = maps.Clone(r.Upstream)
	c.Artifacts = slices.Clone(r.Artifacts)
	c.History = slices.Clone(r.History)
	return &c
}

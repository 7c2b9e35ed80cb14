package pipeline

import (
	"fmt"
	"strings"
)

// ReusePolicy decides whether a dependency may reuse an earlier successful
// upstream run for the same revision.
type ReusePolicy int

const (
	// ReuseAlways reuses the latest successful upstream run when one exists.
	ReuseAlways ReusePolicy = iota
	// ReuseNever forces a fresh upstream run.
	ReuseNever
)

func (p ReusePolicy) String() string {
	switch p {
	case ReuseAlways:
		return "ALWAYS"
	case ReuseNever:
		return "NEVER"
	default:
		return fmt.Sprintf("ReusePolicy(%d)", int(p))
	}
}

// ParseReusePolicy accepts "ALWAYS" or "NEVER" in any case. An empty string
// means ALWAYS.
func ParseReusePolicy(s string) (ReusePolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALWAYS":
		return ReuseAlways, nil
	case "NEVER":
		return ReuseNever, nil
	default:
		return 0, fmt.Errorf("invalid reuse policy %q: expected ALWAYS or NEVER", s)
	}
}

// FailurePolicy decides what happens to a dependent run when its upstream
// run fails or is canceled.
type FailurePolicy int

const (
	// FailureCancel cancels the dependent run.
	FailureCancel FailurePolicy = iota
	// FailureIgnore lets the dependent run continue.
	FailureIgnore
)

func (p FailurePolicy) String() string {
	switch p {
	case FailureCancel:
		return "CANCEL"
	case FailureIgnore:
		return "IGNORE"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy accepts "CANCEL" or "IGNORE" in any case. An empty
// string means CANCEL.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CANCEL":
		return FailureCancel, nil
	case "IGNORE":
		return FailureIgnore, nil
	default:
		return 0, fmt.Errorf("invalid failure policy %q: expected CANCEL or IGNORE", s)
	}
}

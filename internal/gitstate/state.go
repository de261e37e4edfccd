package gitstate

import (
	"fmt"
	"strings"
	"time"
)

// Policy controls how repository violations are handled during validation.
type Policy string

const (
	// PolicyStrict fails validation on a dirty tree or an unmet version
	// constraint.
	PolicyStrict Policy = "strict"
	// PolicyForce never fails; violations are recorded in the state for
	// provenance.
	PolicyForce Policy = "force"
	// PolicyVersionOnly checks the version constraint and ignores the
	// dirty flag.
	PolicyVersionOnly Policy = "version-only"
)

// ParsePolicy normalizes a configured policy string.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyForce:
		return PolicyForce, nil
	case PolicyVersionOnly:
		return PolicyVersionOnly, nil
	default:
		return "", fmt.Errorf("unknown git policy %q", value)
	}
}

// State captures the task repository at validation time. It is computed
// once per run and attached to the session as provenance.
type State struct {
	Commit        string    `json:"commit"`
	Branch        string    `json:"branch"`
	Describe      string    `json:"describe,omitempty"`
	Dirty         bool      `json:"dirty"`
	Constraint    string    `json:"constraint,omitempty"`
	ConstraintMet bool      `json:"constraint_met"`
	Violations    []string  `json:"violations,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// ShortCommit returns the abbreviated commit hash for display.
func (s *State) ShortCommit() string {
	if len(s.Commit) > 12 {
		return s.Commit[:12]
	}
	return s.Commit
}

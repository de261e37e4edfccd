package gitstate

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"stagecoach/internal/services"
)

// ErrDirtyTree marks a strict-policy failure caused by uncommitted changes.
// Callers match on it to offer the hard-reset remediation.
var ErrDirtyTree = errors.New("working tree has uncommitted changes")

// Executor abstracts git invocation for the inspector.
type Executor interface {
	Run(ctx context.Context, dir string, args []string) ([]byte, error)
}

// commandExecutor executes git using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, dir string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Output()
}

// Inspector reads provenance from the local task repository. No network
// access; everything comes from repository metadata on disk.
type Inspector struct {
	repo string
	exec Executor
}

// NewInspector constructs an Inspector for the repository at repo.
func NewInspector(repo string) *Inspector {
	return NewInspectorWithExecutor(repo, nil)
}

// NewInspectorWithExecutor allows injecting a custom executor for testing.
func NewInspectorWithExecutor(repo string, exec Executor) *Inspector {
	if exec == nil {
		exec = commandExecutor{}
	}
	return &Inspector{repo: strings.TrimSpace(repo), exec: exec}
}

// Validate computes the repository state and applies the policy. The state
// is returned even when validation fails so callers can record provenance
// and drive remediation.
func (i *Inspector) Validate(ctx context.Context, policy Policy, constraint string) (*State, error) {
	if i.repo == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "git", "no repository path configured", nil)
	}

	inside, err := i.git(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || inside != "true" {
		return nil, services.Wrap(services.ErrValidation, "", "git",
			fmt.Sprintf("%s is not a git repository", i.repo), err)
	}

	state := &State{
		Constraint: strings.TrimSpace(constraint),
		CheckedAt:  time.Now().UTC(),
	}

	if state.Commit, err = i.git(ctx, "rev-parse", "HEAD"); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "git", "read HEAD commit", err)
	}
	if state.Branch, err = i.git(ctx, "rev-parse", "--abbrev-ref", "HEAD"); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "git", "read branch", err)
	}

	porcelain, err := i.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "git", "read working tree status", err)
	}
	state.Dirty = porcelain != ""

	// A repository without tags is fine unless a constraint needs one.
	if describe, err := i.git(ctx, "describe", "--tags"); err == nil {
		state.Describe = describe
	}

	state.ConstraintMet = versionSatisfies(state.Describe, state.Constraint)

	var violations []string
	if state.Dirty && policy != PolicyVersionOnly {
		violations = append(violations, "working tree has uncommitted changes")
	}
	if state.Constraint != "" && !state.ConstraintMet {
		if state.Describe == "" {
			violations = append(violations, fmt.Sprintf("no tag reachable from HEAD satisfies %q", state.Constraint))
		} else {
			violations = append(violations, fmt.Sprintf("checked-out version %q does not satisfy %q", state.Describe, state.Constraint))
		}
	}
	state.Violations = violations

	switch policy {
	case PolicyForce:
		return state, nil
	case PolicyStrict, PolicyVersionOnly:
		if len(violations) == 0 {
			return state, nil
		}
		cause := error(nil)
		if state.Dirty && policy == PolicyStrict {
			cause = ErrDirtyTree
		}
		return state, services.Wrap(services.ErrValidation, "", "git", strings.Join(violations, "; "), cause)
	default:
		return state, services.Wrap(services.ErrConfiguration, "", "git",
			fmt.Sprintf("unknown policy %q", policy), nil)
	}
}

// Reset discards uncommitted changes and untracked files, returning the
// tree to the checked-out commit. Used only after explicit operator
// confirmation.
func (i *Inspector) Reset(ctx context.Context) error {
	if _, err := i.git(ctx, "reset", "--hard"); err != nil {
		return services.Wrap(services.ErrExternalTool, "", "git reset", "", err)
	}
	if _, err := i.git(ctx, "clean", "-fd"); err != nil {
		return services.Wrap(services.ErrExternalTool, "", "git clean", "", err)
	}
	return nil
}

func (i *Inspector) git(ctx context.Context, args ...string) (string, error) {
	output, err := i.exec.Run(ctx, i.repo, args)
	if err != nil {
		if stderr := gitStderr(err); stderr != "" {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), stderr, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

func gitStderr(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		lines := strings.Split(strings.TrimSpace(string(exitErr.Stderr)), "\n")
		if len(lines) > 0 {
			return strings.TrimSpace(lines[0])
		}
	}
	return ""
}

package picker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"stagecoach/internal/config"
)

// Decision keys used across the pipeline. Headless runs answer them from
// the [picker.defaults] config table.
const (
	KeySubject       = "subject"
	KeyOperators     = "operators"
	KeyNotes         = "notes"
	KeyRig           = "rig"
	KeyTaskParams    = "task-params"
	KeySubjectParams = "subject-task-params"
	KeyGitReset      = "git-reset"
	KeyMappingRetry  = "mapping-retry"
)

// ErrNoDefault marks a headless run that reached a decision point with no
// configured answer. Failing fast keeps unattended runs deterministic.
var ErrNoDefault = errors.New("no configured default for decision")

// Picker is the operator decision capability. Callers never inspect which
// variant is active; they only call the interface.
type Picker interface {
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, key, prompt string) (bool, error)
	// PickOne asks the operator to choose one of options.
	PickOne(ctx context.Context, key, prompt string, options []string) (string, error)
	// InputText asks for free text. A non-nil validate rejects bad input;
	// the interactive variant re-prompts, the headless variant fails.
	InputText(ctx context.Context, key, prompt string, validate func(string) error) (string, error)
}

// New selects the picker variant from configuration. Mode "auto" picks the
// interactive variant only when both stdin and stdout are terminals.
func New(cfg *config.Config, logger *slog.Logger) (Picker, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Picker.Mode))
	switch mode {
	case "", "auto":
		if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
			return NewInteractive(logger), nil
		}
		return NewHeadless(cfg.Picker.Defaults, logger), nil
	case "interactive":
		return NewInteractive(logger), nil
	case "headless":
		return NewHeadless(cfg.Picker.Defaults, logger), nil
	default:
		return nil, fmt.Errorf("unknown picker mode %q", cfg.Picker.Mode)
	}
}

package picker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"stagecoach/internal/logging"
	"stagecoach/internal/services"
)

// Headless resolves decisions from configured defaults without blocking.
type Headless struct {
	defaults map[string]string
	logger   *slog.Logger
}

// NewHeadless builds a headless picker over the configured answers.
func NewHeadless(defaults map[string]string, logger *slog.Logger) *Headless {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Headless{
		defaults: defaults,
		logger:   logging.NewComponentLogger(logger, "picker"),
	}
}

func (h *Headless) Confirm(ctx context.Context, key, prompt string) (bool, error) {
	value, err := h.lookup(ctx, key, prompt)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "y", "yes", "true", "1":
		h.logDecision(key, "yes")
		return true, nil
	case "n", "no", "false", "0":
		h.logDecision(key, "no")
		return false, nil
	default:
		return false, services.Wrap(services.ErrConfiguration, "", "picker",
			fmt.Sprintf("default for %q must be yes or no, got %q", key, value), nil)
	}
}

func (h *Headless) PickOne(ctx context.Context, key, prompt string, options []string) (string, error) {
	value, err := h.lookup(ctx, key, prompt)
	if err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)
	for _, option := range options {
		if strings.EqualFold(option, value) {
			h.logDecision(key, option)
			return option, nil
		}
	}
	return "", services.Wrap(services.ErrConfiguration, "", "picker",
		fmt.Sprintf("default %q for %q is not one of the offered options", value, key), nil)
}

func (h *Headless) InputText(ctx context.Context, key, prompt string, validate func(string) error) (string, error) {
	value, err := h.lookup(ctx, key, prompt)
	if err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)
	if validate != nil {
		if err := validate(value); err != nil {
			return "", services.Wrap(services.ErrConfiguration, "", "picker",
				fmt.Sprintf("default for %q rejected", key), err)
		}
	}
	h.logDecision(key, value)
	return value, nil
}

func (h *Headless) lookup(ctx context.Context, key, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, ok := h.defaults[key]
	if !ok {
		return "", services.Wrap(services.ErrConfiguration, "", "picker",
			fmt.Sprintf("%s (decision %q)", prompt, key), ErrNoDefault)
	}
	return value, nil
}

func (h *Headless) logDecision(key, result string) {
	h.logger.Info("decision resolved from defaults",
		logging.Args(logging.DecisionAttrs("headless", result, key)...)...)
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stagecoach/internal/config"
	"stagecoach/internal/fileutil"
	"stagecoach/internal/logging"
	"stagecoach/internal/picker"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
	"stagecoach/internal/stage"
)

const noParamsOption = "(no task parameters)"

// Handler resolves run identity and allocates the session directory.
type Handler struct {
	stage.Base
	cfg    *config.Config
	pick   picker.Picker
	logger *slog.Logger

	taskParamsSource string
}

// NewHandler constructs the INIT stage handler.
func NewHandler(cfg *config.Config, pick picker.Picker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		Base:   stage.Base{Name: string(session.StageInit)},
		cfg:    cfg,
		pick:   pick,
		logger: logging.NewComponentLogger(logger, "intake"),
	}
}

// Prepare fills the session identity from configuration, falling back to
// picker prompts for anything unset, and derives the session paths.
func (h *Handler) Prepare(ctx context.Context, sess *session.Session) error {
	subject, err := h.resolveSubject(ctx)
	if err != nil {
		return err
	}
	sess.Subject = subject

	operators, err := h.resolveOperators(ctx)
	if err != nil {
		return err
	}
	sess.Operators = operators

	notes, err := h.resolveNotes(ctx)
	if err != nil {
		return err
	}
	sess.Notes = notes

	rig, err := h.resolveRig(ctx)
	if err != nil {
		return err
	}
	sess.Rig = rig

	sess.TaskName = h.taskName()
	sess.SessionDir = session.DirFor(h.cfg.Paths.DataDir, sess.Subject, sess.ID)
	if h.cfg.Stages.TransferData && h.cfg.Transfer.Destination != "" {
		sess.DestinationDir = session.DestinationFor(h.cfg.Transfer.Destination, sess.Subject, sess.ID)
	}

	source, err := h.resolveTaskParams(ctx, sess.Subject)
	if err != nil {
		return err
	}
	h.taskParamsSource = source
	return nil
}

// Execute creates the session directory layout and stages the selected task
// parameter file into it.
func (h *Handler) Execute(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, dir := range []string{sess.SessionDir, sess.DataDir(), sess.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, h.Name, "intake",
				fmt.Sprintf("create session directory %s", dir), err)
		}
	}
	if h.taskParamsSource != "" {
		if err := fileutil.CopyFile(h.taskParamsSource, sess.TaskParamsPath()); err != nil {
			return services.Wrap(services.ErrConfiguration, h.Name, "intake",
				fmt.Sprintf("stage task parameters from %s", h.taskParamsSource), err)
		}
		h.logger.Info("task parameters staged",
			logging.String("source", h.taskParamsSource))
	}
	h.logger.Info("session initialized",
		logging.String("subject", sess.Subject),
		logging.String("rig", sess.Rig),
		logging.String("session_dir", sess.SessionDir))
	return nil
}

// HealthCheck verifies the intake stage has a writable data root.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(h.cfg.Paths.DataDir) == "" {
		return stage.Unhealthy(h.Name, "paths.data_dir is not configured")
	}
	return stage.Healthy(h.Name)
}

func (h *Handler) resolveSubject(ctx context.Context) (string, error) {
	if subject := strings.TrimSpace(h.cfg.Session.Subject); subject != "" {
		return subject, nil
	}
	return h.pick.InputText(ctx, picker.KeySubject, "Subject identifier", ValidateSubject)
}

func (h *Handler) resolveOperators(ctx context.Context) ([]string, error) {
	if len(h.cfg.Session.Operators) > 0 {
		return normalizeOperators(h.cfg.Session.Operators), nil
	}
	raw, err := h.pick.InputText(ctx, picker.KeyOperators,
		"Operator names (comma or space separated)", validateOperatorList)
	if err != nil {
		return nil, err
	}
	return SplitOperators(raw), nil
}

// resolveNotes treats notes as optional: a headless run with no configured
// default simply records none.
func (h *Handler) resolveNotes(ctx context.Context) (string, error) {
	if notes := strings.TrimSpace(h.cfg.Session.Notes); notes != "" {
		return notes, nil
	}
	notes, err := h.pick.InputText(ctx, picker.KeyNotes, "Session notes (optional)", nil)
	if err != nil {
		if errors.Is(err, picker.ErrNoDefault) {
			return "", nil
		}
		return "", err
	}
	return notes, nil
}

// resolveRig prefers the configured rig id, then the per-host rig files in
// the library: exactly one auto-selects, several prompt, none falls back to
// the hostname.
func (h *Handler) resolveRig(ctx context.Context) (string, error) {
	if rig := strings.TrimSpace(h.cfg.Session.Rig); rig != "" {
		return rig, nil
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	rigs, err := listJSONStems(filepath.Join(h.cfg.RigsDir(), host))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, h.Name, "intake", "list rig files", err)
	}
	switch len(rigs) {
	case 0:
		return host, nil
	case 1:
		h.logger.Info("rig auto-selected", logging.String("rig", rigs[0]))
		return rigs[0], nil
	default:
		return h.pick.PickOne(ctx, picker.KeyRig, "Select the rig for this run", rigs)
	}
}

// resolveTaskParams selects the task parameter file for the run: a
// subject-named file is offered first, otherwise the operator picks from the
// library. Returns the source path, or "" when the run carries no parameters.
func (h *Handler) resolveTaskParams(ctx context.Context, subject string) (string, error) {
	tasksDir := h.cfg.TasksDir()
	stems, err := listJSONStems(tasksDir)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, h.Name, "intake", "list task parameter files", err)
	}
	if len(stems) == 0 {
		return "", nil
	}

	if containsFold(stems, subject) {
		use, err := h.pick.Confirm(ctx, picker.KeySubjectParams,
			fmt.Sprintf("Use task parameters for subject %q?", subject))
		if err != nil && !errors.Is(err, picker.ErrNoDefault) {
			return "", err
		}
		if err == nil && use {
			return filepath.Join(tasksDir, subject+".json"), nil
		}
	}

	options := append(append([]string(nil), stems...), noParamsOption)
	choice, err := h.pick.PickOne(ctx, picker.KeyTaskParams, "Select task parameters", options)
	if err != nil {
		if errors.Is(err, picker.ErrNoDefault) {
			h.logger.Debug("no task parameter default configured, continuing without")
			return "", nil
		}
		return "", err
	}
	if choice == noParamsOption {
		return "", nil
	}
	return filepath.Join(tasksDir, choice+".json"), nil
}

func (h *Handler) taskName() string {
	if name := strings.TrimSpace(h.cfg.Task.Name); name != "" {
		return name
	}
	return filepath.Base(strings.TrimSpace(h.cfg.Task.Command))
}

// ValidateSubject enforces the subject naming rules used for session
// directory layout.
func ValidateSubject(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("subject is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return errors.New("subject must not contain path separators")
	}
	return nil
}

// SplitOperators breaks a raw operator answer on commas and whitespace.
func SplitOperators(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return normalizeOperators(fields)
}

func normalizeOperators(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func validateOperatorList(raw string) error {
	names := SplitOperators(raw)
	if len(names) == 0 {
		return errors.New("at least one operator name is required")
	}
	for _, name := range names {
		if len(name) < 2 {
			return fmt.Errorf("operator name %q is too short", name)
		}
	}
	return nil
}

func listJSONStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var stems []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		stems = append(stems, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(stems)
	return stems, nil
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}

package picker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stagecoach/internal/logging"
	"stagecoach/internal/services"
)

var (
	promptStyle   = lipgloss.NewStyle().Bold(true)
	choiceStyle   = lipgloss.NewStyle().Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).
			Foreground(lipgloss.Color("212")).
			Border(lipgloss.RoundedBorder())
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

// Interactive blocks on the operator at each decision point.
type Interactive struct {
	logger *slog.Logger
}

// NewInteractive builds the terminal picker.
func NewInteractive(logger *slog.Logger) *Interactive {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Interactive{logger: logging.NewComponentLogger(logger, "picker")}
}

func (i *Interactive) Confirm(ctx context.Context, key, prompt string) (bool, error) {
	final, err := runProgram(ctx, newConfirmModel(prompt))
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	if m.aborted {
		return false, abortErr(key)
	}
	i.logDecision(key, fmt.Sprintf("%t", m.yes))
	return m.yes, nil
}

func (i *Interactive) PickOne(ctx context.Context, key, prompt string, options []string) (string, error) {
	if len(options) == 0 {
		return "", services.Wrap(services.ErrConfiguration, "", "picker",
			fmt.Sprintf("no options offered for %q", key), nil)
	}
	final, err := runProgram(ctx, newPickModel(prompt, options))
	if err != nil {
		return "", err
	}
	m := final.(pickModel)
	if m.aborted {
		return "", abortErr(key)
	}
	i.logDecision(key, m.choice)
	return m.choice, nil
}

func (i *Interactive) InputText(ctx context.Context, key, prompt string, validate func(string) error) (string, error) {
	final, err := runProgram(ctx, newInputModel(prompt, validate))
	if err != nil {
		return "", err
	}
	m := final.(inputModel)
	if m.aborted {
		return "", abortErr(key)
	}
	i.logDecision(key, m.value)
	return m.value, nil
}

func (i *Interactive) logDecision(key, result string) {
	i.logger.Info("decision resolved by operator",
		logging.Args(logging.DecisionAttrs("interactive", result, key)...)...)
}

func runProgram(ctx context.Context, model tea.Model) (tea.Model, error) {
	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil {
		return nil, services.Wrap(services.ErrAborted, "", "picker", "prompt interrupted", err)
	}
	return final, nil
}

func abortErr(key string) error {
	return services.Wrap(services.ErrAborted, "", "picker",
		fmt.Sprintf("operator cancelled decision %q", key), nil)
}

// confirmModel is a two-choice yes/no prompt. The cursor starts on No so
// that bare enter never green-lights a destructive action.
type confirmModel struct {
	prompt  string
	yes     bool
	aborted bool
}

func newConfirmModel(prompt string) confirmModel {
	return confirmModel{prompt: prompt}
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.aborted = true
		return m, tea.Quit
	case "y", "Y":
		m.yes = true
		return m, tea.Quit
	case "n", "N":
		m.yes = false
		return m, tea.Quit
	case "left", "h":
		m.yes = true
	case "right", "l":
		m.yes = false
	case "tab":
		m.yes = !m.yes
	case "enter":
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	yes := choiceStyle.Render("Yes")
	no := selectedStyle.Render("No")
	if m.yes {
		yes = selectedStyle.Render("Yes")
		no = choiceStyle.Render("No")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		promptStyle.Render(m.prompt),
		lipgloss.JoinHorizontal(lipgloss.Center, yes, "  ", no),
		hintStyle.Render("←/→ select · enter confirm · esc cancel"),
	)
}

// pickItem implements list.Item for option rows.
type pickItem struct {
	label string
}

func (i pickItem) Title() string       { return i.label }
func (i pickItem) Description() string { return "" }
func (i pickItem) FilterValue() string { return i.label }

type pickModel struct {
	list    list.Model
	choice  string
	aborted bool
}

func newPickModel(prompt string, options []string) pickModel {
	items := make([]list.Item, len(options))
	for i, option := range options {
		items[i] = pickItem{label: option}
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	l := list.New(items, delegate, 60, len(options)*2+8)
	l.Title = prompt
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	return pickModel{list: l}
}

func (m pickModel) Init() tea.Cmd { return nil }

func (m pickModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width-4, msg.Height-4)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			if item, ok := m.list.SelectedItem().(pickItem); ok {
				m.choice = item.label
				return m, tea.Quit
			}
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickModel) View() string {
	return m.list.View()
}

type inputModel struct {
	prompt   string
	input    textinput.Model
	validate func(string) error
	errMsg   string
	value    string
	aborted  bool
}

func newInputModel(prompt string, validate func(string) error) inputModel {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 48
	return inputModel{prompt: prompt, input: ti, validate: validate}
}

func (m inputModel) Init() tea.Cmd { return textinput.Blink }

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			if m.validate != nil {
				if err := m.validate(value); err != nil {
					m.errMsg = err.Error()
					return m, nil
				}
			}
			m.value = value
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.errMsg != "" {
		m.errMsg = ""
	}
	return m, cmd
}

func (m inputModel) View() string {
	sections := []string{
		promptStyle.Render(m.prompt),
		m.input.View(),
	}
	if m.errMsg != "" {
		sections = append(sections, errStyle.Render(m.errMsg))
	}
	sections = append(sections, hintStyle.Render("enter submit · esc cancel"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

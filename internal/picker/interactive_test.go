package picker

import (
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func keyMsg(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

func runeMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func wantQuit(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected quit command, got nil")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg, got %T", cmd())
	}
}

func TestConfirmModelShortcutKeys(t *testing.T) {
	m := newConfirmModel("reset the working tree?")
	updated, cmd := m.Update(runeMsg("y"))
	wantQuit(t, cmd)
	final := updated.(confirmModel)
	if !final.yes || final.aborted {
		t.Fatalf("after y: yes=%t aborted=%t", final.yes, final.aborted)
	}

	m = newConfirmModel("reset the working tree?")
	updated, cmd = m.Update(runeMsg("n"))
	wantQuit(t, cmd)
	final = updated.(confirmModel)
	if final.yes {
		t.Fatal("after n: expected no")
	}
}

func TestConfirmModelArrowSelection(t *testing.T) {
	m := newConfirmModel("proceed?")
	if m.yes {
		t.Fatal("cursor should start on No")
	}
	updated, _ := m.Update(keyMsg(tea.KeyLeft))
	m = updated.(confirmModel)
	if !m.yes {
		t.Fatal("left should move cursor to Yes")
	}
	updated, _ = m.Update(keyMsg(tea.KeyRight))
	m = updated.(confirmModel)
	if m.yes {
		t.Fatal("right should move cursor back to No")
	}
	updated, _ = m.Update(keyMsg(tea.KeyTab))
	m = updated.(confirmModel)
	if !m.yes {
		t.Fatal("tab should toggle the cursor")
	}
	updated, cmd := m.Update(keyMsg(tea.KeyEnter))
	wantQuit(t, cmd)
	m = updated.(confirmModel)
	if !m.yes {
		t.Fatal("enter should commit the cursor choice")
	}
}

func TestConfirmModelEscapeAborts(t *testing.T) {
	m := newConfirmModel("proceed?")
	updated, cmd := m.Update(keyMsg(tea.KeyEsc))
	wantQuit(t, cmd)
	if !updated.(confirmModel).aborted {
		t.Fatal("esc should abort")
	}

	m = newConfirmModel("proceed?")
	updated, cmd = m.Update(keyMsg(tea.KeyCtrlC))
	wantQuit(t, cmd)
	if !updated.(confirmModel).aborted {
		t.Fatal("ctrl+c should abort")
	}
}

func TestConfirmModelViewShowsChoices(t *testing.T) {
	m := newConfirmModel("reset the working tree?")
	view := m.View()
	for _, want := range []string{"reset the working tree?", "Yes", "No"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestPickModelSelectsWithEnter(t *testing.T) {
	options := []string{"m041", "m042", "m043"}
	m := newPickModel("choose subject", options)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = updated.(pickModel)
	updated, _ = m.Update(keyMsg(tea.KeyDown))
	m = updated.(pickModel)
	updated, cmd := m.Update(keyMsg(tea.KeyEnter))
	wantQuit(t, cmd)
	m = updated.(pickModel)

	if m.aborted {
		t.Fatal("selection should not abort")
	}
	if m.choice != "m042" {
		t.Fatalf("choice = %q, want m042", m.choice)
	}
}

func TestPickModelEscapeAborts(t *testing.T) {
	m := newPickModel("choose subject", []string{"m041", "m042"})
	updated, cmd := m.Update(keyMsg(tea.KeyEsc))
	wantQuit(t, cmd)
	if !updated.(pickModel).aborted {
		t.Fatal("esc should abort")
	}
}

func TestPickModelViewListsOptions(t *testing.T) {
	m := newPickModel("choose subject", []string{"m041", "m042"})
	view := m.View()
	if !strings.Contains(view, "m041") {
		t.Fatalf("view missing first option:\n%s", view)
	}
}

func TestInputModelValidationLoop(t *testing.T) {
	validate := func(s string) error {
		if s == "" {
			return fmt.Errorf("value must not be empty")
		}
		return nil
	}
	m := newInputModel("operators", validate)

	updated, cmd := m.Update(keyMsg(tea.KeyEnter))
	m = updated.(inputModel)
	if cmd != nil {
		if _, ok := cmd().(tea.QuitMsg); ok {
			t.Fatal("rejected input should not quit")
		}
	}
	if m.errMsg == "" {
		t.Fatal("expected validation message after empty submit")
	}
	if !strings.Contains(m.View(), "value must not be empty") {
		t.Fatalf("view should surface the validation message:\n%s", m.View())
	}

	updated, _ = m.Update(runeMsg("jdoe"))
	m = updated.(inputModel)
	if m.errMsg != "" {
		t.Fatal("typing should clear the validation message")
	}
	updated, cmd = m.Update(keyMsg(tea.KeyEnter))
	wantQuit(t, cmd)
	m = updated.(inputModel)
	if m.value != "jdoe" {
		t.Fatalf("value = %q, want jdoe", m.value)
	}
}

func TestInputModelTrimsWhitespace(t *testing.T) {
	m := newInputModel("notes", nil)
	updated, _ := m.Update(runeMsg("  probe moved 2mm  "))
	m = updated.(inputModel)
	updated, cmd := m.Update(keyMsg(tea.KeyEnter))
	wantQuit(t, cmd)
	m = updated.(inputModel)
	if m.value != "probe moved 2mm" {
		t.Fatalf("value = %q", m.value)
	}
}

func TestInputModelAborts(t *testing.T) {
	m := newInputModel("notes", nil)
	updated, cmd := m.Update(keyMsg(tea.KeyCtrlC))
	wantQuit(t, cmd)
	if !updated.(inputModel).aborted {
		t.Fatal("ctrl+c should abort")
	}
}

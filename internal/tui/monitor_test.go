package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return mm, cmd
}

func TestModel_Progress(t *testing.T) {
	m := newModel(Info{Title: "cylinder3d", Steps: 2, Epochs: 3, StartTime: 100, TimeStep: 1}, nil)
	if !strings.Contains(m.View(), "0/2 steps") {
		t.Errorf("initial view missing progress:\n%s", m.View())
	}

	for e := 1; e <= 3; e++ {
		m, _ = update(t, m, epochMsg{step: 1, epoch: e, t: 101, loss: 1 / float64(e)})
	}
	m, _ = update(t, m, stepMsg{step: 1, t: 101, elapsed: 20 * time.Millisecond, loss: 1.0 / 3})

	if m.epoch != 3 || m.t != 101 {
		t.Errorf("epoch=%d t=%g", m.epoch, m.t)
	}
	if len(m.history) != 3 {
		t.Errorf("history len = %d, want 3", len(m.history))
	}
	view := m.View()
	for _, want := range []string{"1/2 steps", "3/3", "loss"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_HistoryBounded(t *testing.T) {
	m := newModel(Info{Steps: 1, Epochs: 1000}, nil)
	for e := 0; e < maxHistory+10; e++ {
		m, _ = update(t, m, epochMsg{step: 1, epoch: e + 1, loss: float64(e)})
	}
	if len(m.history) != maxHistory {
		t.Fatalf("history len = %d, want %d", len(m.history), maxHistory)
	}
	if m.history[0] != 10 {
		t.Errorf("oldest = %g, want 10", m.history[0])
	}
}

func TestModel_QuitCancels(t *testing.T) {
	canceled := false
	m := newModel(Info{Steps: 1}, func() { canceled = true })
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if !canceled || !m.stopped {
		t.Error("quit did not cancel training")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestModel_DoneWithError(t *testing.T) {
	m := newModel(Info{Title: "run", Steps: 1}, nil)
	m, cmd := update(t, m, doneMsg{err: errors.New("data unavailable")})
	if !m.done || cmd == nil {
		t.Fatal("done message should finish the program")
	}
	if !strings.Contains(m.View(), "data unavailable") {
		t.Errorf("view should show the error:\n%s", m.View())
	}

	canceled := false
	m.cancel = func() { canceled = true }
	update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if canceled {
		t.Error("finished run should not be canceled")
	}
}

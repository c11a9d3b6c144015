// Package tui renders a live view of a marching training run.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// Info describes the run being shown.
type Info struct {
	Title     string
	Steps     int
	Epochs    int
	StartTime float64
	TimeStep  float64
}

type epochMsg struct {
	step, epoch int
	t, loss     float64
}

type stepMsg struct {
	step    int
	t       float64
	elapsed time.Duration
	loss    float64
}

type doneMsg struct{ err error }

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

const maxHistory = 240

type model struct {
	info Info

	step    int
	epoch   int
	t       float64
	loss    float64
	history []float64
	steps   []time.Duration
	started time.Time
	now     time.Time

	done    bool
	err     error
	stopped bool
	cancel  context.CancelFunc

	width  int
	height int
}

func newModel(info Info, cancel context.CancelFunc) model {
	now := time.Now()
	return model{
		info:    info,
		t:       info.StartTime,
		loss:    math.NaN(),
		started: now,
		now:     now,
		cancel:  cancel,
		width:   80,
		height:  24,
	}
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done {
				m.stopped = true
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case epochMsg:
		m.step, m.epoch, m.t, m.loss = msg.step, msg.epoch, msg.t, msg.loss
		m.history = append(m.history, msg.loss)
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		return m, nil
	case stepMsg:
		m.steps = append(m.steps, msg.elapsed)
		return m, nil
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case tickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	status := green.Render("●") + " " + green.Render("training")
	switch {
	case m.err != nil:
		status = red.Render("●") + " " + red.Render("failed")
	case m.done:
		status = cyan.Render("●") + " " + cyan.Render("done")
	case m.stopped:
		status = yellow.Render("○") + " " + yellow.Render("stopping")
	}
	b.WriteString(fmt.Sprintf("\n   %s  %s\n", cyan.Render(m.info.Title), status))

	progress := 0.0
	if m.info.Steps > 0 {
		done := len(m.steps)
		progress = float64(done) / float64(m.info.Steps)
	}
	if progress > 1 {
		progress = 1
	}
	barWidth := 36
	filled := int(progress * float64(barWidth))
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	b.WriteString(fmt.Sprintf("   %s %s\n\n", bar,
		dim.Render(fmt.Sprintf("%d/%d steps", len(m.steps), m.info.Steps))))

	b.WriteString("   " + dim.Render("time  ") + white.Render(fmt.Sprintf("%-10g", m.t)))
	b.WriteString(dim.Render("epoch ") + white.Render(fmt.Sprintf("%d/%d", m.epoch, m.info.Epochs)) + "\n")
	loss := "-"
	if !math.IsNaN(m.loss) {
		loss = fmt.Sprintf("%.6g", m.loss)
	}
	b.WriteString("   " + dim.Render("loss  ") + magenta.Render(loss) + "\n")
	if n := len(m.steps); n > 0 {
		b.WriteString("   " + dim.Render("last step ") + white.Render(m.steps[n-1].Round(time.Millisecond).String()))
		b.WriteString("  " + dim.Render("elapsed ") + white.Render(m.now.Sub(m.started).Round(time.Second).String()) + "\n")
	}

	if len(m.history) > 1 {
		w := m.width - 16
		if w < 30 {
			w = 30
		}
		h := m.height - 14
		if h < 5 {
			h = 5
		}
		if h > 15 {
			h = 15
		}
		graph := asciigraph.Plot(m.history,
			asciigraph.Height(h),
			asciigraph.Width(w),
			asciigraph.Caption("loss"))
		b.WriteString("\n")
		for _, line := range strings.Split(graph, "\n") {
			b.WriteString("   " + cyan.Render(line) + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   q quit") + "\n")
	return b.String()
}

// Monitor forwards march progress to a running program.
type Monitor struct {
	p *tea.Program
}

func (mo *Monitor) OnEpoch(step, epoch int, t, loss float64) {
	mo.p.Send(epochMsg{step: step, epoch: epoch, t: t, loss: loss})
}

func (mo *Monitor) OnStep(step int, t float64, elapsed time.Duration, loss float64) {
	mo.p.Send(stepMsg{step: step, t: t, elapsed: elapsed, loss: loss})
}

// Run shows the monitor while train runs in the background. Quitting the
// monitor cancels the context passed to train; the training error is returned
// once train has returned.
func Run(ctx context.Context, info Info, train func(ctx context.Context, mon *Monitor) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel(info, cancel), tea.WithAltScreen())
	mon := &Monitor{p: p}

	errc := make(chan error, 1)
	go func() {
		err := train(ctx, mon)
		errc <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-errc
		return fmt.Errorf("monitor: %w", err)
	}
	return <-errc
}

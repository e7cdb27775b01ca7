package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// stdoutIsTerminal reports whether stdout is attached to a terminal, so
// -progress can be silently skipped when output is piped or redirected
// (e.g. in CI) rather than spamming it with TUI escape codes.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var progressLabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4")).
	Padding(0, 1)

// progressUpdateMsg reports that done of total module instances have
// been rewritten and written to the output directory.
type progressUpdateMsg struct {
	done, total int
}

type progressModel struct {
	bar   progress.Model
	done  int
	total int
}

func newProgressModel() progressModel {
	return progressModel{bar: progress.New(progress.WithDefaultGradient())}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressUpdateMsg:
		m.done, m.total = msg.done, msg.total
		if m.total > 0 && m.done >= m.total {
			return m, tea.Sequence(m.bar.SetPercent(1), tea.Quit)
		}
		var pct float64
		if m.total > 0 {
			pct = float64(m.done) / float64(m.total)
		}
		return m, m.bar.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 4
		return m, nil

	case progress.FrameMsg:
		newModel, cmd := m.bar.Update(msg)
		if bar, ok := newModel.(progress.Model); ok {
			m.bar = bar
		}
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	label := progressLabelStyle.Render(fmt.Sprintf("rewriting %d/%d", m.done, m.total))
	return label + "\n" + m.bar.View() + "\n"
}

// runProgressUI starts a bubbletea program rendering a bubbles/progress
// bar and returns a callback suitable for orchestrator.Options.Progress
// plus a function that stops the program once the run is done.
func runProgressUI() (update func(done, total int), finish func()) {
	p := tea.NewProgram(newProgressModel())
	go func() {
		_, _ = p.Run()
	}()
	return func(done, total int) {
			p.Send(progressUpdateMsg{done: done, total: total})
		}, func() {
			p.Quit()
			p.Wait()
		}
}

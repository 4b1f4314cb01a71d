package sync

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tildaslashalef/obrasync/internal/loggy"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = max(min(msg.Width-10, maxProgressWidth), 10)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Stop):
			if m.done {
				return m, tea.Quit
			}
			if !m.stopping {
				m.stopping = true
				m.cancel.Cancel()
				loggy.Info("Sync pass stop requested")
			}
			return m, nil
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}

	case spinner.TickMsg:
		if !m.done {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)

	case ProgressMsg:
		m.started = true
		m.lastProgress = msg.PassProgress()
		cmds = append(cmds, m.progress.SetPercent(m.Percent()))

	case CompleteMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		if msg.Err != nil {
			loggy.Error("Sync pass failed", "error", msg.Err)
		}
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

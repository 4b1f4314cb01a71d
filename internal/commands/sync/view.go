package sync

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tildaslashalef/obrasync/internal/sync"
)

// View renders the sync progress
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Title.Render("obrasync"))
	sb.WriteString("\n\n")

	switch {
	case m.done:
		m.writeSummary(&sb)
		return m.styles.Border.Render(sb.String()) + "\n"

	case !m.started:
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, m.spinner.View(), " ", "Checking the queue..."))

	default:
		ev := m.lastProgress
		current := fmt.Sprintf("Syncing %s (%d/%d)", ev.CurrentName, ev.CurrentIndex+1, ev.Total)
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, m.spinner.View(), " ", current))
		sb.WriteString("\n")
		if ev.PhotoProgress.Total > 0 {
			sb.WriteString(m.styles.Subtle.Render(fmt.Sprintf("Photos %d/%d", ev.PhotoProgress.Completed, ev.PhotoProgress.Total)))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		sb.WriteString(m.progress.ViewAs(m.Percent()))
		sb.WriteString("\n")
		sb.WriteString(m.styles.StatusText.Render(fmt.Sprintf("Delivered: %d, Failed: %d", ev.Success, ev.Failed)))
	}

	if m.stopping {
		sb.WriteString("\n\n")
		sb.WriteString(m.styles.Warning.Render("Stopping after the current photo..."))
	}

	sb.WriteString("\n\n")
	if m.help.ShowAll {
		sb.WriteString(m.help.View(m.keymap))
	} else {
		sb.WriteString(m.help.ShortHelpView(m.keymap.ShortHelp()))
	}

	return m.styles.Border.Render(sb.String())
}

func (m Model) writeSummary(sb *strings.Builder) {
	if m.err != nil {
		sb.WriteString(m.styles.Error.Render("Error: " + m.err.Error()))
		return
	}

	r := m.result
	if r.Success == 0 && r.Failed == 0 && r.Status != sync.PassCancelled {
		sb.WriteString(m.styles.Info.Render("Nothing to sync"))
		return
	}

	sb.WriteString(fmt.Sprintf("Delivered: %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	for _, e := range r.Errors {
		sb.WriteString(m.styles.Error.Render(fmt.Sprintf("  %s: %s", e.Name, e.Message)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	switch {
	case r.Status == sync.PassCancelled:
		sb.WriteString(m.styles.Warning.Render("Sync cancelled, remaining items stay queued"))
	case r.Failed > 0:
		sb.WriteString(m.styles.Warning.Render("Failed items will be retried on the next sync"))
	default:
		sb.WriteString(m.styles.Success.Render("Sync complete"))
	}
}

// Package sync renders the live progress of a manual sync pass
package sync

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/obrasync/internal/sync"
)

const maxProgressWidth = 60

// Model is the Bubble Tea model for the sync progress view
type Model struct {
	cancel   *sync.CancelToken
	keymap   KeyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model
	styles   Styles

	// UI state
	width        int
	lastProgress sync.PassProgress
	started      bool
	stopping     bool
	done         bool
	result       sync.PassResult
	err          error
}

// NewModel creates the view for a pass that stops when cancel is triggered
func NewModel(cancel *sync.CancelToken) Model {
	styles := DefaultStyles()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)

	return Model{
		cancel:   cancel,
		keymap:   DefaultKeyMap(),
		help:     help.New(),
		spinner:  s,
		progress: p,
		styles:   styles,
	}
}

// Init starts the spinner
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Stopping reports whether the user asked the pass to stop
func (m Model) Stopping() bool {
	return m.stopping
}

// Percent is the share of the pass already processed, counting photos of the current item
func (m Model) Percent() float64 {
	return percent(m.lastProgress)
}

func percent(ev sync.PassProgress) float64 {
	if ev.Total <= 0 {
		return 0
	}
	processed := float64(ev.Success + ev.Failed)
	if ev.Status == sync.PassSyncing && ev.PhotoProgress.Total > 0 {
		processed += float64(ev.PhotoProgress.Completed) / float64(ev.PhotoProgress.Total)
	}
	v := processed / float64(ev.Total)
	if v > 1 {
		v = 1
	}
	return v
}

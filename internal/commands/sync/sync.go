package sync

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/obrasync/internal/sync"
)

// Runner runs one pass, reporting progress and stopping when cancel is triggered
type Runner func(ctx context.Context, onProgress func(sync.PassProgress), cancel *sync.CancelToken) (sync.PassResult, error)

// Run drives run behind the progress view and returns its outcome. The pass always
// finishes before Run returns.
func Run(ctx context.Context, run Runner, opts ...tea.ProgramOption) (sync.PassResult, error) {
	token := &sync.CancelToken{}
	p := tea.NewProgram(NewModel(token), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	done := make(chan CompleteMsg, 1)
	go func() {
		result, err := run(ctx, func(ev sync.PassProgress) {
			p.Send(ProgressMsg(ev))
		}, token)
		msg := CompleteMsg{Result: result, Err: err}
		done <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		token.Cancel()
		outcome := <-done
		if outcome.Err != nil {
			return outcome.Result, outcome.Err
		}
		return outcome.Result, fmt.Errorf("running sync view: %w", err)
	}

	outcome := <-done
	return outcome.Result, outcome.Err
}

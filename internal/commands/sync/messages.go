package sync

import "github.com/tildaslashalef/obrasync/internal/sync"

type (
	// ProgressMsg carries one progress report from the running pass
	ProgressMsg sync.PassProgress

	// CompleteMsg is sent once the pass returns
	CompleteMsg struct {
		Result sync.PassResult
		Err    error
	}
)

// PassProgress returns the engine report carried by the message
func (m ProgressMsg) PassProgress() sync.PassProgress {
	return sync.PassProgress(m)
}

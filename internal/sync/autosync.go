package sync

import (
	"context"

	"github.com/tildaslashalef/obrasync/internal/network"
)

// StartAutoSync runs a pass each time monitor reports the connection restored. It blocks
// until ctx is done.
func (e *Engine) StartAutoSync(ctx context.Context, monitor *network.Monitor) error {
	monitor.OnRestored(func(ctx context.Context) {
		res, err := e.runPass(ctx, SyncTypeAuto, nil, nil)
		if err != nil {
			e.logger.Error("Automatic sync pass failed", "error", err)
			return
		}
		if res.Success > 0 || res.Failed > 0 {
			e.logger.Info("Automatic sync pass completed", "success", res.Success, "failed", res.Failed)
		}
	})

	e.logger.Info("Automatic sync started")
	return monitor.Run(ctx)
}

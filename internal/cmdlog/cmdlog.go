package cmdlog

import (
	"warble/internal/logging"
	"warble/internal/metrics"
)

// Run executes one CLI command body and records its outcome in logs
// and metrics.
func Run(cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	err := f()
	if err != nil {
		metrics.IncCommandError(cmd)
		logging.Logger.Errorw("command failed", "cmd", cmd, "error", err)
	} else {
		logging.Logger.Infow("command finished", "cmd", cmd)
	}
	return err
}

//go:build !linux
// +build !linux

package flash

import (
	"log/slog"
	"os"
)

// Restart exits the process for its supervisor to restart it.
func (r Rebooter) Restart(reason string) {
	slog.Warn("device_restart", "reason", reason, "system", r.System)
	os.Exit(RestartExitCode)
}

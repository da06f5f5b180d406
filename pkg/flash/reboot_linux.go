//go:build linux
// +build linux

package flash

import (
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Restart flushes filesystems and restarts. Only a system rebooter restarts
// the machine; otherwise the process exits for its supervisor to restart it.
func (r Rebooter) Restart(reason string) {
	slog.Warn("device_restart", "reason", reason, "system", r.System)
	unix.Sync()

	if r.System {
		if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
			slog.Error("device_reboot_failed", "error", err)
		}
	}
	os.Exit(RestartExitCode)
}

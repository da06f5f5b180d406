package flash

// RestartExitCode is the exit status of a process that restarted itself.
const RestartExitCode = 3

// Rebooter implements ota.Restarter.
type Rebooter struct {
	// System reboots the whole machine instead of exiting the process.
	// Ignored outside linux.
	System bool
}

// Package exitcodes contains the process exit codes used by forgeload.
package exitcodes

// ExitCode is a process exit code.
type ExitCode uint8

const (
	// Success means every threshold passed.
	Success ExitCode = 0
	// ThresholdsHaveFailed means the run completed but a threshold failed.
	ThresholdsHaveFailed ExitCode = 1
	// InvalidConfig means the run was rejected before the first request.
	InvalidConfig ExitCode = 2
	// Fatal covers every other error that stops the run from starting.
	Fatal ExitCode = 2
)

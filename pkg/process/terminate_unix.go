//go:build !windows

package process

import (
	"syscall"
)

// SendTerminationSignal sends SIGTERM to the process group so the whole
// tree spawned by the unit shuts down, not just the direct child.
func SendTerminationSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// SendKillSignal force-kills the process group after a graceful
// termination attempt has timed out.
func SendKillSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// Terminate signals a single process, not its group. Used for stale
// listeners that the supervisor did not spawn itself.
func Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// ForceKill force-kills a single process that ignored Terminate.
func ForceKill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

//go:build !windows

package process

import (
	"os"
	"syscall"
)

// IsProcessRunning reports whether a process with the given PID exists.
// On Unix, FindProcess always succeeds, so existence is tested with
// signal 0; EPERM means the process exists but belongs to someone else.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errno, ok := err.(syscall.Errno); ok && errno == syscall.EPERM {
		return true
	}
	return false
}

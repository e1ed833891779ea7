//go:build windows

package process

import (
	"os"
)

// SendTerminationSignal terminates the child process. Windows has no
// SIGTERM equivalent for arbitrary processes, so this is a hard stop.
func SendTerminationSignal(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func SendKillSignal(pid int) error {
	return SendTerminationSignal(pid)
}

func Terminate(pid int) error {
	return SendTerminationSignal(pid)
}

func ForceKill(pid int) error {
	return SendTerminationSignal(pid)
}

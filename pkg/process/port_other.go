//go:build !linux

package process

// FindListenerPID is only implemented on Linux, where the session
// supervisor actually runs; elsewhere the stale-listener cleanup is a
// no-op.
func FindListenerPID(port int) (int, error) {
	return 0, nil
}

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/magi-os/sessiond/pkg/errors"
)

// WritePIDFile records the current process PID at path. A leftover file
// from a previous session is overwritten when its PID is no longer
// alive; a live PID means another supervisor owns the session and the
// call fails with a conflict error.
func WritePIDFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewValidationError("pid file path cannot be empty", nil)
	}

	if existing, err := ReadPIDFile(path); err == nil {
		if existing != os.Getpid() && IsProcessRunning(existing) {
			return errors.NewConflictError(
				fmt.Sprintf("pid file %s is held by running process %d", path, existing),
				nil,
			).WithContext("path", path).WithContext("pid", existing)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError("failed to create pid file directory", err).WithContext("path", path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return errors.NewIOError("failed to write pid file", err).WithContext("path", path)
	}
	return nil
}

// ReadPIDFile returns the PID recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read pid file", err).WithContext("path", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("pid file does not contain a valid PID", err).WithContext("path", path)
	}
	return pid, nil
}

// RemovePIDFile deletes the pid file, ignoring a file that is already
// gone.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove pid file", err).WithContext("path", path)
	}
	return nil
}

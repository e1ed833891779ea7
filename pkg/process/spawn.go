package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/magi-os/sessiond/pkg/errors"
	"github.com/magi-os/sessiond/pkg/logging"
)

// SpawnConfig describes how to launch one child process. The command is
// an argv array and is never shell-expanded; Environment entries are
// KEY=VALUE pairs merged onto the inherited environment.
type SpawnConfig struct {
	Command          []string      `yaml:"command"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// Spawn launches the configured command in its own process group and
// returns the process handle together with a reader over the merged
// stdout/stderr stream. The reader sees EOF when the child exits.
func Spawn(ctx context.Context, config SpawnConfig, id string, logger logging.Logger) (*os.Process, io.ReadCloser, error) {
	if ctx == nil {
		return nil, nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}
	if err := ValidateSpawnConfig(config); err != nil {
		return nil, nil, errors.NewValidationError("invalid spawn configuration", err).WithContext("id", id)
	}

	env := os.Environ()
	env = append(env, config.Environment...)

	cmd := exec.CommandContext(ctx, config.Command[0], config.Command[1:]...)
	cmd.Dir = config.WorkingDirectory
	cmd.Env = env

	// Platform-specific setup lives in spawn_unix.go / spawn_windows.go.
	setupProcessAttributes(cmd)

	// Context cancellation asks the process group to terminate instead
	// of the default hard kill; the caller escalates if needed.
	cmd.Cancel = func() error {
		return SendTerminationSignal(cmd.Process.Pid)
	}

	// wait after the termination signal before escalating to kill
	cmd.WaitDelay = config.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.NewSpawnError("failed to create stdout pipe", err).WithContext("id", id)
	}
	cmd.Stderr = cmd.Stdout

	logger.Debugf("Spawning process, id: %s, command: %v, working directory: %q", id, config.Command, config.WorkingDirectory)

	if err := cmd.Start(); err != nil {
		return nil, nil, errors.NewSpawnError("failed to start the process", err).
			WithContext("id", id).
			WithContext("command", config.Command[0])
	}

	logger.Infof("Process spawned, id: %s, PID: %d", id, cmd.Process.Pid)

	return cmd.Process, stdout, nil
}

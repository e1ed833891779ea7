package process

import (
	"fmt"
	"strings"

	"github.com/magi-os/sessiond/pkg/errors"
)

// ValidateSpawnConfig checks a spawn configuration before launch.
func ValidateSpawnConfig(config SpawnConfig) error {
	if len(config.Command) == 0 {
		return errors.NewValidationError("command cannot be empty", nil)
	}
	if strings.TrimSpace(config.Command[0]) == "" {
		return errors.NewValidationError("command executable cannot be blank", nil)
	}
	for i, entry := range config.Environment {
		if !strings.Contains(entry, "=") {
			return errors.NewValidationError(
				fmt.Sprintf("environment entry at index %d is not KEY=VALUE: %q", i, entry),
				nil,
			)
		}
	}
	if config.WaitDelay < 0 {
		return errors.NewValidationError("wait delay cannot be negative", nil)
	}
	return nil
}

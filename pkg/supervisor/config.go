package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/magi-os/sessiond/pkg/errors"
	"github.com/magi-os/sessiond/pkg/probe"
	"github.com/magi-os/sessiond/pkg/process"

	"gopkg.in/yaml.v3"
)

type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// UnitConfig describes one managed process. Immutable after load; the
// supervisor owning it is the only consumer.
type UnitConfig struct {
	ID               string        `yaml:"id"`
	Command          []string      `yaml:"command"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	ConflictPort     int           `yaml:"conflict_port,omitempty"` // stale listener on this port is cleared before spawn
	Readiness        *probe.Spec   `yaml:"readiness,omitempty"`
	RestartPolicy    RestartPolicy `yaml:"restart_policy,omitempty"`
}

// SessionOptions tunes the restart machinery. All knobs are external
// static configuration consumed once at supervisor construction.
type SessionOptions struct {
	CacheDir        string        `yaml:"cache_dir,omitempty"`
	LogLevel        string        `yaml:"log_level,omitempty"`
	CrashWindow     time.Duration `yaml:"crash_window,omitempty"`
	CrashThreshold  int           `yaml:"crash_threshold,omitempty"`
	Cooldown        time.Duration `yaml:"cooldown,omitempty"`
	RestartDelay    time.Duration `yaml:"restart_delay,omitempty"`
	OutputTailLines int           `yaml:"output_tail_lines,omitempty"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`
}

// UnmarshalYAML accepts "5m"-style duration strings, which the YAML
// decoder does not map onto time.Duration by itself.
func (o *SessionOptions) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		CacheDir        string `yaml:"cache_dir"`
		LogLevel        string `yaml:"log_level"`
		CrashWindow     string `yaml:"crash_window"`
		CrashThreshold  int    `yaml:"crash_threshold"`
		Cooldown        string `yaml:"cooldown"`
		RestartDelay    string `yaml:"restart_delay"`
		OutputTailLines int    `yaml:"output_tail_lines"`
		GracefulTimeout string `yaml:"graceful_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	o.CacheDir = raw.CacheDir
	o.LogLevel = raw.LogLevel
	o.CrashThreshold = raw.CrashThreshold
	o.OutputTailLines = raw.OutputTailLines

	for _, field := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"crash_window", raw.CrashWindow, &o.CrashWindow},
		{"cooldown", raw.Cooldown, &o.Cooldown},
		{"restart_delay", raw.RestartDelay, &o.RestartDelay},
		{"graceful_timeout", raw.GracefulTimeout, &o.GracefulTimeout},
	} {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
		*field.dst = d
	}
	return nil
}

// Config is the top-level configuration file structure. The unit order
// is the startup order; the last unit is the primary (shell) unit that
// runs under the supervised-restart loop.
type Config struct {
	Session SessionOptions `yaml:"session"`
	Units   []UnitConfig   `yaml:"units"`
}

const (
	defaultCrashWindow       = 5 * time.Minute
	defaultCrashThreshold    = 5
	defaultCooldown          = 5 * time.Minute
	defaultRestartDelay      = 3 * time.Second
	defaultOutputTailLines   = 40
	defaultGracefulTimeout   = 10 * time.Second
	defaultProbePollInterval = 500 * time.Millisecond
	defaultProbeTimeout      = 30 * time.Second
)

// LoadConfigFromFile loads session configuration from a YAML file and
// applies defaults.
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// ValidateConfigFile loads and validates a configuration file without
// running anything. Used by the --validate CLI mode.
func ValidateConfigFile(filename string) error {
	config, err := LoadConfigFromFile(filename)
	if err != nil {
		return err
	}
	return ValidateConfig(config)
}

func setConfigDefaults(config *Config) {
	session := &config.Session

	if session.CacheDir == "" {
		session.CacheDir = defaultCacheDir()
	}
	if session.LogLevel == "" {
		session.LogLevel = "info"
	}
	if session.CrashWindow == 0 {
		session.CrashWindow = defaultCrashWindow
	}
	if session.CrashThreshold == 0 {
		session.CrashThreshold = defaultCrashThreshold
	}
	if session.Cooldown == 0 {
		session.Cooldown = defaultCooldown
	}
	if session.RestartDelay == 0 {
		session.RestartDelay = defaultRestartDelay
	}
	if session.OutputTailLines == 0 {
		session.OutputTailLines = defaultOutputTailLines
	}
	if session.GracefulTimeout == 0 {
		session.GracefulTimeout = defaultGracefulTimeout
	}

	for i := range config.Units {
		unit := &config.Units[i]
		if unit.RestartPolicy == "" {
			unit.RestartPolicy = RestartNever
		}
		if unit.Readiness != nil {
			if unit.Readiness.PollInterval == 0 {
				unit.Readiness.PollInterval = defaultProbePollInterval
			}
			if unit.Readiness.Timeout == 0 {
				unit.Readiness.Timeout = defaultProbeTimeout
			}
		}
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = filepath.Join(os.TempDir(), "magi")
	}
	return filepath.Join(base, "magi", "sessions")
}

// ValidateConfig validates the entire configuration structure.
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := validateSessionOptions(&config.Session); err != nil {
		return errors.NewValidationError("invalid session options", err)
	}
	if err := validateUnitsConfig(config.Units); err != nil {
		return errors.NewValidationError("invalid units configuration", err)
	}
	return nil
}

func validateSessionOptions(session *SessionOptions) error {
	if session.CrashWindow <= 0 {
		return errors.NewValidationError("crash window must be positive", nil)
	}
	if session.CrashThreshold <= 0 {
		return errors.NewValidationError("crash threshold must be positive", nil)
	}
	if session.Cooldown <= 0 {
		return errors.NewValidationError("cooldown must be positive", nil)
	}
	if session.RestartDelay < 0 {
		return errors.NewValidationError("restart delay cannot be negative", nil)
	}
	if session.OutputTailLines <= 0 {
		return errors.NewValidationError("output tail length must be positive", nil)
	}
	if session.GracefulTimeout <= 0 {
		return errors.NewValidationError("graceful timeout must be positive", nil)
	}

	switch session.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", session.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}
	return nil
}

// validateUnitsConfig checks every unit and reports all problems at
// once, so a config with several bad units needs one fix cycle.
func validateUnitsConfig(units []UnitConfig) error {
	if len(units) == 0 {
		return errors.NewValidationError("at least one unit is required", nil)
	}

	collection := errors.NewErrorCollection()
	seenIDs := make(map[string]int)
	for i, unit := range units {
		if err := ValidateUnitID(unit.ID); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid unit ID at index %d", i),
				err,
			).WithContext("unit_id", unit.ID))
			continue
		}
		if prev, exists := seenIDs[unit.ID]; exists {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("duplicate unit ID %q found at indices %d and %d", unit.ID, prev, i),
				nil,
			))
			continue
		}
		seenIDs[unit.ID] = i

		collection.Add(validateUnitConfig(unit))
	}
	return collection.Err()
}

func validateUnitConfig(unit UnitConfig) error {
	if err := process.ValidateSpawnConfig(process.SpawnConfig{
		Command:          unit.Command,
		WorkingDirectory: unit.WorkingDirectory,
		Environment:      unit.Environment,
	}); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("invalid command for unit %q", unit.ID),
			err,
		).WithContext("unit_id", unit.ID)
	}

	switch unit.RestartPolicy {
	case RestartNever, RestartOnFailure, RestartAlways:
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported restart policy %q for unit %q", unit.RestartPolicy, unit.ID),
			nil,
		).WithContext("supported_policies", "never, on-failure, always")
	}

	if unit.ConflictPort < 0 || unit.ConflictPort > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid conflict port %d for unit %q", unit.ConflictPort, unit.ID),
			nil,
		)
	}

	if unit.Readiness != nil {
		if err := probe.ValidateSpec(*unit.Readiness); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid readiness probe for unit %q", unit.ID),
				err,
			).WithContext("unit_id", unit.ID)
		}
	}
	return nil
}

// ValidateUnitID checks that a unit ID is usable as a log token and a
// file-name fragment.
func ValidateUnitID(id string) error {
	if id == "" {
		return errors.NewValidationError("unit ID cannot be empty", nil)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return errors.NewValidationError(
				fmt.Sprintf("unit ID %q contains unsupported character %q", id, r),
				nil,
			)
		}
	}
	return nil
}

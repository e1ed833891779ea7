package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/magi-os/sessiond/pkg/logging"
	"github.com/magi-os/sessiond/pkg/process"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindHTTPGet        Kind = "http-get"
	KindProcessPresent Kind = "process-present"
)

// Spec describes one readiness probe. It is stateless configuration;
// each AwaitReady call consumes it independently.
type Spec struct {
	Kind         Kind          `yaml:"kind"`
	Target       string        `yaml:"target,omitempty"` // URL for http-get
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// UnmarshalYAML accepts "500ms"-style duration strings, which the YAML
// decoder does not map onto time.Duration by itself.
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Kind         Kind   `yaml:"kind"`
		Target       string `yaml:"target"`
		PollInterval string `yaml:"poll_interval"`
		Timeout      string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Kind = raw.Kind
	s.Target = raw.Target

	var err error
	if s.PollInterval, err = parseOptionalDuration(raw.PollInterval); err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	if s.Timeout, err = parseOptionalDuration(raw.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

type Outcome string

const (
	OutcomeReady     Outcome = "ready"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// AwaitReady polls the probe target until it succeeds, the cumulative
// timeout elapses, or the context is cancelled. A timeout is an
// outcome, not an error; the caller decides severity. For http-get,
// any received response counts as ready: the probed service is trusted
// to answer only once it is minimally functional, so status codes are
// not inspected. For process-present, the spawned process (pid) must
// still be alive at poll time.
func AwaitReady(ctx context.Context, spec Spec, pid int, logger logging.Logger) Outcome {
	if spec.PollInterval <= 0 {
		spec.PollInterval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(spec.Timeout)

	logger.Debugf("Awaiting readiness, kind: %s, target: %s, timeout: %v", spec.Kind, spec.Target, spec.Timeout)

	ticker := time.NewTicker(spec.PollInterval)
	defer ticker.Stop()

	for {
		if checkOnce(spec, pid, logger) {
			logger.Debugf("Readiness confirmed, kind: %s, target: %s", spec.Kind, spec.Target)
			return OutcomeReady
		}
		if time.Now().After(deadline) {
			logger.Debugf("Readiness timed out, kind: %s, target: %s", spec.Kind, spec.Target)
			return OutcomeTimedOut
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return OutcomeCancelled
		}
	}
}

func checkOnce(spec Spec, pid int, logger logging.Logger) bool {
	switch spec.Kind {
	case KindHTTPGet:
		return checkHTTP(spec)
	case KindProcessPresent:
		return process.IsProcessRunning(pid)
	default:
		logger.Errorf("Unknown probe kind: %s", spec.Kind)
		return false
	}
}

func checkHTTP(spec Spec) bool {
	client := &http.Client{
		Timeout: spec.PollInterval,
	}

	resp, err := client.Get(spec.Target)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// Connection accepted and a response arrived; that is the whole
	// contract. The payload is not read.
	return true
}

package probe

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/magi-os/sessiond/pkg/errors"
)

// ValidateSpec checks a probe spec at configuration load time.
func ValidateSpec(spec Spec) error {
	switch spec.Kind {
	case KindHTTPGet:
		if strings.TrimSpace(spec.Target) == "" {
			return errors.NewValidationError("http-get probe requires a target URL", nil)
		}
		parsed, err := url.Parse(spec.Target)
		if err != nil {
			return errors.NewValidationError("http-get probe target is not a valid URL", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return errors.NewValidationError(
				fmt.Sprintf("http-get probe target has unsupported scheme: %q", parsed.Scheme),
				nil,
			)
		}
	case KindProcessPresent:
		if spec.Target != "" {
			return errors.NewValidationError("process-present probe takes no target; it checks the spawned process", nil)
		}
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported probe kind: %q", spec.Kind),
			nil,
		).WithContext("supported_kinds", "http-get, process-present")
	}

	if spec.PollInterval < 0 {
		return errors.NewValidationError("probe poll interval cannot be negative", nil)
	}
	if spec.Timeout < 0 {
		return errors.NewValidationError("probe timeout cannot be negative", nil)
	}
	return nil
}

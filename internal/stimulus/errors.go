package stimulus

import "fmt"

// ConfigurationError reports a stimulus set or design that cannot support
// the requested session. It is fatal: no trial runs.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError with a formatted reason.
func Configf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// NoEligibleFoilError reports that no asset satisfies the fast-mapping
// uniqueness and phase constraints for a subject.
type NoEligibleFoilError struct {
	Subject string
	Phase   int
}

func (e *NoEligibleFoilError) Error() string {
	return fmt.Sprintf("no eligible fast-mapping foil for %s beyond phase %d", e.Subject, e.Phase+1)
}

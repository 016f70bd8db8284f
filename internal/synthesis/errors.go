package synthesis

import (
	"errors"
	"fmt"
)

var (
	ErrServiceNotInitialized = errors.New("synthesis service is not initialized")
	ErrServiceShuttingDown   = errors.New("synthesis service is shutting down")
	ErrDrainTimeout          = errors.New("drain timeout exceeded")

	ErrOutputMissing  = errors.New("engine produced no output file")
	ErrOutputTooSmall = errors.New("engine output is implausibly small")
)

// GenericEngineMessage is what callers see for any EngineFailure.
const GenericEngineMessage = "speech synthesis failed, please try again later"

// ConfigurationError aborts startup.
type ConfigurationError struct {
	Component string
	// Speaker is set when a speaker profile failed verification.
	Speaker string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Speaker != "" {
		return fmt.Sprintf("configuration error (%s): speaker %q: %v", e.Component, e.Speaker, e.Err)
	}
	return fmt.Sprintf("configuration error (%s): %v", e.Component, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// EngineFailure is a per-job server-side failure delivered through the job's
// future. Cause is for logs only.
type EngineFailure struct {
	JobID string
	Kind  Kind
	Cause error
}

func (e *EngineFailure) Error() string {
	return fmt.Sprintf("%s job %s failed: %v", e.Kind, e.JobID, e.Cause)
}

func (e *EngineFailure) Unwrap() error {
	return e.Cause
}

// IsEngineFailure reports whether err carries an *EngineFailure.
func IsEngineFailure(err error) bool {
	var eErr *EngineFailure
	return errors.As(err, &eErr)
}

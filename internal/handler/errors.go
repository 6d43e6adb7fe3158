package handler

import "fmt"

// ConfigurationError marks a handler failure caused by a missing or invalid
// registration or event field. Not retryable: the same event will fail the
// same way.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Configurationf builds a ConfigurationError.
func Configurationf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// TimeoutError marks a multi-step remediation that ran out of its allotted
// wait. The dispatcher retries these in a later round.
type TimeoutError struct {
	Waiting string
}

func (e *TimeoutError) Error() string {
	return "timed out waiting for " + e.Waiting
}

// RemoteServiceError wraps an unexpected failure of an external cloud API
// call. Terminal: distinguished from a timeout so the dispatcher does not
// retry it.
type RemoteServiceError struct {
	Operation string
	Err       error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("remote service error in %s: %v", e.Operation, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// SoftwareError marks a violated internal invariant, e.g. multiple
// resources matching a name expected to be unique.
type SoftwareError struct {
	Invariant string
}

func (e *SoftwareError) Error() string {
	return "software error: " + e.Invariant
}

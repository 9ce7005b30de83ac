package circuit

import (
	"errors"
	"fmt"
)

// InvalidGraphError reports a malformed operator graph: dangling edges,
// arity mismatches, or cycles outside declared recursive regions. The graph
// is rejected at load time and the circuit never starts.
type InvalidGraphError struct {
	Message string
	Cause   error
}

func (e *InvalidGraphError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid graph: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid graph: %s", e.Message)
}

func (e *InvalidGraphError) Unwrap() error { return e.Cause }

// NewInvalidGraphError creates a new InvalidGraphError.
func NewInvalidGraphError(message string, cause error) error {
	return &InvalidGraphError{Message: message, Cause: cause}
}

// IsInvalidGraph reports whether err is an InvalidGraphError.
func IsInvalidGraph(err error) bool {
	var igErr *InvalidGraphError
	return errors.As(err, &igErr)
}

// DivergedComputationError reports a recursive region that failed to reach a
// fixed point within its iteration cap. The step is aborted.
type DivergedComputationError struct {
	Region     string
	Iterations int
}

func (e *DivergedComputationError) Error() string {
	return fmt.Sprintf("recursive region %s diverged: no fixed point after %d iterations",
		e.Region, e.Iterations)
}

// IsDivergedComputation reports whether err is a DivergedComputationError.
func IsDivergedComputation(err error) bool {
	var dcErr *DivergedComputationError
	return errors.As(err, &dcErr)
}

// StepFailedError reports an aborted step. The circuit remains at the state
// of the last successful commit; sinks observe no new output.
type StepFailedError struct {
	Step     uint64
	Operator string
	Cause    error
}

func (e *StepFailedError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("step %d failed in operator %s: %v", e.Step, e.Operator, e.Cause)
	}
	return fmt.Sprintf("step %d failed: %v", e.Step, e.Cause)
}

func (e *StepFailedError) Unwrap() error { return e.Cause }

// IsStepFailed reports whether err is a StepFailedError.
func IsStepFailed(err error) bool {
	var sfErr *StepFailedError
	return errors.As(err, &sfErr)
}

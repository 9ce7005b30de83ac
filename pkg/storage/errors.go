package storage

import (
	"errors"
	"fmt"
)

// IOError reports a durable read or write that kept failing after bounded
// retries. It is fatal for stepping: the circuit stops rather than risk
// silent data loss.
type IOError struct {
	Op    string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage I/O error in %s: %v", e.Op, e.Cause)
}

func (e *IOError) Unwrap() error { return e.Cause }

// NewIOError creates a new IOError.
func NewIOError(op string, cause error) error {
	return &IOError{Op: op, Cause: cause}
}

// IsIOError reports whether err is a storage IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// PartialRecoveryError reports that the WAL tail was corrupt or incomplete
// during recovery and everything from TruncatedAt on was discarded. Data
// after that point was never committed, so the caller may accept the
// recovered state or fail startup.
type PartialRecoveryError struct {
	// TruncatedAt is the step id of the first discarded WAL segment.
	TruncatedAt uint64
	Cause       error
}

func (e *PartialRecoveryError) Error() string {
	return fmt.Sprintf("partial recovery: WAL truncated at step %d: %v", e.TruncatedAt, e.Cause)
}

func (e *PartialRecoveryError) Unwrap() error { return e.Cause }

// IsPartialRecovery reports whether err is a PartialRecoveryError.
func IsPartialRecovery(err error) bool {
	var prErr *PartialRecoveryError
	return errors.As(err, &prErr)
}

// InvalidCheckpointError reports a checkpoint that cannot be used for
// recovery: missing, malformed, or referencing state the circuit does not
// have.
type InvalidCheckpointError struct {
	Message string
}

func (e *InvalidCheckpointError) Error() string {
	return fmt.Sprintf("invalid checkpoint: %s", e.Message)
}

// NewInvalidCheckpointError creates a new InvalidCheckpointError.
func NewInvalidCheckpointError(message string) error {
	return &InvalidCheckpointError{Message: message}
}

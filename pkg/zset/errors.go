package zset

import (
	"errors"
	"fmt"
)

// ZSetError wraps failures of Z-set operations.
type ZSetError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ZSetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ZSetError) Unwrap() error { return e.Cause }

// NewZSetError creates a new ZSetError.
func NewZSetError(message string, cause error) error {
	return &ZSetError{Message: message, Cause: cause}
}

// SchemaMismatchError reports a tuple that violates the schema/type contract
// of its logical table. Such tuples are rejected at the boundary and never
// enter a trace.
type SchemaMismatchError struct {
	Message string
	Cause   error
}

func (e *SchemaMismatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema mismatch: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("schema mismatch: %s", e.Message)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Cause }

// NewSchemaMismatchError creates a new SchemaMismatchError.
func NewSchemaMismatchError(message string, cause error) error {
	return &SchemaMismatchError{Message: message, Cause: cause}
}

// IsSchemaMismatch reports whether err is a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var smErr *SchemaMismatchError
	return errors.As(err, &smErr)
}

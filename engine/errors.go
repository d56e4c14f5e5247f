package engine

import (
	"errors"
	"fmt"
)

// InvalidInputError marks an event that failed validation at the engine
// boundary. Such events are rejected and never admitted into state; they are
// expected under byzantine conditions and must not crash the engine.
type InvalidInputError struct {
	err error
}

// NewInvalidInputErrorf constructs a new InvalidInputError with formatting.
func NewInvalidInputErrorf(msg string, args ...interface{}) error {
	return InvalidInputError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e InvalidInputError) Error() string {
	return e.err.Error()
}

func (e InvalidInputError) Unwrap() error {
	return e.err
}

// IsInvalidInputError returns whether the given error is an InvalidInputError.
func IsInvalidInputError(err error) bool {
	var target InvalidInputError
	return errors.As(err, &target)
}

package vector

import (
	"errors"
	"fmt"
)

// Error kinds returned by the codec, ledger, and stores. Callers compare with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDegenerateVector = errors.New("degenerate vector")
	ErrNotFound         = errors.New("not found")
	ErrCorruptState     = errors.New("corrupt state")
	ErrEncodingFailed   = errors.New("encoding failed")
	ErrIOFailure        = errors.New("io failure")

	// ErrShapeMismatch is an ErrInvalidInput for vectors or batches of the wrong shape.
	ErrShapeMismatch = fmt.Errorf("%w: shape mismatch", ErrInvalidInput)
)

// corruptf wraps a formatted message as ErrCorruptState.
func corruptf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptState, fmt.Sprintf(format, args...))
}

// ioFailure wraps err as ErrIOFailure with the given operation name.
func ioFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIOFailure, op, err)
}

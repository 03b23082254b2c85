package index

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecswitch/metric"
)

var (
	// ErrUnsupportedMetric is returned when an engine has no mapping for a metric.
	ErrUnsupportedMetric = metric.ErrUnsupported

	// ErrMissingCredentials is returned when a networked engine is built without credentials.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotImplemented is returned by operations an engine documents as unsupported.
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrLengthMismatch is returned when vectors and ids differ in length.
	ErrLengthMismatch = errors.New("vectors and ids differ in length")

	// ErrPipelineActive is returned when a second write scope is opened.
	ErrPipelineActive = errors.New("write pipeline already active")

	// ErrClosed is returned when a closed index is used.
	ErrClosed = errors.New("index closed")

	// ErrEngineMismatch is returned when a snapshot was written by another engine.
	ErrEngineMismatch = errors.New("snapshot engine mismatch")

	// ErrInvalidSnapshot is returned when snapshot bytes cannot be decoded.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrItemNotFound reports the id that could not be found.
// It matches ErrNotFound with errors.Is.
type ErrItemNotFound struct {
	ID int64
}

func (e *ErrItemNotFound) Error() string {
	return fmt.Sprintf("item %d not found", e.ID)
}

func (e *ErrItemNotFound) Is(target error) bool { return target == ErrNotFound }

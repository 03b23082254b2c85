package vecswitch

import "github.com/hupe1980/vecswitch/index"

// Error kinds shared by every engine. Match them with errors.Is.
var (
	ErrUnsupportedMetric  = index.ErrUnsupportedMetric
	ErrMissingCredentials = index.ErrMissingCredentials
	ErrNotFound           = index.ErrNotFound
	ErrNotImplemented     = index.ErrNotImplemented
	ErrInvalidK           = index.ErrInvalidK
	ErrLengthMismatch     = index.ErrLengthMismatch
	ErrPipelineActive     = index.ErrPipelineActive
	ErrClosed             = index.ErrClosed
)

// ErrDimensionMismatch reports a vector whose length differs from the index dimension.
type ErrDimensionMismatch = index.ErrDimensionMismatch

// ErrItemNotFound reports a missing id. It matches ErrNotFound.
type ErrItemNotFound = index.ErrItemNotFound

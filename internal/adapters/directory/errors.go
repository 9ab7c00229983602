package directory

import "errors"

// Sentinel kinds for directory errors.
var (
	ErrNotFound          = errors.New("student not found")
	ErrInvalidURN        = errors.New("student urn is empty")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

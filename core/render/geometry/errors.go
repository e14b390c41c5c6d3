package geometry

import "errors"

// --- Error Definitions ---

var (
	ErrPageOutOfBounds = errors.New("page index out of bounds")
	ErrInvalidPageSize = errors.New("page dimensions must be positive")
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")
)

package cachekey

import "errors"

// --- Error Definitions ---

var (
	// ErrInvalidRotation is returned for rotations that do not normalize to
	// one of the four quadrants. Local input error, never user-visible.
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")
	// ErrPageUnencodable is returned for page indices outside the key's
	// 20-bit page field.
	ErrPageUnencodable = errors.New("page index does not fit cache key encoding")
)

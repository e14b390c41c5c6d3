package bitmapcache

import "errors"

// --- Error Definitions ---

var (
	// ErrInvalidBitmap is returned when Put is handed a nil or zero-size
	// bitmap. The put is a no-op. Local input error, logged, never
	// user-visible.
	ErrInvalidBitmap = errors.New("bitmap is nil or has zero size")
	// ErrBitmapTooLarge is returned when a single bitmap exceeds the whole
	// memory budget and can never be admitted.
	ErrBitmapTooLarge = errors.New("bitmap exceeds cache memory budget")
)

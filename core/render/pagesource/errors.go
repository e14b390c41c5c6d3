package pagesource

import "errors"

// --- Error Definitions ---

var (
	// ErrRenderTimeout marks a render that exceeded its per-request deadline.
	// Treated as retryable by the pipeline.
	ErrRenderTimeout = errors.New("page render timed out")
	// ErrRenderTransient marks a temporary renderer failure (resource
	// exhaustion, contention). Retried with backoff.
	ErrRenderTransient = errors.New("transient render failure")
	// ErrRenderPermanent marks a failure that retrying cannot fix (corrupt
	// page content, unsupported features). Surfaced to the UI as a per-page
	// failure placeholder.
	ErrRenderPermanent = errors.New("permanent render failure")
	// ErrPageOutOfRange is returned for page indices outside [0, PageCount).
	ErrPageOutOfRange = errors.New("page index out of range")
)

// IsRetryable reports whether the pipeline should retry the render.
// Anything not explicitly permanent is assumed transient; a renderer that
// fails in an unknown way gets its retry budget before the page is marked
// failed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRenderPermanent) || errors.Is(err, ErrPageOutOfRange) {
		return false
	}
	return true
}

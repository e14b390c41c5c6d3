// Package pagesource defines the boundary between the viewer core and its
// external collaborators: the PDF rendering library and the document model.
// The core never talks to a PDF library directly; it only sees these
// interfaces and the Bitmap values they produce.
package pagesource

import "context"

// Bitmap is one rendered page image. Pixels are 32-bit RGBA, row-major.
// The core treats the pixel data as opaque; only the dimensions matter for
// memory accounting.
type Bitmap struct {
	Width  int
	Height int
	Pix    []byte
	// Render parameters the bitmap was produced with, carried along so a
	// consumer can verify it matches the current view state.
	DPIx     float64
	DPIy     float64
	Rotation int
}

const bytesPerPixel = 4

// SizeBytes reports the resident memory of the bitmap. Computed from the
// dimensions, never from caller-supplied numbers.
func (b *Bitmap) SizeBytes() int64 {
	if b == nil {
		return 0
	}
	return int64(b.Width) * int64(b.Height) * bytesPerPixel
}

// Valid reports whether the bitmap can be displayed and cached.
func (b *Bitmap) Valid() bool {
	return b != nil && b.Width > 0 && b.Height > 0
}

// PageRenderer produces a bitmap for one page at the requested resolution.
// Implementations may be slow (tens to hundreds of milliseconds) and must be
// safe to call from worker goroutines. They must never be called from the
// goroutine servicing user input; the render pipeline guarantees that.
type PageRenderer interface {
	RenderPageToBitmap(ctx context.Context, pageIndex int, dpiX, dpiY float64, rotationDegrees int) (*Bitmap, error)
}

// DocumentSource exposes the document model the viewer core needs: how many
// pages exist and their native (unscaled, unrotated) sizes in points.
type DocumentSource interface {
	PageCount() int
	NativePageSize(pageIndex int) (width, height float64)
}

// RenderFunc adapts a plain function to the PageRenderer interface.
type RenderFunc func(ctx context.Context, pageIndex int, dpiX, dpiY float64, rotationDegrees int) (*Bitmap, error)

// RenderPageToBitmap implements PageRenderer.
func (f RenderFunc) RenderPageToBitmap(ctx context.Context, pageIndex int, dpiX, dpiY float64, rotationDegrees int) (*Bitmap, error) {
	return f(ctx, pageIndex, dpiX, dpiY, rotationDegrees)
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"github.com/cockroachdb/errors"
)

// ErrCannotPresent is returned when the GPU cannot
// present to the given window at all.
var ErrCannotPresent = errors.New("driver: cannot present")

// ErrWindow reports an invalid or unusable Window, such as
// a zero handle or an empty extent.
var ErrWindow = errors.New("driver: bad window")

// ErrSwapchain reports a swapchain that no longer matches
// its surface. Recreate makes it usable again.
var ErrSwapchain = errors.New("driver: swapchain out of date")

// ErrNoBackbuffer is returned by Next while the image it
// acquired last was not presented yet.
var ErrNoBackbuffer = errors.New("driver: image already acquired")

// Window identifies a native window.
// Display is the platform's display connection (e.g., a
// wl_display or an X11 Display), or zero where the platform
// has none. Handle is the native window handle. Width and
// Height give the backbuffer extent in pixels.
type Window struct {
	Display uintptr
	Handle  uintptr
	Width   int
	Height  int
}

// Presenter is implemented by GPUs that can present.
type Presenter interface {
	// NewSwapchain creates a swapchain for win, which
	// must not have another swapchain.
	NewSwapchain(win Window, imageCount int) (Swapchain, error)
}

// Swapchain is a ring of presentable images.
// A frame acquires an index with Next, renders to the
// image after moving it out of LUndefined, moves it to
// LPresent, submits, and hands the index to Present.
type Swapchain interface {
	Destroyer

	// Len returns the number of images in the swapchain.
	Len() int

	// Image returns the image identified by index.
	// The returned Image must not be destroyed.
	// Implementations may return a different Image
	// after each call to Next, in which case its
	// contents are undefined.
	Image(index int) Image

	// Next acquires an image and returns its index. signal, if not nil, is signaled when
	// the image is ready for use.
	// The caller must not assume any particular
	// order of indices.
	Next(signal Semaphore) (int, error)

	// Present presents the image identified by index.
	// wait, if not nil, is waited on before the image
	// is presented.
	Present(index int, wait Semaphore) error

	// Recreate recreates the swapchain with a new
	// extent.
	// Call it after a window resize or an
	// ErrSwapchain error.
	Recreate(width, height int) error

	Format() PixelFmt

	// Usage always includes URenderTarget.
	Usage() Usage
}

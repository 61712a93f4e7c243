// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

// ErrClosed means that the Device was closed.
var ErrClosed = errors.New("rhi: device closed")

// ErrNoSwapchain means that a swapchain operation was
// requested before InitSwapchain succeeded.
var ErrNoSwapchain = errors.New("rhi: no swapchain")

// assertf panics with an assertion failure.
// It is used for programmer errors, such as a description
// that does not match the resource it refers to.
// errors.IsAssertionFailure reports true for the value
// recovered from such panics.
func assertf(format string, args ...any) {
	panic(errors.AssertionFailedf(format, args...))
}

var errFatalMarks = []error{driver.ErrFatal, driver.ErrNoDeviceMemory, driver.ErrNoHostMemory}

// IsFatal reports whether err is a native failure that
// the device cannot recover from.
func IsFatal(err error) bool {
	return errors.IsAny(err, errFatalMarks...)
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package driver is the backend layer of rhi.
// It declares the objects that a graphics API backend
// provides, at a level close to Vulkan and D3D12, and
// keeps the registry from which backends are selected.
package driver

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
)

// Driver is a registered backend.
// Open and Close must not be called concurrently.
type Driver interface {
	// Open opens the backend's device. Once it succeeds,
	// later calls return the same GPU until Close.
	Open() (GPU, error)

	// Name is valid before Open.
	Name() string

	// Close releases the device. It is a no-op on a
	// driver that was not opened.
	Close()
}

// ErrNotInstalled is returned by Open when the system
// lacks the API that the backend is built on.
var ErrNotInstalled = errors.New("driver: API not installed")

// ErrNoDevice is returned by Open when the API has no
// usable adapter.
var ErrNoDevice = errors.New("driver: no usable device")

// ErrNoHostMemory reports a failed system memory
// allocation or mapping.
var ErrNoHostMemory = errors.New("driver: host allocation failed")

// ErrNoDeviceMemory reports a failed GPU memory
// allocation.
var ErrNoDeviceMemory = errors.New("driver: device allocation failed")

// ErrUnsupported means that the device cannot create a
// resource with the requested format/usage combination.
var ErrUnsupported = errors.New("driver: unsupported format or usage")

// ErrTimeout means that a wait operation did not complete
// within the given duration.
var ErrTimeout = errors.New("driver: timeout")

// ErrFatal reports a lost device. Every object created
// from the GPU must be destroyed and the driver closed.
// Opening the driver again yields a fresh GPU.
var ErrFatal = errors.New("driver: device lost")

// Drivers are kept in priority order: native APIs first,
// then CPU implementations.
var drivers = gpucontext.NewRegistry[Driver](
	gpucontext.WithPriority("vulkan", "dx12", "metal", "gles", "software", "noop"),
)

// Drivers returns the registered Drivers, sorted by name.
// Only backend packages that are linked in appear here.
func Drivers() []Driver {
	names := drivers.Available()
	slices.Sort(names)
	drv := make([]Driver, 0, len(names))
	for _, name := range names {
		if d := drivers.Get(name); d != nil {
			drv = append(drv, d)
		}
	}
	return drv
}

// Best returns the registered Driver with highest priority,
// or nil if no driver is registered.
func Best() Driver { return drivers.Best() }

// Register adds drv to the registry, usually from the
// init function of a backend package. A driver that was
// registered under the same name is replaced.
func Register(drv Driver) {
	name := drv.Name()
	if drivers.Has(name) {
		Logger().Warn("driver replaced", "name", name)
	} else {
		Logger().Debug("driver registered", "name", name)
	}
	drivers.Register(name, func() Driver { return drv })
}

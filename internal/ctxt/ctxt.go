// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package ctxt selects and opens the GPU driver.
package ctxt

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

// EnvDriver is the environment variable that overrides
// driver selection when no name is given explicitly.
const EnvDriver = "RHI_DRIVER"

var errNoDriver = errors.New("ctxt: driver not found")

// preferred lists the names tried, in order, before
// falling back to every registered driver.
// It is set by platform-specific init code.
var preferred []string

// loadDriver attempts to load any driver whose name
// contains the name string. It is case insensitive.
// If name is the empty string, then all registered
// drivers are considered.
func loadDriver(name string) (driver.Driver, driver.GPU, error) {
	drivers := driver.Drivers()
	err := errNoDriver
	name = strings.ToLower(name)
	for i := range drivers {
		if !strings.Contains(strings.ToLower(drivers[i].Name()), name) {
			continue
		}
		var gpu driver.GPU
		if gpu, err = drivers[i].Open(); err != nil {
			driver.Logger().Debug("ctxt: driver failed to open", "driver", drivers[i].Name(), "err", err)
			continue
		}
		return drivers[i], gpu, nil
	}
	if name != "" {
		return nil, nil, errors.Wrapf(err, "ctxt: loading %q", name)
	}
	return nil, nil, err
}

// Open opens a driver.
// If name is empty, the RHI_DRIVER environment variable
// is used instead. If that is also empty, the preferred
// drivers of the platform are tried first and then any
// registered driver.
func Open(name string) (driver.Driver, driver.GPU, error) {
	if name == "" {
		name = os.Getenv(EnvDriver)
	}
	if name != "" {
		return loadDriver(name)
	}
	for _, p := range preferred {
		if drv, gpu, err := loadDriver(p); err == nil {
			return drv, gpu, nil
		}
	}
	// Try all drivers.
	return loadDriver("")
}

// IsNoDriver reports whether err means that no driver
// could be opened.
func IsNoDriver(err error) bool {
	return errors.Is(err, errNoDriver) || errors.Is(err, driver.ErrNotInstalled) || errors.Is(err, driver.ErrNoDevice)
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package wgpu implements the driver interfaces on top of
// the wgpu hardware abstraction layer.
// One Driver is registered for each hal backend variant.
// A variant can only be opened if its hal backend package
// (e.g., github.com/gogpu/wgpu/hal/vulkan) is linked in.
package wgpu

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

func init() {
	for _, v := range [...]struct {
		variant gputypes.Backend
		name    string
	}{
		{gputypes.BackendVulkan, "vulkan"},
		{gputypes.BackendDX12, "dx12"},
		{gputypes.BackendMetal, "metal"},
		{gputypes.BackendGL, "gles"},
		{gputypes.BackendEmpty, "noop"},
	} {
		driver.Register(&Driver{variant: v.variant, name: v.name})
	}
}

// Driver implements driver.Driver.
type Driver struct {
	variant gputypes.Backend
	name    string

	mu  sync.Mutex
	gpu *GPU
}

// Open initializes the hal backend and opens the most
// capable adapter that it exposes.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu != nil {
		return d.gpu, nil
	}
	backend, ok := hal.GetBackend(d.variant)
	if !ok {
		return nil, errors.Wrapf(driver.ErrNotInstalled, "wgpu: %s backend not linked", d.name)
	}
	inst, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "wgpu: %s instance", d.name), driver.ErrNotInstalled)
	}
	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		inst.Destroy()
		return nil, driver.ErrNoDevice
	}
	best := 0
	for i := 1; i < len(adapters); i++ {
		if rank(adapters[i].Info.DeviceType) > rank(adapters[best].Info.DeviceType) {
			best = i
		}
	}
	exp := adapters[best]
	for i := range adapters {
		if i != best {
			adapters[i].Adapter.Destroy()
		}
	}
	od, err := exp.Adapter.Open(0, exp.Capabilities.Limits)
	if err != nil {
		exp.Adapter.Destroy()
		inst.Destroy()
		return nil, errors.Mark(errors.Wrapf(convErr(err), "wgpu: %s device", d.name), driver.ErrNoDevice)
	}
	d.gpu = newGPU(d, inst, &exp, od)
	driver.Logger().Info("wgpu: device opened",
		"driver", d.name,
		"adapter", exp.Info.Name,
		"type", exp.Info.DeviceType.String())
	return d.gpu, nil
}

// rank orders device types by preference.
func rank(t gputypes.DeviceType) int {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return 4
	case gputypes.DeviceTypeIntegratedGPU:
		return 3
	case gputypes.DeviceTypeVirtualGPU:
		return 2
	case gputypes.DeviceTypeCPU:
		return 1
	}
	return 0
}

// Name returns the name of the hal backend variant.
func (d *Driver) Name() string { return d.name }

// Close deinitializes the driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu == nil {
		return
	}
	d.gpu.destroy()
	d.gpu = nil
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

const bufPrefix = "rhi: buffer: "

// BufferUsage is a mask of buffer usages.
type BufferUsage int

// Buffer usages.
const (
	BufferVertex BufferUsage = 1 << iota
	BufferIndex
	BufferUniform
	BufferStorage
	BufferTransferSrc
	BufferTransferDst
)

func (u BufferUsage) driverUsage() (usg driver.Usage) {
	if u&BufferVertex != 0 {
		usg |= driver.UVertexData
	}
	if u&BufferIndex != 0 {
		usg |= driver.UIndexData
	}
	if u&BufferUniform != 0 {
		usg |= driver.UShaderConst
	}
	if u&BufferStorage != 0 {
		usg |= driver.UShaderRead | driver.UShaderWrite
	}
	if u&BufferTransferSrc != 0 {
		usg |= driver.UCopySrc
	}
	if u&BufferTransferDst != 0 {
		usg |= driver.UCopyDst
	}
	return
}

// MemoryType is the locality of resource memory.
type MemoryType int

// Memory types.
const (
	// Memory that the CPU cannot access.
	DeviceLocal MemoryType = iota
	// Write-combined memory for uploads.
	HostVisible
	// Cached memory for readbacks.
	HostCached
)

func (m MemoryType) visible() bool { return m == HostVisible || m == HostCached }

func (m MemoryType) String() string {
	switch m {
	case DeviceLocal:
		return "device-local"
	case HostVisible:
		return "host-visible"
	case HostCached:
		return "host-cached"
	}
	return "invalid"
}

// BufferDesc describes a Buffer.
type BufferDesc struct {
	Name   string
	Size   int64
	Usage  BufferUsage
	Memory MemoryType
}

// Buffer is a ref-counted GPU buffer.
type Buffer struct {
	ref
	buf  driver.Buffer
	desc BufferDesc
}

// CreateBuffer creates a new Buffer.
// desc.Size must be greater than zero.
func (d *Device) CreateBuffer(desc *BufferDesc) (*Buffer, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if desc.Size <= 0 {
		assertf(bufPrefix+"%q has invalid size %d", desc.Name, desc.Size)
	}
	if desc.Usage == 0 {
		assertf(bufPrefix+"%q has no usage", desc.Name)
	}
	if lim := d.limits.MaxBufferSize; lim > 0 && desc.Size > lim {
		return nil, errors.Mark(errors.Newf(bufPrefix+"%q size %d exceeds limit %d", desc.Name, desc.Size, lim), driver.ErrUnsupported)
	}
	buf, err := d.gpu.NewBuffer(desc.Size, desc.Memory.visible(), desc.Usage.driverUsage())
	if err != nil {
		return nil, errors.Wrapf(err, bufPrefix+"creating %q", desc.Name)
	}
	b := &Buffer{buf: buf, desc: *desc}
	d.track(b, kBuffer, desc.Name)
	return b, nil
}

func (b *Buffer) destroy() {
	b.buf.Destroy()
	b.buf = nil
}

// Desc returns the description used to create b.
func (b *Buffer) Desc() BufferDesc { return b.desc }

// Size returns the size requested at creation.
func (b *Buffer) Size() int64 { return b.desc.Size }

// Bytes returns the host-visible memory of b, or nil if
// b is device-local.
// Writing to it while the GPU reads the buffer is the
// caller's responsibility.
func (b *Buffer) Bytes() []byte {
	if !b.desc.Memory.visible() {
		return nil
	}
	return b.buf.Bytes()[:b.desc.Size]
}

// checkRange panics if [off, off+size) is not within b.
func (b *Buffer) checkRange(off, size int64) {
	if off < 0 || size < 0 || off+size > b.desc.Size {
		assertf(bufPrefix+"range [%d, %d) out of bounds of %q (size %d)", off, off+size, b.desc.Name, b.desc.Size)
	}
}

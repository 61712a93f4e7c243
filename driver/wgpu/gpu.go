// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// GPU implements driver.GPU.
// hal exposes a single queue, so every driver.Queue
// submits to it.
type GPU struct {
	drv     *Driver
	inst    hal.Instance
	adapter hal.Adapter
	info    gputypes.AdapterInfo
	caps    hal.Capabilities
	dev     hal.Device
	hq      hal.Queue

	// submitMu serializes submissions to hq, across
	// every Queue.
	submitMu sync.Mutex
	queues   [driver.NQueueType]*Queue

	fmtMu   sync.Mutex
	fmtCaps map[driver.PixelFmt]driver.Usage
}

func newGPU(drv *Driver, inst hal.Instance, exp *hal.ExposedAdapter, od hal.OpenDevice) *GPU {
	g := &GPU{
		drv:     drv,
		inst:    inst,
		adapter: exp.Adapter,
		info:    exp.Info,
		caps:    exp.Capabilities,
		dev:     od.Device,
		hq:      od.Queue,
		fmtCaps: make(map[driver.PixelFmt]driver.Usage),
	}
	for i := range g.queues {
		g.queues[i] = &Queue{gpu: g, typ: driver.QueueType(i)}
	}
	return g
}

func (g *GPU) destroy() {
	if err := g.dev.WaitIdle(); err != nil {
		driver.Logger().Warn("wgpu: WaitIdle failed during close", "err", err)
	}
	g.dev.Destroy()
	g.adapter.Destroy()
	g.inst.Destroy()
}

// Driver implements driver.GPU.
func (g *GPU) Driver() driver.Driver { return g.drv }

// Queue implements driver.GPU.
func (g *GPU) Queue(typ driver.QueueType) driver.Queue { return g.queues[typ] }

// NewCmdBuffer implements driver.GPU.
func (g *GPU) NewCmdBuffer(typ driver.QueueType) (driver.CmdBuffer, error) {
	enc, err := g.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: typ.String()})
	if err != nil {
		return nil, convErr(err)
	}
	return &CmdBuffer{gpu: g, typ: typ, enc: enc}, nil
}

// NewSemaphore implements driver.GPU.
func (g *GPU) NewSemaphore() (driver.Semaphore, error) { return &Semaphore{}, nil }

// NewShaderCode implements driver.GPU.
func (g *GPU) NewShaderCode(spirv []uint32) (driver.ShaderCode, error) {
	if len(spirv) == 0 {
		return nil, errors.New("wgpu: empty shader code")
	}
	mod, err := g.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, convErr(err)
	}
	return &ShaderCode{gpu: g, mod: mod}, nil
}

// NewBuffer implements driver.GPU.
// Host-visible buffers are mapped for their whole lifetime.
func (g *GPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if size <= 0 {
		return nil, errors.Newf("wgpu: invalid buffer size %d", size)
	}
	// Buffer copies require 4-byte aligned sizes.
	size = (size + driver.CopyAlign - 1) &^ (driver.CopyAlign - 1)
	buf, err := g.dev.CreateBuffer(&hal.BufferDescriptor{
		Size:  uint64(size),
		Usage: convBufferUsage(usg, visible),
	})
	if err != nil {
		return nil, convErr(err)
	}
	b := &Buffer{gpu: g, buf: buf, size: size, visible: visible}
	if visible {
		m, err := g.dev.MapBuffer(buf, 0, uint64(size))
		if err != nil {
			g.dev.DestroyBuffer(buf)
			return nil, errors.Mark(errors.Wrap(err, "wgpu: mapping host-visible buffer"), driver.ErrNoHostMemory)
		}
		b.data = unsafeBytes(m.Ptr, size)
	}
	return b, nil
}

// NewImage implements driver.GPU.
func (g *GPU) NewImage(dim driver.ImageDim, pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	if g.FormatSupport(pf)&usg != usg {
		return nil, errors.Wrapf(driver.ErrUnsupported, "wgpu: format %v with usage %#x", pf, usg)
	}
	depth := max(size.Depth, 1)
	if dim != driver.Img3D {
		depth = max(layers, 1)
	}
	tex, err := g.dev.CreateTexture(&hal.TextureDescriptor{
		Size: hal.Extent3D{
			Width:              uint32(size.Width),
			Height:             uint32(max(size.Height, 1)),
			DepthOrArrayLayers: uint32(depth),
		},
		MipLevelCount: uint32(max(levels, 1)),
		SampleCount:   uint32(max(samples, 1)),
		Dimension:     convDimension(dim),
		Format:        convPixelFmt(pf),
		Usage:         convTextureUsage(usg),
	})
	if err != nil {
		return nil, convErr(err)
	}
	return &Image{gpu: g, tex: tex, pf: pf, layers: layers, levels: levels}, nil
}

// NewSampler implements driver.GPU.
func (g *GPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	desc := hal.SamplerDescriptor{
		AddressModeU: convAddrMode(spln.AddrU),
		AddressModeV: convAddrMode(spln.AddrV),
		AddressModeW: convAddrMode(spln.AddrW),
		MagFilter:    convFilter(spln.Mag),
		MinFilter:    convFilter(spln.Min),
		MipmapFilter: convFilter(spln.Mipmap),
		LodMinClamp:  spln.MinLOD,
		LodMaxClamp:  spln.MaxLOD,
		Anisotropy:   uint16(max(spln.MaxAniso, 1)),
	}
	if spln.Mipmap == driver.FNoMipmap {
		desc.MipmapFilter = gputypes.FilterModeNearest
		desc.LodMaxClamp = 0.25
	}
	if spln.Compare {
		desc.Compare = convCmpFunc(spln.Cmp)
	}
	splr, err := g.dev.CreateSampler(&desc)
	if err != nil {
		return nil, convErr(err)
	}
	return &Sampler{gpu: g, splr: splr}, nil
}

// FormatSupport implements driver.GPU.
func (g *GPU) FormatSupport(pf driver.PixelFmt) driver.Usage {
	if !pf.IsValid() {
		return 0
	}
	g.fmtMu.Lock()
	defer g.fmtMu.Unlock()
	if u, ok := g.fmtCaps[pf]; ok {
		return u
	}
	u := convFormatCaps(g.adapter.TextureFormatCapabilities(convPixelFmt(pf)), pf.IsDS())
	g.fmtCaps[pf] = u
	return u
}

// WaitIdle implements driver.GPU.
func (g *GPU) WaitIdle() error {
	g.submitMu.Lock()
	defer g.submitMu.Unlock()
	return convErr(g.dev.WaitIdle())
}

// Limits implements driver.GPU.
func (g *GPU) Limits() driver.Limits {
	l := &g.caps.Limits
	dispatch := int(l.MaxComputeWorkgroupsPerDimension)
	return driver.Limits{
		MaxImage1D:        int(l.MaxTextureDimension1D),
		MaxImage2D:        int(l.MaxTextureDimension2D),
		MaxImageCube:      int(l.MaxTextureDimension2D),
		MaxImage3D:        int(l.MaxTextureDimension3D),
		MaxLayers:         int(l.MaxTextureArrayLayers),
		MaxDescSets:       int(l.MaxBindGroups),
		MaxDBufferRange:   int64(l.MaxStorageBufferBindingSize),
		MaxDConstantRange: int64(l.MaxUniformBufferBindingSize),
		MinConstantAlign:  int64(l.MinUniformBufferOffsetAlignment),
		MaxColorTargets:   int(l.MaxColorAttachments),
		MaxVertexIn:       int(l.MaxVertexAttributes),
		MaxDispatch:       [3]int{dispatch, dispatch, dispatch},
		MaxBufferSize:     int64(l.MaxBufferSize),
	}
}

// Info implements driver.GPU.
func (g *GPU) Info() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: g.info.Name, Type: convDeviceType(g.info.DeviceType)}
}

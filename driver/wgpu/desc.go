// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// DescLayout implements driver.DescLayout.
// hal has no binding arrays, so a descriptor of length n
// expands into n consecutive bindings.
type DescLayout struct {
	gpu    *GPU
	layout hal.BindGroupLayout
	desc   []driver.Descriptor
}

// NewDescLayout implements driver.GPU.
func (g *GPU) NewDescLayout(ds []driver.Descriptor) (driver.DescLayout, error) {
	var entries []gputypes.BindGroupLayoutEntry
	for _, d := range ds {
		if d.Len < 1 {
			return nil, errors.Newf("wgpu: descriptor %d has invalid length %d", d.Nr, d.Len)
		}
		e := gputypes.BindGroupLayoutEntry{Visibility: convStages(d.Stages)}
		switch d.Type {
		case driver.DBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		case driver.DConstant:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case driver.DImage:
			e.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadWrite,
				Format:        convPixelFmt(d.Format),
				ViewDimension: convViewType(d.ViewType),
			}
		case driver.DTexture:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    sampleType(d.Format),
				ViewDimension: convViewType(d.ViewType),
				Multisampled:  d.ViewType == driver.IView2DMS || d.ViewType == driver.IView2DMSArray,
			}
		case driver.DSampler:
			e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		default:
			return nil, errors.AssertionFailedf("wgpu: unknown descriptor type %d", d.Type)
		}
		for i := range d.Len {
			e.Binding = uint32(d.Nr + i)
			entries = append(entries, e)
		}
	}
	layout, err := g.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Entries: entries})
	if err != nil {
		return nil, convErr(err)
	}
	return &DescLayout{gpu: g, layout: layout, desc: append([]driver.Descriptor(nil), ds...)}, nil
}

func sampleType(pf driver.PixelFmt) gputypes.TextureSampleType {
	switch {
	case pf.IsDS():
		return gputypes.TextureSampleTypeDepth
	case pf.IsInteger():
		return gputypes.TextureSampleTypeUint
	case pf == driver.RGBA32f || pf == driver.RG32f || pf == driver.R32f:
		return gputypes.TextureSampleTypeUnfilterableFloat
	}
	return gputypes.TextureSampleTypeFloat
}

// Destroy implements driver.Destroyer.
func (l *DescLayout) Destroy() {
	if l.layout != nil {
		l.gpu.dev.DestroyBindGroupLayout(l.layout)
	}
	*l = DescLayout{}
}

// DescSet implements driver.DescSet.
type DescSet struct {
	gpu *GPU
	grp hal.BindGroup
}

// NewDescSet implements driver.GPU.
func (g *GPU) NewDescSet(layout driver.DescLayout, res []driver.DescRes) (driver.DescSet, error) {
	l := layout.(*DescLayout)
	if len(res) != len(l.desc) {
		return nil, errors.AssertionFailedf("wgpu: %d resources given for %d descriptors", len(res), len(l.desc))
	}
	var entries []gputypes.BindGroupEntry
	for i, d := range l.desc {
		r := &res[i]
		for j := range d.Len {
			var br gputypes.BindingResource
			switch d.Type {
			case driver.DBuffer, driver.DConstant:
				br = gputypes.BufferBinding{
					Buffer: r.Buf[j].(*Buffer).buf.NativeHandle(),
					Offset: uint64(r.Off[j]),
					Size:   uint64(r.Size[j]),
				}
			case driver.DImage, driver.DTexture:
				br = gputypes.TextureViewBinding{TextureView: r.View[j].(*ImageView).view.NativeHandle()}
			case driver.DSampler:
				br = gputypes.SamplerBinding{Sampler: r.Splr[j].(*Sampler).splr.NativeHandle()}
			}
			entries = append(entries, gputypes.BindGroupEntry{Binding: uint32(d.Nr + j), Resource: br})
		}
	}
	grp, err := g.dev.CreateBindGroup(&hal.BindGroupDescriptor{Layout: l.layout, Entries: entries})
	if err != nil {
		return nil, convErr(err)
	}
	return &DescSet{gpu: g, grp: grp}, nil
}

// Destroy implements driver.Destroyer.
func (s *DescSet) Destroy() {
	if s.grp != nil {
		s.gpu.dev.DestroyBindGroup(s.grp)
	}
	*s = DescSet{}
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

const rtPrefix = "rhi: render target: "

// Attachment is a texture subresource range used as a
// render target. Zero Layers means one.
type Attachment struct {
	Texture *Texture
	Mip     int
	Layer   int
	Layers  int
}

func (a *Attachment) subresources() Subresources {
	return Subresources{BaseLevel: a.Mip, Levels: 1, BaseLayer: a.Layer, Layers: a.Layers}
}

// RenderTargetDesc describes a RenderTarget.
type RenderTargetDesc struct {
	Name         string
	Color        []Attachment
	DepthStencil Attachment
}

// TargetSignature identifies the attachment formats
// and sample count of a RenderTarget.
// Graphics pipelines are created for a signature and
// can be used with any target that has it.
type TargetSignature struct {
	Color   [MaxColorAttachments]PixelFmt
	NColor  int
	DS      PixelFmt
	Samples int
}

func (s *TargetSignature) colorFmts() []PixelFmt { return s.Color[:s.NColor] }

// RenderTarget is a ref-counted set of attachments.
type RenderTarget struct {
	ref
	color  []Attachment
	ds     Attachment
	views  []driver.ImageView
	dsView driver.ImageView
	width  int
	height int
	sig    TargetSignature
}

// CreateRenderTarget creates a new RenderTarget.
// Every attachment must have the render target usage
// and share the same extent at its mip level.
func (d *Device) CreateRenderTarget(desc *RenderTargetDesc) (*RenderTarget, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	n := len(desc.Color)
	switch {
	case n > MaxColorAttachments || (d.limits.MaxColorTargets > 0 && n > d.limits.MaxColorTargets):
		assertf(rtPrefix+"%q has %d color attachments", desc.Name, n)
	case n == 0 && desc.DepthStencil.Texture == nil:
		assertf(rtPrefix+"%q has no attachments", desc.Name)
	}
	rt := &RenderTarget{
		color: make([]Attachment, n),
		views: make([]driver.ImageView, n),
		width: -1,
	}
	rt.sig.NColor = n
	rt.sig.DS = driver.FNone
	for i := range desc.Color {
		a := desc.Color[i]
		if a.Texture == nil {
			assertf(rtPrefix+"%q: color attachment %d has no texture", desc.Name, i)
		}
		if !a.Texture.Format().IsColor() {
			assertf(rtPrefix+"%q: color attachment %d has format %v", desc.Name, i, a.Texture.Format())
		}
		v, err := rt.attach(&a, desc.Name)
		if err != nil {
			return nil, err
		}
		rt.color[i] = a
		rt.views[i] = v
		rt.sig.Color[i] = a.Texture.Format()
	}
	if a := desc.DepthStencil; a.Texture != nil {
		if !a.Texture.Format().IsDS() {
			assertf(rtPrefix+"%q: depth/stencil attachment has format %v", desc.Name, a.Texture.Format())
		}
		v, err := rt.attach(&a, desc.Name)
		if err != nil {
			return nil, err
		}
		rt.ds = a
		rt.dsView = v
		rt.sig.DS = a.Texture.Format()
	}
	for i := range rt.color {
		rt.color[i].Texture.Retain()
	}
	if rt.ds.Texture != nil {
		rt.ds.Texture.Retain()
	}
	d.track(rt, kRenderTarget, desc.Name)
	return rt, nil
}

// attach validates a and returns its view.
// a.Layers is normalized.
func (rt *RenderTarget) attach(a *Attachment, name string) (driver.ImageView, error) {
	t := a.Texture
	if t.desc.Usage&TextureRenderTarget == 0 {
		assertf(rtPrefix+"%q: texture %q lacks render target usage", name, t.desc.Name)
	}
	a.Layers = max(a.Layers, 1)
	sub := t.resolve(a.subresources())
	ext := t.Extent(a.Mip)
	switch {
	case rt.width < 0:
		rt.width, rt.height = ext.Width, ext.Height
		rt.sig.Samples = t.desc.Samples
	case rt.width != ext.Width || rt.height != ext.Height:
		assertf(rtPrefix+"%q: attachment %q extent %dx%d differs from %dx%d", name, t.desc.Name, ext.Width, ext.Height, rt.width, rt.height)
	case rt.sig.Samples != t.desc.Samples:
		assertf(rtPrefix+"%q: attachment %q has %d samples, want %d", name, t.desc.Name, t.desc.Samples, rt.sig.Samples)
	}
	typ := driver.IView2D
	switch {
	case sub.Layers > 1 && t.desc.Samples > 1:
		typ = driver.IView2DMSArray
	case sub.Layers > 1:
		typ = driver.IView2DArray
	case t.desc.Samples > 1:
		typ = driver.IView2DMS
	}
	v, err := t.View(ViewDesc{Type: typ, Subresources: sub})
	if err != nil {
		return nil, errors.Wrapf(err, rtPrefix+"attaching %q", t.desc.Name)
	}
	return v, nil
}

func (rt *RenderTarget) destroy() {
	for i := range rt.color {
		rt.color[i].Texture.Release()
	}
	if rt.ds.Texture != nil {
		rt.ds.Texture.Release()
	}
	rt.color = nil
	rt.views = nil
	rt.ds = Attachment{}
	rt.dsView = nil
}

// Extent returns the shared extent of the attachments.
func (rt *RenderTarget) Extent() (width, height int) { return rt.width, rt.height }

// Signature returns the attachment signature of rt.
func (rt *RenderTarget) Signature() TargetSignature { return rt.sig }

// Color returns the i-th color attachment.
func (rt *RenderTarget) Color(i int) Attachment { return rt.color[i] }

// DepthStencil returns the depth/stencil attachment.
// Its Texture is nil if rt has none.
func (rt *RenderTarget) DepthStencil() Attachment { return rt.ds }

// requirements appends the layouts that rendering to rt
// needs.
func (rt *RenderTarget) requirements(dst []TextureBarrier) []TextureBarrier {
	for i := range rt.color {
		a := &rt.color[i]
		dst = append(dst, TextureBarrier{Texture: a.Texture, Range: a.subresources(), Layout: LayoutColorTarget})
	}
	if a := &rt.ds; a.Texture != nil {
		dst = append(dst, TextureBarrier{Texture: a.Texture, Range: a.subresources(), Layout: LayoutDSTarget})
	}
	return dst
}

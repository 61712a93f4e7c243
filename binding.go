// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

const bindPrefix = "rhi: binding: "

// BindingType is the type of a binding slot.
type BindingType int

// Binding types.
const (
	BindUniform BindingType = iota
	BindStorage
	BindTexture
	BindStorageTexture
	BindSampler
)

func (t BindingType) String() string {
	switch t {
	case BindUniform:
		return "uniform"
	case BindStorage:
		return "storage"
	case BindTexture:
		return "texture"
	case BindStorageTexture:
		return "storage texture"
	case BindSampler:
		return "sampler"
	}
	return "invalid"
}

func (t BindingType) descType() driver.DescType {
	switch t {
	case BindUniform:
		return driver.DConstant
	case BindStorage:
		return driver.DBuffer
	case BindTexture:
		return driver.DTexture
	case BindStorageTexture:
		return driver.DImage
	case BindSampler:
		return driver.DSampler
	}
	assertf(bindPrefix+"invalid binding type %d", t)
	return 0
}

func (t BindingType) isTexture() bool { return t == BindTexture || t == BindStorageTexture }

// BindingSlot describes one slot of a BindingLayout.
// A slot of Count n occupies binding numbers [b, b+n),
// where b is the sum of the counts of the slots before
// it. ViewType and Format only apply to texture slots.
type BindingSlot struct {
	Type     BindingType
	Stages   driver.Stage
	Count    int
	ViewType driver.ViewType
	Format   PixelFmt
}

// BindingLayoutDesc describes a BindingLayout.
type BindingLayoutDesc struct {
	Name  string
	Slots []BindingSlot
}

// normalize returns the canonical slots of desc.
func (desc *BindingLayoutDesc) normalize() []BindingSlot {
	slots := make([]BindingSlot, len(desc.Slots))
	for i, s := range desc.Slots {
		s.Count = max(s.Count, 1)
		if s.Stages == 0 || s.Stages&^(driver.SVertex|driver.SFragment|driver.SCompute) != 0 {
			assertf(bindPrefix+"layout %q: slot %d has invalid stages %#x", desc.Name, i, s.Stages)
		}
		s.Type.descType()
		if !s.Type.isTexture() {
			s.ViewType = 0
			s.Format = 0
		} else if !s.Format.IsValid() {
			assertf(bindPrefix+"layout %q: slot %d has invalid format %v", desc.Name, i, s.Format)
		}
		slots[i] = s
	}
	return slots
}

func (desc *BindingLayoutDesc) key() key {
	var k key
	slots := desc.normalize()
	k.int(len(slots))
	for _, s := range slots {
		k.int(int(s.Type))
		k.int(int(s.Stages))
		k.int(s.Count)
		k.int(int(s.ViewType))
		k.int(int(s.Format))
	}
	return k
}

// BindingLayout is a ref-counted binding layout.
type BindingLayout struct {
	ref
	slots  []BindingSlot
	layout driver.DescLayout
}

// CreateBindingLayout creates a new BindingLayout.
func (d *Device) CreateBindingLayout(desc *BindingLayoutDesc) (*BindingLayout, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	slots := desc.normalize()
	ds := make([]driver.Descriptor, len(slots))
	nr := 0
	for i, s := range slots {
		ds[i] = driver.Descriptor{
			Type:     s.Type.descType(),
			Stages:   s.Stages,
			Nr:       nr,
			Len:      s.Count,
			ViewType: s.ViewType,
			Format:   s.Format,
		}
		nr += s.Count
	}
	layout, err := d.gpu.NewDescLayout(ds)
	if err != nil {
		return nil, errors.Wrapf(err, bindPrefix+"creating layout %q", desc.Name)
	}
	l := &BindingLayout{slots: slots, layout: layout}
	d.track(l, kBindingLayout, desc.Name)
	return l, nil
}

func (l *BindingLayout) destroy() {
	l.layout.Destroy()
	l.layout = nil
}

// Slots returns the slots of l.
func (l *BindingLayout) Slots() []BindingSlot { return append([]BindingSlot(nil), l.slots...) }

// BindingItem is one resource of a BindingSet.
// Items of an array slot share the same Slot value.
// Type and Stages are only used when the layout is
// derived from the items, in which case the first item
// of each slot defines them.
type BindingItem struct {
	Slot   int
	Type   BindingType
	Stages driver.Stage

	// Uniform and storage slots.
	// Zero Size means the rest of the buffer.
	Buffer *Buffer
	Offset int64
	Size   int64

	// Texture slots.
	// A nil View selects the texture's default view.
	Texture *Texture
	View    *ViewDesc

	// Sampler slots.
	Sampler *Sampler
}

// BindingSetDesc describes a BindingSet.
// If Layout is nil, GetCachedBindingSet derives it from
// Items. CreateBindingSet requires a Layout.
type BindingSetDesc struct {
	Name   string
	Layout *BindingLayout
	Items  []BindingItem
}

// deriveLayout returns the description of the layout
// implied by the items of desc.
func (desc *BindingSetDesc) deriveLayout() BindingLayoutDesc {
	ld := BindingLayoutDesc{Name: desc.Name}
	for i := range desc.Items {
		it := &desc.Items[i]
		switch n := len(ld.Slots); {
		case it.Slot == n-1:
			ld.Slots[n-1].Count++
			continue
		case it.Slot != n:
			assertf(bindPrefix+"set %q: item %d has slot %d, want %d or %d", desc.Name, i, it.Slot, n-1, n)
		}
		s := BindingSlot{Type: it.Type, Stages: it.Stages, Count: 1}
		if it.Type.isTexture() {
			if it.Texture == nil {
				assertf(bindPrefix+"set %q: item %d has no texture", desc.Name, i)
			}
			s.Format = it.Texture.desc.Format
			if it.View != nil {
				s.ViewType = it.View.Type
			} else {
				s.ViewType = it.Texture.defaultViewType()
			}
		}
		ld.Slots = append(ld.Slots, s)
	}
	return ld
}

func (desc *BindingSetDesc) key() key {
	var k key
	k.res(desc.Layout)
	k.int(len(desc.Items))
	for i := range desc.Items {
		it := &desc.Items[i]
		k.int(it.Slot)
		switch {
		case it.Buffer != nil:
			k.int(1)
			k.res(it.Buffer)
			k.int64(it.Offset)
			k.int64(it.Size)
		case it.Texture != nil:
			k.int(2)
			k.res(it.Texture)
			if v := it.View; v != nil {
				sub := it.Texture.resolve(v.Subresources)
				k.int(int(v.Type))
				k.int(sub.BaseLevel)
				k.int(sub.Levels)
				k.int(sub.BaseLayer)
				k.int(sub.Layers)
			} else {
				k.int(-1)
			}
		case it.Sampler != nil:
			k.int(3)
			k.res(it.Sampler)
		default:
			k.uint(0)
		}
	}
	return k
}

// BindingSet is a ref-counted set of resources bound to
// a BindingLayout. It holds a reference to the layout
// and to every bound resource.
type BindingSet struct {
	ref
	layout *BindingLayout
	items  []BindingItem
	set    driver.DescSet
	// Layouts that the bound textures need.
	uses []TextureBarrier
}

// CreateBindingSet creates a new BindingSet.
// The items must match desc.Layout slot by slot.
func (d *Device) CreateBindingSet(desc *BindingSetDesc) (*BindingSet, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	l := desc.Layout
	if l == nil {
		assertf(bindPrefix+"set %q has no layout", desc.Name)
	}
	res := make([]driver.DescRes, len(l.slots))
	var uses []TextureBarrier
	i := 0
	for si, s := range l.slots {
		r := &res[si]
		for j := range s.Count {
			if i >= len(desc.Items) || desc.Items[i].Slot != si {
				assertf(bindPrefix+"set %q: slot %d has %d items, layout has %d", desc.Name, si, j, s.Count)
			}
			it := &desc.Items[i]
			i++
			switch s.Type {
			case BindUniform, BindStorage:
				off, size := d.checkBufferItem(desc.Name, si, s.Type, it)
				r.Buf = append(r.Buf, it.Buffer.buf)
				r.Off = append(r.Off, off)
				r.Size = append(r.Size, size)
			case BindTexture, BindStorageTexture:
				vd := checkTextureItem(desc.Name, si, &s, it)
				v, err := it.Texture.View(vd)
				if err != nil {
					return nil, errors.Wrapf(err, bindPrefix+"creating set %q", desc.Name)
				}
				r.View = append(r.View, v)
				layout := LayoutShaderRead
				if s.Type == BindStorageTexture {
					layout = LayoutGeneral
				}
				uses = append(uses, TextureBarrier{Texture: it.Texture, Range: vd.Subresources, Layout: layout})
			case BindSampler:
				if it.Sampler == nil {
					assertf(bindPrefix+"set %q: slot %d item has no sampler", desc.Name, si)
				}
				r.Splr = append(r.Splr, it.Sampler.splr)
			}
		}
	}
	if i != len(desc.Items) {
		assertf(bindPrefix+"set %q has %d items, layout has %d", desc.Name, len(desc.Items), i)
	}
	set, err := d.gpu.NewDescSet(l.layout, res)
	if err != nil {
		return nil, errors.Wrapf(err, bindPrefix+"creating set %q", desc.Name)
	}
	bs := &BindingSet{
		layout: l,
		items:  append([]BindingItem(nil), desc.Items...),
		set:    set,
		uses:   uses,
	}
	l.Retain()
	for i := range bs.items {
		bs.items[i].retain()
	}
	d.track(bs, kBindingSet, desc.Name)
	return bs, nil
}

func (d *Device) checkBufferItem(name string, slot int, typ BindingType, it *BindingItem) (off, size int64) {
	b := it.Buffer
	if b == nil {
		assertf(bindPrefix+"set %q: slot %d item has no buffer", name, slot)
	}
	want, rng := BufferStorage, d.limits.MaxDBufferRange
	if typ == BindUniform {
		want, rng = BufferUniform, d.limits.MaxDConstantRange
		if a := d.limits.MinConstantAlign; a > 0 && it.Offset%a != 0 {
			assertf(bindPrefix+"set %q: slot %d offset %d not aligned to %d", name, slot, it.Offset, a)
		}
	}
	if b.desc.Usage&want == 0 {
		assertf(bindPrefix+"set %q: buffer %q lacks %v usage", name, b.desc.Name, typ)
	}
	off, size = it.Offset, it.Size
	if size == 0 {
		size = b.desc.Size - off
	}
	b.checkRange(off, size)
	if rng > 0 && size > rng {
		assertf(bindPrefix+"set %q: slot %d range %d exceeds %d", name, slot, size, rng)
	}
	return
}

func checkTextureItem(name string, slot int, s *BindingSlot, it *BindingItem) ViewDesc {
	t := it.Texture
	if t == nil {
		assertf(bindPrefix+"set %q: slot %d item has no texture", name, slot)
	}
	want := TextureSampled
	if s.Type == BindStorageTexture {
		want = TextureStorage
	}
	if t.desc.Usage&want == 0 {
		assertf(bindPrefix+"set %q: texture %q lacks %v usage", name, t.desc.Name, s.Type)
	}
	vd := ViewDesc{Type: t.defaultViewType()}
	if it.View != nil {
		vd = *it.View
	}
	if vd.Type != s.ViewType {
		assertf(bindPrefix+"set %q: slot %d view type %d, layout has %d", name, slot, vd.Type, s.ViewType)
	}
	vd.Subresources = t.resolve(vd.Subresources)
	return vd
}

func (it *BindingItem) retain() {
	switch {
	case it.Buffer != nil:
		it.Buffer.Retain()
	case it.Texture != nil:
		it.Texture.Retain()
	case it.Sampler != nil:
		it.Sampler.Retain()
	}
}

func (it *BindingItem) release() {
	switch {
	case it.Buffer != nil:
		it.Buffer.Release()
	case it.Texture != nil:
		it.Texture.Release()
	case it.Sampler != nil:
		it.Sampler.Release()
	}
}

func (bs *BindingSet) destroy() {
	bs.set.Destroy()
	bs.set = nil
	for i := range bs.items {
		bs.items[i].release()
	}
	bs.items = nil
	bs.layout.Release()
	bs.layout = nil
}

// Layout returns the layout of bs.
func (bs *BindingSet) Layout() *BindingLayout { return bs.layout }

// BindingLayoutCache is a content-addressed cache of
// binding layouts.
type BindingLayoutCache struct {
	dev *Device
	*cache[*BindingLayout]
}

// GetCachedLayout returns the layout described by desc.
// Structurally equal descriptions always yield the same
// layout; the name is not part of the structure.
// The layout is owned by the cache: callers that keep it
// past a Trim must Retain it.
func (c *BindingLayoutCache) GetCachedLayout(desc *BindingLayoutDesc) (*BindingLayout, error) {
	return c.get(desc.key(), func() (*BindingLayout, error) {
		return c.dev.CreateBindingLayout(desc)
	})
}

// BindingCache is a content-addressed cache of binding
// sets.
type BindingCache struct {
	dev *Device
	*cache[*BindingSet]
}

// GetCachedBindingSet returns the binding set described
// by desc. If desc.Layout is nil, the layout is derived
// from the items and obtained from the layout cache
// first.
// The set is owned by the cache: callers that keep it
// past a Trim must Retain it.
func (c *BindingCache) GetCachedBindingSet(desc *BindingSetDesc) (*BindingSet, error) {
	if desc.Layout == nil {
		ld := desc.deriveLayout()
		l, err := c.dev.layouts.GetCachedLayout(&ld)
		if err != nil {
			return nil, err
		}
		d := *desc
		d.Layout = l
		desc = &d
	}
	return c.get(desc.key(), func() (*BindingSet, error) {
		return c.dev.CreateBindingSet(desc)
	})
}

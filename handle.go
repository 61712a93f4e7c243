// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"sync/atomic"

	"github.com/gviegas/rhi/internal/slotmap"
)

// ResourceID identifies a live resource of a Device.
// IDs are generation-checked: the ID of a destroyed
// resource never identifies a newer one.
type ResourceID = slotmap.ID

type kind int

// Kinds are listed in the order that Close releases
// leaked resources, so that a resource is released
// before the ones that it references.
const (
	kPipeline kind = iota
	kBindingSet
	kBindingLayout
	kRenderTarget
	kShader
	kSampler
	kTexture
	kBuffer

	nKind
)

func (k kind) String() string {
	switch k {
	case kPipeline:
		return "pipeline"
	case kBindingSet:
		return "binding set"
	case kBindingLayout:
		return "binding layout"
	case kRenderTarget:
		return "render target"
	case kShader:
		return "shader"
	case kSampler:
		return "sampler"
	case kTexture:
		return "texture"
	case kBuffer:
		return "buffer"
	}
	return "invalid"
}

// resource is implemented by every ref-counted type.
type resource interface {
	base() *ref
	// destroy releases the native object and every
	// reference held by the resource.
	destroy()
}

// ref is the reference count embedded in resources.
// A resource is created with a count of one and is
// destroyed when Release drops the count to zero.
type ref struct {
	n    atomic.Int32
	dev  *Device
	id   ResourceID
	kind kind
	name string
	self resource
}

func (r *ref) base() *ref { return r }

// Retain increments the reference count.
// Retaining a destroyed resource panics.
func (r *ref) Retain() {
	if r.n.Add(1) <= 1 {
		assertf("rhi: retaining destroyed %s %q", r.kind, r.name)
	}
}

// Release decrements the reference count, destroying
// the resource when the count reaches zero.
func (r *ref) Release() {
	switch n := r.n.Add(-1); {
	case n > 0:
	case n == 0:
		r.dev.untrack(r)
		r.self.destroy()
	default:
		assertf("rhi: %s %q released too many times", r.kind, r.name)
	}
}

// Refs returns the current reference count.
func (r *ref) Refs() int { return int(r.n.Load()) }

// ID returns the resource's identifier.
func (r *ref) ID() ResourceID { return r.id }

// Name returns the resource's debug name.
func (r *ref) Name() string { return r.name }

// track sets up the reference count of self and inserts
// it into the live-resource arena.
func (d *Device) track(self resource, k kind, name string) {
	r := self.base()
	r.n.Store(1)
	r.dev = d
	r.kind = k
	r.name = name
	r.self = self
	d.liveMu.Lock()
	r.id = d.live.Insert(self)
	d.liveMu.Unlock()
	Logger().Debug("rhi: resource created", "kind", k.String(), "name", name, "id", uint64(r.id))
}

func (d *Device) untrack(r *ref) {
	d.liveMu.Lock()
	_, ok := d.live.Remove(r.id)
	d.liveMu.Unlock()
	if !ok {
		assertf("rhi: untracking unknown %s %q", r.kind, r.name)
	}
}

// Lookup returns the live resource identified by id,
// or nil if it was destroyed.
// The result is one of *Buffer, *Texture, *Sampler,
// *Shader, *RenderTarget, *BindingLayout, *BindingSet
// or *Pipeline.
func (d *Device) Lookup(id ResourceID) any {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	if r := d.live.Get(id); r != nil {
		return *r
	}
	return nil
}

// LiveResources returns the number of resources that
// were created and not yet destroyed.
func (d *Device) LiveResources() int {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	return d.live.Len()
}

// releaseLeaks destroys every live resource, logging
// each one. Kinds are visited in dependency order and
// the arena is scanned again after each destruction,
// since destroying a resource may release others.
func (d *Device) releaseLeaks() {
	for k := range nKind {
		for {
			var leak resource
			d.liveMu.Lock()
			for _, r := range d.live.Values() {
				if r.base().kind == k {
					leak = r
					break
				}
			}
			d.liveMu.Unlock()
			if leak == nil {
				break
			}
			r := leak.base()
			Logger().Warn("rhi: releasing leaked resource", "kind", k.String(), "name", r.name, "refs", r.Refs())
			r.n.Store(1)
			r.Release()
		}
	}
}

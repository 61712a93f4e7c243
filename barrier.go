// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/gviegas/rhi/driver"
)

// TextureBarrier requests that a range of texture
// subresources be in a given layout.
// Zero counts in Range mean every level/layer from the
// base onwards.
type TextureBarrier struct {
	Texture *Texture
	Range   Subresources
	Layout  Layout
}

// transitions appends the transitions that b needs and
// updates the layout table of b.Texture accordingly.
// Consecutive layers of a level that share the same
// current layout are merged into a single transition.
func (b *TextureBarrier) transitions(dst []driver.Transition) []driver.Transition {
	t := b.Texture
	r := t.resolve(b.Range)
	nl := t.desc.Layers
	for level := r.BaseLevel; level < r.BaseLevel+r.Levels; level++ {
		row := t.layouts[level*nl : (level+1)*nl]
		end := r.BaseLayer + r.Layers
		for layer := r.BaseLayer; layer < end; {
			old := row[layer]
			n := 1
			for layer+n < end && row[layer+n] == old {
				n++
			}
			if old != b.Layout {
				dst = append(dst, driver.Transition{
					LayoutBefore: old,
					LayoutAfter:  b.Layout,
					Img:          t.img,
					Layer:        layer,
					Layers:       n,
					Level:        level,
					Levels:       1,
				})
				for i := layer; i < layer+n; i++ {
					row[i] = b.Layout
				}
			}
			layer += n
		}
	}
	return dst
}

// setLayout overrides the tracked layout of a range of
// subresources without a transition.
func (t *Texture) setLayout(r Subresources, layout Layout) {
	r = t.resolve(r)
	nl := t.desc.Layers
	for level := r.BaseLevel; level < r.BaseLevel+r.Levels; level++ {
		for layer := r.BaseLayer; layer < r.BaseLayer+r.Layers; layer++ {
			t.layouts[level*nl+layer] = layout
		}
	}
}

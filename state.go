// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/gviegas/rhi/driver"
)

// VertexBinding is a vertex buffer binding.
type VertexBinding struct {
	Buffer *Buffer
	Offset int64
}

// IndexBinding is an index buffer binding.
type IndexBinding struct {
	Buffer *Buffer
	Offset int64
	Format driver.IndexFmt
}

// GraphicsState is the complete state of a draw.
// It is compared field by field against the state
// currently bound, and only the fields that differ are
// emitted. Slots with a nil resource are left as they
// are. A zero Viewport or Scissor covers the whole
// target.
type GraphicsState struct {
	Pipeline *Pipeline
	Target   *RenderTarget
	Vertex   [MaxVertexBuffers]VertexBinding
	Index    IndexBinding
	Sets     [MaxBindingSets]*BindingSet
	Viewport driver.Viewport
	Scissor  driver.Scissor
}

// ComputeState is the complete state of a dispatch.
type ComputeState struct {
	Pipeline *Pipeline
	Sets     [MaxBindingSets]*BindingSet
}

func (s *GraphicsState) viewport() driver.Viewport {
	if s.Viewport != (driver.Viewport{}) {
		return s.Viewport
	}
	w, h := s.Target.Extent()
	return driver.Viewport{Width: float32(w), Height: float32(h), Zfar: 1}
}

func (s *GraphicsState) scissor() driver.Scissor {
	if s.Scissor != (driver.Scissor{}) {
		return s.Scissor
	}
	w, h := s.Target.Extent()
	return driver.Scissor{Width: w, Height: h}
}

// checkSets panics if sets do not match the binding
// layouts of pl.
func checkSets(pl *Pipeline, sets *[MaxBindingSets]*BindingSet) {
	for i, set := range sets {
		if set == nil {
			continue
		}
		if i >= len(pl.layouts) || set.layout != pl.layouts[i] {
			assertf("rhi: binding set %q does not match layout %d of pipeline %q", set.name, i, pl.name)
		}
	}
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// Pipeline implements driver.Pipeline.
// Exactly one of render and compute is set.
type Pipeline struct {
	gpu     *GPU
	layout  hal.PipelineLayout
	render  hal.RenderPipeline
	compute hal.ComputePipeline
}

// NewPipeline implements driver.GPU.
func (g *GPU) NewPipeline(state any) (driver.Pipeline, error) {
	switch s := state.(type) {
	case *driver.GraphState:
		return g.newGraph(s)
	case *driver.CompState:
		return g.newComp(s)
	}
	return nil, errors.AssertionFailedf("wgpu: invalid pipeline state type %T", state)
}

func (g *GPU) newLayout(desc []driver.DescLayout) (hal.PipelineLayout, error) {
	layouts := make([]hal.BindGroupLayout, len(desc))
	for i, d := range desc {
		layouts[i] = d.(*DescLayout).layout
	}
	layout, err := g.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{BindGroupLayouts: layouts})
	return layout, convErr(err)
}

func (g *GPU) newGraph(gs *driver.GraphState) (driver.Pipeline, error) {
	layout, err := g.newLayout(gs.Desc)
	if err != nil {
		return nil, err
	}
	desc := hal.RenderPipelineDescriptor{
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     gs.VertFunc.Code.(*ShaderCode).mod,
			EntryPoint: gs.VertFunc.Name,
			Buffers:    make([]gputypes.VertexBufferLayout, len(gs.Input)),
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  convTopology(gs.Topology),
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  convCullMode(gs.Raster.Cull),
		},
		Multisample: gputypes.MultisampleState{
			Count: uint32(max(gs.Samples, 1)),
			Mask:  ^uint64(0),
		},
	}
	if gs.Raster.Clockwise {
		desc.Primitive.FrontFace = gputypes.FrontFaceCW
	}
	for i, in := range gs.Input {
		desc.Vertex.Buffers[i] = gputypes.VertexBufferLayout{
			ArrayStride: uint64(in.Stride),
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{{
				Format:         convVertexFmt(in.Format),
				ShaderLocation: uint32(in.Nr),
			}},
		}
	}
	if gs.DSFmt.IsDS() {
		ds := &hal.DepthStencilState{
			Format:       convPixelFmt(gs.DSFmt),
			DepthCompare: gputypes.CompareFunctionAlways,
			StencilFront: stencilFace(nil),
			StencilBack:  stencilFace(nil),
		}
		if gs.DS.DepthTest {
			ds.DepthWriteEnabled = gs.DS.DepthWrite
			ds.DepthCompare = convCmpFunc(gs.DS.DepthCmp)
		}
		if gs.DS.StencilTest {
			ds.StencilFront = stencilFace(&gs.DS.Front)
			ds.StencilBack = stencilFace(&gs.DS.Back)
			ds.StencilReadMask = gs.DS.Front.ReadMask
			ds.StencilWriteMask = gs.DS.Front.WriteMask
		}
		if gs.Raster.DepthBias {
			ds.DepthBias = int32(gs.Raster.BiasValue)
			ds.DepthBiasSlopeScale = gs.Raster.BiasSlope
			ds.DepthBiasClamp = gs.Raster.BiasClamp
		}
		desc.DepthStencil = ds
	}
	if gs.FragFunc.Code != nil {
		frag := &hal.FragmentState{
			Module:     gs.FragFunc.Code.(*ShaderCode).mod,
			EntryPoint: gs.FragFunc.Name,
			Targets:    make([]gputypes.ColorTargetState, len(gs.ColorFmt)),
		}
		for i, pf := range gs.ColorFmt {
			cb := colorBlend(&gs.Blend, i)
			t := &frag.Targets[i]
			t.Format = convPixelFmt(pf)
			t.WriteMask = convColorMask(cb.WriteMask)
			if cb.Blend {
				t.Blend = &gputypes.BlendState{
					Color: gputypes.BlendComponent{
						SrcFactor: convBlendFac(cb.SrcFac[0]),
						DstFactor: convBlendFac(cb.DstFac[0]),
						Operation: convBlendOp(cb.Op[0]),
					},
					Alpha: gputypes.BlendComponent{
						SrcFactor: convBlendFac(cb.SrcFac[1]),
						DstFactor: convBlendFac(cb.DstFac[1]),
						Operation: convBlendOp(cb.Op[1]),
					},
				}
			}
		}
		desc.Fragment = frag
	}
	rp, err := g.dev.CreateRenderPipeline(&desc)
	if err != nil {
		g.dev.DestroyPipelineLayout(layout)
		return nil, convErr(err)
	}
	return &Pipeline{gpu: g, layout: layout, render: rp}, nil
}

// colorBlend returns the blend state of the i-th color
// target. Unless IndependentBlend is set, every target
// uses the first state.
func colorBlend(bs *driver.BlendState, i int) driver.ColorBlend {
	switch {
	case len(bs.Color) == 0:
		return driver.ColorBlend{WriteMask: driver.CAll}
	case !bs.IndependentBlend || i >= len(bs.Color):
		return bs.Color[0]
	}
	return bs.Color[i]
}

func stencilFace(st *driver.StencilT) hal.StencilFaceState {
	if st == nil {
		return hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
	}
	return hal.StencilFaceState{
		Compare:     convCmpFunc(st.Cmp),
		FailOp:      convStencilOp(st.DSFail[1]),
		DepthFailOp: convStencilOp(st.DSFail[0]),
		PassOp:      convStencilOp(st.Pass),
	}
}

func (g *GPU) newComp(cs *driver.CompState) (driver.Pipeline, error) {
	layout, err := g.newLayout(cs.Desc)
	if err != nil {
		return nil, err
	}
	cp, err := g.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     cs.Func.Code.(*ShaderCode).mod,
			EntryPoint: cs.Func.Name,
		},
	})
	if err != nil {
		g.dev.DestroyPipelineLayout(layout)
		return nil, convErr(err)
	}
	return &Pipeline{gpu: g, layout: layout, compute: cp}, nil
}

// Destroy implements driver.Destroyer.
func (p *Pipeline) Destroy() {
	if p.gpu == nil {
		return
	}
	if p.render != nil {
		p.gpu.dev.DestroyRenderPipeline(p.render)
	}
	if p.compute != nil {
		p.gpu.dev.DestroyComputePipeline(p.compute)
	}
	if p.layout != nil {
		p.gpu.dev.DestroyPipelineLayout(p.layout)
	}
	*p = Pipeline{}
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

const plPrefix = "rhi: pipeline: "

// GraphicsPipelineDesc describes a graphics Pipeline.
// Empty entry names select the first entry point of the
// matching stage. Fragment may be nil for depth-only
// rendering.
type GraphicsPipelineDesc struct {
	Name          string
	Vertex        *Shader
	VertexEntry   string
	Fragment      *Shader
	FragmentEntry string
	Layouts       []*BindingLayout
	Input         []driver.VertexIn
	Topology      driver.Topology
	Raster        driver.RasterState
	DS            driver.DSState
	Blend         driver.BlendState
}

// ComputePipelineDesc describes a compute Pipeline.
type ComputePipelineDesc struct {
	Name    string
	Shader  *Shader
	Entry   string
	Layouts []*BindingLayout
}

// Pipeline is a ref-counted graphics or compute
// pipeline. It holds a reference to its shaders and
// binding layouts.
type Pipeline struct {
	ref
	pl        driver.Pipeline
	compute   bool
	layouts   []*BindingLayout
	shaders   []*Shader
	sig       TargetSignature
	workgroup [3]int
}

func (d *Device) checkLayouts(name string, ls []*BindingLayout) []driver.DescLayout {
	if len(ls) > MaxBindingSets || (d.limits.MaxDescSets > 0 && len(ls) > d.limits.MaxDescSets) {
		assertf(plPrefix+"%q has %d binding layouts", name, len(ls))
	}
	dl := make([]driver.DescLayout, len(ls))
	for i, l := range ls {
		if l == nil {
			assertf(plPrefix+"%q: binding layout %d is nil", name, i)
		}
		dl[i] = l.layout
	}
	return dl
}

// CreateGraphicsPipeline creates a new graphics Pipeline
// that renders to targets of signature sig.
func (d *Device) CreateGraphicsPipeline(desc *GraphicsPipelineDesc, sig TargetSignature) (*Pipeline, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if desc.Vertex == nil {
		assertf(plPrefix+"%q has no vertex shader", desc.Name)
	}
	if lim := d.limits.MaxVertexIn; lim > 0 && len(desc.Input) > lim {
		assertf(plPrefix+"%q has %d vertex inputs", desc.Name, len(desc.Input))
	}
	if sig.NColor > MaxColorAttachments {
		assertf(plPrefix+"%q: signature has %d color formats", desc.Name, sig.NColor)
	}
	gs := driver.GraphState{
		VertFunc: desc.Vertex.entry(desc.VertexEntry, driver.SVertex),
		Desc:     d.checkLayouts(desc.Name, desc.Layouts),
		Input:    desc.Input,
		Topology: desc.Topology,
		Raster:   desc.Raster,
		Samples:  max(sig.Samples, 1),
		DS:       desc.DS,
		Blend:    desc.Blend,
		ColorFmt: sig.colorFmts(),
		DSFmt:    sig.DS,
	}
	shaders := []*Shader{desc.Vertex}
	if desc.Fragment != nil {
		gs.FragFunc = desc.Fragment.entry(desc.FragmentEntry, driver.SFragment)
		shaders = append(shaders, desc.Fragment)
	}
	pl, err := d.gpu.NewPipeline(&gs)
	if err != nil {
		return nil, errors.Wrapf(err, plPrefix+"creating %q", desc.Name)
	}
	p := &Pipeline{
		pl:      pl,
		layouts: append([]*BindingLayout(nil), desc.Layouts...),
		shaders: shaders,
		sig:     sig,
	}
	p.retain()
	d.track(p, kPipeline, desc.Name)
	return p, nil
}

// CreateComputePipeline creates a new compute Pipeline.
func (d *Device) CreateComputePipeline(desc *ComputePipelineDesc) (*Pipeline, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if desc.Shader == nil {
		assertf(plPrefix+"%q has no shader", desc.Name)
	}
	fn := desc.Shader.entry(desc.Entry, driver.SCompute)
	cs := driver.CompState{
		Func: fn,
		Desc: d.checkLayouts(desc.Name, desc.Layouts),
	}
	pl, err := d.gpu.NewPipeline(&cs)
	if err != nil {
		return nil, errors.Wrapf(err, plPrefix+"creating %q", desc.Name)
	}
	p := &Pipeline{
		pl:      pl,
		compute: true,
		layouts: append([]*BindingLayout(nil), desc.Layouts...),
		shaders: []*Shader{desc.Shader},
	}
	for _, e := range desc.Shader.entries {
		if e.Stage == driver.SCompute && e.Name == fn.Name {
			p.workgroup = e.Workgroup
			break
		}
	}
	p.retain()
	d.track(p, kPipeline, desc.Name)
	return p, nil
}

func (p *Pipeline) retain() {
	for _, s := range p.shaders {
		s.Retain()
	}
	for _, l := range p.layouts {
		l.Retain()
	}
}

func (p *Pipeline) destroy() {
	p.pl.Destroy()
	p.pl = nil
	for _, s := range p.shaders {
		s.Release()
	}
	for _, l := range p.layouts {
		l.Release()
	}
	p.shaders = nil
	p.layouts = nil
}

// IsCompute reports whether p is a compute pipeline.
func (p *Pipeline) IsCompute() bool { return p.compute }

// Signature returns the target signature of a graphics
// pipeline.
func (p *Pipeline) Signature() TargetSignature { return p.sig }

// Workgroup returns the workgroup size of a compute
// pipeline. It is zero for pipelines whose shader was
// not reflected.
func (p *Pipeline) Workgroup() [3]int { return p.workgroup }

// Layouts returns the binding layouts of p.
func (p *Pipeline) Layouts() []*BindingLayout { return append([]*BindingLayout(nil), p.layouts...) }

// PipelineCache is a content-addressed cache of
// pipelines.
type PipelineCache struct {
	dev *Device
	*cache[*Pipeline]
}

func keyLayouts(k *key, ls []*BindingLayout) {
	k.int(len(ls))
	for _, l := range ls {
		if l == nil {
			k.uint(0)
		} else {
			k.res(l)
		}
	}
}

func keyShader(k *key, s *Shader, entry string) {
	if s == nil {
		k.uint(0)
		return
	}
	k.res(s)
	k.str(entry)
}

func (desc *GraphicsPipelineDesc) key(sig *TargetSignature) key {
	var k key
	k.int(0)
	keyShader(&k, desc.Vertex, desc.VertexEntry)
	keyShader(&k, desc.Fragment, desc.FragmentEntry)
	keyLayouts(&k, desc.Layouts)
	k.int(len(desc.Input))
	for _, in := range desc.Input {
		k.int(int(in.Format))
		k.int(in.Stride)
		k.int(in.Nr)
		k.str(in.Name)
	}
	k.int(int(desc.Topology))
	r := &desc.Raster
	k.bool(r.Clockwise)
	k.int(int(r.Cull))
	k.bool(r.DepthBias)
	k.f32(r.BiasValue)
	k.f32(r.BiasSlope)
	k.f32(r.BiasClamp)
	ds := &desc.DS
	k.bool(ds.DepthTest)
	k.bool(ds.DepthWrite)
	k.int(int(ds.DepthCmp))
	k.bool(ds.StencilTest)
	for _, st := range [2]*driver.StencilT{&ds.Front, &ds.Back} {
		k.int(int(st.DSFail[0]))
		k.int(int(st.DSFail[1]))
		k.int(int(st.Pass))
		k.uint(uint64(st.ReadMask))
		k.uint(uint64(st.WriteMask))
		k.int(int(st.Cmp))
	}
	k.bool(desc.Blend.IndependentBlend)
	k.int(len(desc.Blend.Color))
	for _, cb := range desc.Blend.Color {
		k.bool(cb.Blend)
		k.int(int(cb.WriteMask))
		for i := range 2 {
			k.int(int(cb.Op[i]))
			k.int(int(cb.SrcFac[i]))
			k.int(int(cb.DstFac[i]))
		}
	}
	k.int(sig.NColor)
	for _, f := range sig.colorFmts() {
		k.int(int(f))
	}
	k.int(int(sig.DS))
	k.int(max(sig.Samples, 1))
	return k
}

func (desc *ComputePipelineDesc) key() key {
	var k key
	k.int(1)
	keyShader(&k, desc.Shader, desc.Entry)
	keyLayouts(&k, desc.Layouts)
	return k
}

// GetCachedGraphicsPipeline returns the graphics
// pipeline described by desc and sig.
// The pipeline is owned by the cache.
func (c *PipelineCache) GetCachedGraphicsPipeline(desc *GraphicsPipelineDesc, sig TargetSignature) (*Pipeline, error) {
	return c.get(desc.key(&sig), func() (*Pipeline, error) {
		return c.dev.CreateGraphicsPipeline(desc, sig)
	})
}

// GetCachedComputePipeline returns the compute pipeline
// described by desc.
// The pipeline is owned by the cache.
func (c *PipelineCache) GetCachedComputePipeline(desc *ComputePipelineDesc) (*Pipeline, error) {
	return c.get(desc.key(), func() (*Pipeline, error) {
		return c.dev.CreateComputePipeline(desc)
	})
}

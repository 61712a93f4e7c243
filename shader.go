// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"encoding/binary"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"

	"github.com/gviegas/rhi/driver"
)

const shdPrefix = "rhi: shader: "

// ShaderDesc describes a Shader.
// Exactly one of WGSL and SPIRV must be set.
// WGSL sources are lowered to SPIR-V and reflected;
// SPIR-V modules are not, so their EntryPoints must be
// given explicitly.
type ShaderDesc struct {
	Name        string
	WGSL        string
	SPIRV       []uint32
	EntryPoints []EntryPoint
}

// EntryPoint describes a shader entry point.
type EntryPoint struct {
	Name  string
	Stage driver.Stage
	// Workgroup size of compute entry points.
	Workgroup [3]int
}

// ShaderBinding is a resource binding declared by a
// shader.
type ShaderBinding struct {
	Name    string
	Group   int
	Binding int
	Type    BindingType
	Count   int
	// View type and format of texture bindings.
	ViewType driver.ViewType
	Format   PixelFmt
}

// Shader is a ref-counted shader module.
type Shader struct {
	ref
	code     driver.ShaderCode
	words    []uint32
	entries  []EntryPoint
	bindings []ShaderBinding
}

// CreateShader creates a new Shader.
// WGSL validation is controlled by
// Config.ValidateShaders.
func (d *Device) CreateShader(desc *ShaderDesc) (*Shader, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	s := &Shader{}
	switch {
	case desc.WGSL != "" && len(desc.SPIRV) > 0:
		assertf(shdPrefix+"%q has both WGSL and SPIR-V code", desc.Name)
	case desc.WGSL != "":
		mod, words, err := compileWGSL(desc.WGSL, d.cfg.ValidateShaders, d.cfg.DebugNames)
		if err != nil {
			return nil, errors.Wrapf(err, shdPrefix+"compiling %q", desc.Name)
		}
		s.words = words
		s.entries = reflectEntryPoints(mod)
		s.bindings = reflectBindings(mod)
	case len(desc.SPIRV) > 0:
		if len(desc.EntryPoints) == 0 {
			assertf(shdPrefix+"%q: SPIR-V code without entry points", desc.Name)
		}
		s.words = slices.Clone(desc.SPIRV)
		s.entries = slices.Clone(desc.EntryPoints)
	default:
		assertf(shdPrefix+"%q has no code", desc.Name)
	}
	code, err := d.gpu.NewShaderCode(s.words)
	if err != nil {
		return nil, errors.Wrapf(err, shdPrefix+"creating %q", desc.Name)
	}
	s.code = code
	d.track(s, kShader, desc.Name)
	return s, nil
}

// compileWGSL lowers src to SPIR-V words.
func compileWGSL(src string, validate, debug bool) (*ir.Module, []uint32, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing")
	}
	mod, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, nil, errors.Wrap(err, "lowering")
	}
	if validate {
		verrs, err := naga.Validate(mod)
		if err != nil {
			return nil, nil, errors.Wrap(err, "validating")
		}
		if len(verrs) > 0 {
			return nil, nil, errors.Wrapf(verrs[0], "validating (%d errors)", len(verrs))
		}
	}
	b, err := naga.GenerateSPIRV(mod, spirv.Options{Version: spirv.Version1_3, Debug: debug})
	if err != nil {
		return nil, nil, errors.Wrap(err, "generating SPIR-V")
	}
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, nil, errors.Newf("invalid SPIR-V length %d", len(b))
	}
	// SPIR-V words are little-endian.
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return mod, words, nil
}

func reflectEntryPoints(mod *ir.Module) []EntryPoint {
	entries := make([]EntryPoint, 0, len(mod.EntryPoints))
	for _, ep := range mod.EntryPoints {
		var stage driver.Stage
		switch ep.Stage {
		case ir.StageVertex:
			stage = driver.SVertex
		case ir.StageFragment:
			stage = driver.SFragment
		case ir.StageCompute:
			stage = driver.SCompute
		default:
			continue
		}
		entries = append(entries, EntryPoint{
			Name:      ep.Name,
			Stage:     stage,
			Workgroup: [3]int{int(ep.Workgroup[0]), int(ep.Workgroup[1]), int(ep.Workgroup[2])},
		})
	}
	return entries
}

func reflectBindings(mod *ir.Module) []ShaderBinding {
	var bs []ShaderBinding
	for _, gv := range mod.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		b := ShaderBinding{
			Name:    gv.Name,
			Group:   int(gv.Binding.Group),
			Binding: int(gv.Binding.Binding),
			Count:   1,
		}
		switch gv.Space {
		case ir.SpaceUniform:
			b.Type = BindUniform
		case ir.SpaceStorage:
			b.Type = BindStorage
		case ir.SpaceHandle:
			inner := typeInner(mod, gv.Type)
			if ba, ok := inner.(ir.BindingArrayType); ok {
				if ba.Size != nil {
					b.Count = int(*ba.Size)
				}
				inner = typeInner(mod, ba.Base)
			}
			switch t := inner.(type) {
			case ir.SamplerType:
				b.Type = BindSampler
			case ir.ImageType:
				b.ViewType = viewTypeOf(&t)
				b.Format = formatOf(&t)
				if t.Class == ir.ImageClassStorage {
					b.Type = BindStorageTexture
				} else {
					b.Type = BindTexture
				}
			default:
				continue
			}
		default:
			continue
		}
		bs = append(bs, b)
	}
	slices.SortFunc(bs, func(a, b ShaderBinding) int {
		if a.Group != b.Group {
			return a.Group - b.Group
		}
		return a.Binding - b.Binding
	})
	return bs
}

func viewTypeOf(t *ir.ImageType) driver.ViewType {
	switch t.Dim {
	case ir.Dim1D:
		if t.Arrayed {
			return driver.IView1DArray
		}
		return driver.IView1D
	case ir.Dim3D:
		return driver.IView3D
	case ir.DimCube:
		if t.Arrayed {
			return driver.IViewCubeArray
		}
		return driver.IViewCube
	}
	switch {
	case t.Multisampled && t.Arrayed:
		return driver.IView2DMSArray
	case t.Multisampled:
		return driver.IView2DMS
	case t.Arrayed:
		return driver.IView2DArray
	}
	return driver.IView2D
}

// formatOf returns a format compatible with t.
// Sampled float textures report RGBA8un, which selects
// filterable sampling.
func formatOf(t *ir.ImageType) PixelFmt {
	switch t.Class {
	case ir.ImageClassDepth:
		return driver.D32f
	case ir.ImageClassStorage:
		switch t.StorageFormat {
		case ir.StorageFormatR8Unorm:
			return driver.R8un
		case ir.StorageFormatRg8Unorm:
			return driver.RG8un
		case ir.StorageFormatR32Uint:
			return driver.R32ui
		case ir.StorageFormatR32Float:
			return driver.R32f
		case ir.StorageFormatRgba8Snorm:
			return driver.RGBA8n
		case ir.StorageFormatBgra8Unorm:
			return driver.BGRA8un
		case ir.StorageFormatRg32Float:
			return driver.RG32f
		case ir.StorageFormatRgba16Float:
			return driver.RGBA16f
		case ir.StorageFormatRgba32Float:
			return driver.RGBA32f
		}
		return driver.RGBA8un
	}
	if t.SampledKind == ir.ScalarUint {
		return driver.R32ui
	}
	return driver.RGBA8un
}

func typeInner(mod *ir.Module, h ir.TypeHandle) ir.TypeInner {
	if int(h) >= len(mod.Types) {
		return nil
	}
	return mod.Types[h].Inner
}

func (s *Shader) destroy() {
	s.code.Destroy()
	s.code = nil
}

// EntryPoints returns the entry points of s.
func (s *Shader) EntryPoints() []EntryPoint { return slices.Clone(s.entries) }

// Bindings returns the resource bindings declared by s,
// sorted by group and binding number.
// It is empty for shaders created from SPIR-V.
func (s *Shader) Bindings() []ShaderBinding { return slices.Clone(s.bindings) }

// Words returns the SPIR-V code of s.
func (s *Shader) Words() []uint32 { return s.words }

// entry returns the entry point of the given stage.
// An empty name selects the first such entry point.
func (s *Shader) entry(name string, stage driver.Stage) driver.ShaderFunc {
	for _, e := range s.entries {
		if e.Stage == stage && (name == "" || e.Name == name) {
			return driver.ShaderFunc{Code: s.code, Name: e.Name}
		}
	}
	assertf(shdPrefix+"%q has no entry point %q for stage %#x", s.name, name, stage)
	return driver.ShaderFunc{}
}

// ReflectLayout builds the description of the binding
// layout of the given group from the bindings declared
// by shaders. Stage visibility is the union of the
// stages of each shader's entry points.
// Binding numbers must be contiguous from zero, with
// arrays occupying one number per element.
func ReflectLayout(group int, shaders ...*Shader) (BindingLayoutDesc, error) {
	type slot struct {
		BindingSlot
		n int
	}
	var slots []slot
	for _, s := range shaders {
		var stages driver.Stage
		for _, e := range s.entries {
			stages |= e.Stage
		}
		for _, b := range s.bindings {
			if b.Group != group {
				continue
			}
			i := slices.IndexFunc(slots, func(x slot) bool { return x.n == b.Binding })
			if i < 0 {
				bs := BindingSlot{Type: b.Type, Count: b.Count, ViewType: b.ViewType, Format: b.Format}
				slots = append(slots, slot{bs, b.Binding})
				i = len(slots) - 1
			} else if slots[i].Type != b.Type || slots[i].Count != b.Count {
				return BindingLayoutDesc{}, errors.Newf(shdPrefix+"binding %d of group %d declared with different types", b.Binding, group)
			}
			slots[i].Stages |= stages
		}
	}
	slices.SortFunc(slots, func(a, b slot) int { return a.n - b.n })
	var desc BindingLayoutDesc
	next := 0
	for _, s := range slots {
		if s.n != next {
			return BindingLayoutDesc{}, errors.Newf(shdPrefix+"group %d: expected binding %d, found %d", group, next, s.n)
		}
		next += s.Count
		desc.Slots = append(desc.Slots, s.BindingSlot)
	}
	return desc, nil
}

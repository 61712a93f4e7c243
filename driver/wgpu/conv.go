// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// convErr converts a hal error into the equivalent
// driver error, keeping the original as the cause.
func convErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return errors.Mark(err, driver.ErrNoDeviceMemory)
	case errors.Is(err, hal.ErrDeviceLost):
		return errors.Mark(err, driver.ErrFatal)
	case errors.Is(err, hal.ErrSurfaceLost), errors.Is(err, hal.ErrSurfaceOutdated):
		return errors.Mark(err, driver.ErrSwapchain)
	case errors.Is(err, hal.ErrTimeout):
		return errors.Mark(err, driver.ErrTimeout)
	}
	return err
}

func convPixelFmt(pf driver.PixelFmt) gputypes.TextureFormat { return pf.TextureFormat() }

func convBufferUsage(usg driver.Usage, visible bool) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if usg&(driver.UShaderRead|driver.UShaderWrite) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if usg&driver.UShaderConst != 0 {
		u |= gputypes.BufferUsageUniform
	}
	if usg&driver.UVertexData != 0 {
		u |= gputypes.BufferUsageVertex
	}
	if usg&driver.UIndexData != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if usg&driver.UCopySrc != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	if usg&driver.UCopyDst != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	if visible {
		u |= gputypes.BufferUsageMapWrite | gputypes.BufferUsageMapRead
	}
	return u
}

func convTextureUsage(usg driver.Usage) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if usg&(driver.UShaderRead|driver.UShaderSample) != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if usg&driver.UShaderWrite != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if usg&driver.URenderTarget != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if usg&driver.UCopySrc != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	if usg&driver.UCopyDst != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	return u
}

// usageOf returns the texture usage that corresponds to
// a given layout.
// LPresent has no equivalent since surface textures are
// transitioned by the presentation engine.
func usageOf(l driver.Layout) gputypes.TextureUsage {
	switch l {
	case driver.LCopySrc:
		return gputypes.TextureUsageCopySrc
	case driver.LCopyDst:
		return gputypes.TextureUsageCopyDst
	case driver.LShaderRead, driver.LDSRead:
		return gputypes.TextureUsageTextureBinding
	case driver.LColorTarget, driver.LDSTarget, driver.LResolveSrc, driver.LResolveDst:
		return gputypes.TextureUsageRenderAttachment
	case driver.LCommon:
		return gputypes.TextureUsageStorageBinding
	}
	return gputypes.TextureUsageNone
}

func convFormatCaps(c hal.TextureFormatCapabilities, depth bool) driver.Usage {
	var u driver.Usage
	if c.Flags&hal.TextureFormatCapabilitySampled != 0 {
		u |= driver.UShaderRead | driver.UShaderSample
	}
	if c.Flags&hal.TextureFormatCapabilityStorage != 0 {
		u |= driver.UShaderWrite
	}
	if c.Flags&hal.TextureFormatCapabilityRenderAttachment != 0 {
		u |= driver.URenderTarget
	}
	if u != 0 {
		u |= driver.UCopySrc | driver.UCopyDst
	}
	if depth {
		u &^= driver.UShaderWrite
	}
	return u
}

func convDimension(dim driver.ImageDim) gputypes.TextureDimension {
	switch dim {
	case driver.Img1D:
		return gputypes.TextureDimension1D
	case driver.Img3D:
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

func convViewType(typ driver.ViewType) gputypes.TextureViewDimension {
	switch typ {
	case driver.IView1D, driver.IView1DArray:
		return gputypes.TextureViewDimension1D
	case driver.IView2D, driver.IView2DMS:
		return gputypes.TextureViewDimension2D
	case driver.IView3D:
		return gputypes.TextureViewDimension3D
	case driver.IViewCube:
		return gputypes.TextureViewDimensionCube
	case driver.IViewCubeArray:
		return gputypes.TextureViewDimensionCubeArray
	case driver.IView2DArray, driver.IView2DMSArray:
		return gputypes.TextureViewDimension2DArray
	}
	return gputypes.TextureViewDimensionUndefined
}

func convAspect(pf driver.PixelFmt, depthCopy bool) gputypes.TextureAspect {
	switch {
	case pf.IsDepth() && pf.HasStencil():
		if depthCopy {
			return gputypes.TextureAspectDepthOnly
		}
		return gputypes.TextureAspectStencilOnly
	}
	return gputypes.TextureAspectAll
}

func convFilter(f driver.Filter) gputypes.FilterMode {
	if f == driver.FLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}

func convAddrMode(m driver.AddrMode) gputypes.AddressMode {
	switch m {
	case driver.AMirror:
		return gputypes.AddressModeMirrorRepeat
	case driver.AClamp:
		return gputypes.AddressModeClampToEdge
	}
	return gputypes.AddressModeRepeat
}

func convCmpFunc(f driver.CmpFunc) gputypes.CompareFunction {
	switch f {
	case driver.CNever:
		return gputypes.CompareFunctionNever
	case driver.CLess:
		return gputypes.CompareFunctionLess
	case driver.CEqual:
		return gputypes.CompareFunctionEqual
	case driver.CLessEqual:
		return gputypes.CompareFunctionLessEqual
	case driver.CGreater:
		return gputypes.CompareFunctionGreater
	case driver.CNotEqual:
		return gputypes.CompareFunctionNotEqual
	case driver.CGreaterEqual:
		return gputypes.CompareFunctionGreaterEqual
	}
	return gputypes.CompareFunctionAlways
}

func convStencilOp(op driver.StencilOp) hal.StencilOperation {
	switch op {
	case driver.SZero:
		return hal.StencilOperationZero
	case driver.SReplace:
		return hal.StencilOperationReplace
	case driver.SIncClamp:
		return hal.StencilOperationIncrementClamp
	case driver.SDecClamp:
		return hal.StencilOperationDecrementClamp
	case driver.SInvert:
		return hal.StencilOperationInvert
	case driver.SIncWrap:
		return hal.StencilOperationIncrementWrap
	case driver.SDecWrap:
		return hal.StencilOperationDecrementWrap
	}
	return hal.StencilOperationKeep
}

func convBlendOp(op driver.BlendOp) gputypes.BlendOperation {
	switch op {
	case driver.BSubtract:
		return gputypes.BlendOperationSubtract
	case driver.BRevSubtract:
		return gputypes.BlendOperationReverseSubtract
	case driver.BMin:
		return gputypes.BlendOperationMin
	case driver.BMax:
		return gputypes.BlendOperationMax
	}
	return gputypes.BlendOperationAdd
}

func convBlendFac(f driver.BlendFac) gputypes.BlendFactor {
	switch f {
	case driver.BZero:
		return gputypes.BlendFactorZero
	case driver.BOne:
		return gputypes.BlendFactorOne
	case driver.BSrcColor:
		return gputypes.BlendFactorSrc
	case driver.BInvSrcColor:
		return gputypes.BlendFactorOneMinusSrc
	case driver.BSrcAlpha:
		return gputypes.BlendFactorSrcAlpha
	case driver.BInvSrcAlpha:
		return gputypes.BlendFactorOneMinusSrcAlpha
	case driver.BDstColor:
		return gputypes.BlendFactorDst
	case driver.BInvDstColor:
		return gputypes.BlendFactorOneMinusDst
	case driver.BDstAlpha:
		return gputypes.BlendFactorDstAlpha
	case driver.BInvDstAlpha:
		return gputypes.BlendFactorOneMinusDstAlpha
	case driver.BSrcAlphaSaturated:
		return gputypes.BlendFactorSrcAlphaSaturated
	case driver.BBlendColor:
		return gputypes.BlendFactorConstant
	case driver.BInvBlendColor:
		return gputypes.BlendFactorOneMinusConstant
	}
	return gputypes.BlendFactorOne
}

func convColorMask(m driver.ColorMask) gputypes.ColorWriteMask {
	var w gputypes.ColorWriteMask
	if m&driver.CRed != 0 {
		w |= gputypes.ColorWriteMaskRed
	}
	if m&driver.CGreen != 0 {
		w |= gputypes.ColorWriteMaskGreen
	}
	if m&driver.CBlue != 0 {
		w |= gputypes.ColorWriteMaskBlue
	}
	if m&driver.CAlpha != 0 {
		w |= gputypes.ColorWriteMaskAlpha
	}
	return w
}

func convTopology(t driver.Topology) gputypes.PrimitiveTopology {
	switch t {
	case driver.TPoint:
		return gputypes.PrimitiveTopologyPointList
	case driver.TLine:
		return gputypes.PrimitiveTopologyLineList
	case driver.TLnStrip:
		return gputypes.PrimitiveTopologyLineStrip
	case driver.TTriStrip:
		return gputypes.PrimitiveTopologyTriangleStrip
	}
	return gputypes.PrimitiveTopologyTriangleList
}

func convCullMode(c driver.CullMode) gputypes.CullMode {
	switch c {
	case driver.CFront:
		return gputypes.CullModeFront
	case driver.CBack:
		return gputypes.CullModeBack
	}
	return gputypes.CullModeNone
}

func convVertexFmt(f driver.VertexFmt) gputypes.VertexFormat {
	switch f {
	case driver.Int32:
		return gputypes.VertexFormatSint32
	case driver.Int32x2:
		return gputypes.VertexFormatSint32x2
	case driver.Int32x3:
		return gputypes.VertexFormatSint32x3
	case driver.Int32x4:
		return gputypes.VertexFormatSint32x4
	case driver.UInt32:
		return gputypes.VertexFormatUint32
	case driver.UInt32x2:
		return gputypes.VertexFormatUint32x2
	case driver.UInt32x3:
		return gputypes.VertexFormatUint32x3
	case driver.UInt32x4:
		return gputypes.VertexFormatUint32x4
	case driver.Float32:
		return gputypes.VertexFormatFloat32
	case driver.Float32x2:
		return gputypes.VertexFormatFloat32x2
	case driver.Float32x3:
		return gputypes.VertexFormatFloat32x3
	case driver.Float32x4:
		return gputypes.VertexFormatFloat32x4
	case driver.UNorm8x4:
		return gputypes.VertexFormatUnorm8x4
	}
	return gputypes.VertexFormatUndefined
}

func convIndexFmt(f driver.IndexFmt) gputypes.IndexFormat {
	if f == driver.Index16 {
		return gputypes.IndexFormatUint16
	}
	return gputypes.IndexFormatUint32
}

func convStages(s driver.Stage) gputypes.ShaderStages {
	var st gputypes.ShaderStages
	if s&driver.SVertex != 0 {
		st |= gputypes.ShaderStageVertex
	}
	if s&driver.SFragment != 0 {
		st |= gputypes.ShaderStageFragment
	}
	if s&driver.SCompute != 0 {
		st |= gputypes.ShaderStageCompute
	}
	return st
}

func convLoadOp(op driver.LoadOp) gputypes.LoadOp {
	if op == driver.LLoad {
		return gputypes.LoadOpLoad
	}
	// There is no "don't care" load operation.
	return gputypes.LoadOpClear
}

func convStoreOp(op driver.StoreOp) gputypes.StoreOp {
	if op == driver.SStore {
		return gputypes.StoreOpStore
	}
	return gputypes.StoreOpDiscard
}

func convDeviceType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterTypeUnknown
}

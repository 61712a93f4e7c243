// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"time"

	"github.com/gogpu/gpucontext"
)

// GPU is an opened device.
// Every other driver object is created through it, and
// all of them must be destroyed before the Driver that
// produced the GPU is closed.
type GPU interface {
	Driver() Driver

	// Queue returns the execution queue of the given type.
	// It never returns nil. Implementations that expose
	// fewer hardware queues may serve several types from
	// the same hardware queue, but each returned Queue
	// must keep its own completion counter.
	Queue(typ QueueType) Queue

	// NewCmdBuffer creates a command buffer that can only
	// be submitted to the queue of the given type.
	NewCmdBuffer(typ QueueType) (CmdBuffer, error)

	NewSemaphore() (Semaphore, error)

	// NewShaderCode creates a shader module from SPIR-V
	// words.
	NewShaderCode(spirv []uint32) (ShaderCode, error)

	NewDescLayout(ds []Descriptor) (DescLayout, error)

	// NewDescSet creates a new descriptor set whose
	// resources are given by res. res must contain
	// exactly one DescRes per descriptor of layout,
	// in the same order.
	NewDescSet(layout DescLayout, res []DescRes) (DescSet, error)

	// NewPipeline creates a pipeline from either a
	// *GraphState or a *CompState. Any other argument
	// is an error.
	NewPipeline(state any) (Pipeline, error)

	// NewBuffer creates a buffer of at least size bytes.
	// If visible is set, the buffer is mapped for its
	// whole lifetime.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	// NewImage creates an image. layers is ignored for
	// Img3D, and size.Depth is ignored otherwise.
	NewImage(dim ImageDim, pf PixelFmt, size Dim3D, layers, levels, samples int, usg Usage) (Image, error)

	NewSampler(spln *Sampling) (Sampler, error)

	// FormatSupport returns the set of usages that images
	// of the given format support.
	// Zero means that the format is not supported at all.
	FormatSupport(pf PixelFmt) Usage

	// WaitIdle blocks until all queues are idle.
	WaitIdle() error

	// Limits does not change while the GPU is open.
	Limits() Limits

	// Info describes the physical device.
	Info() gpucontext.AdapterInfo
}

// Destroyer is implemented by every driver object.
// Driver objects own memory outside of the Go heap, which
// is only released by Destroy.
type Destroyer interface {
	Destroy()
}

// QueueType identifies a class of execution queue.
type QueueType int

// Queue types.
const (
	QGraphics QueueType = iota
	QCompute
	QCopy

	NQueueType = iota
)

func (t QueueType) String() string {
	switch t {
	case QGraphics:
		return "graphics"
	case QCompute:
		return "compute"
	case QCopy:
		return "copy"
	}
	return "invalid"
}

// Wait is a dependency on another queue's completion
// counter reaching Value.
type Wait struct {
	Queue Queue
	Value uint64
}

// Submission describes the synchronization of a batch
// of command buffers.
type Submission struct {
	// Wait lists cross-queue dependencies that must be
	// satisfied before the batch starts executing.
	Wait []Wait
	// WaitSem lists binary semaphores to wait on.
	WaitSem []Semaphore
	// SignalSem lists binary semaphores to signal.
	SignalSem []Semaphore
	// Signal is the value that the queue's completion
	// counter will have once the batch completes.
	// It must be greater than any previous value used
	// with the same queue.
	Signal uint64
}

// Queue is a GPU execution queue.
// Command buffers submitted to a given queue execute in
// submission order. There is no implicit ordering between
// submissions made to different queues.
type Queue interface {
	Type() QueueType

	// Submit submits a batch of command buffers for
	// execution.
	// The command buffers must have been ended and must
	// not be recorded into until the queue's completion
	// counter reaches sub.Signal.
	Submit(cb []CmdBuffer, sub *Submission) error

	// Completed returns the current value of the queue's
	// completion counter.
	Completed() (uint64, error)

	// Wait blocks until the queue's completion counter
	// is at least value or until timeout elapses.
	// It returns whether the value was reached.
	Wait(value uint64, timeout time.Duration) (bool, error)
}

// Semaphore is a binary semaphore for GPU-side
// synchronization, mainly with presentation.
type Semaphore interface {
	Destroyer
}

// CmdBuffer records GPU commands for later submission to
// a Queue.
//
// A recording starts with Begin and finishes with End.
// In between, draw commands are only valid inside a
// BeginPass/EndPass pair and dispatches are only valid
// inside a BeginWork/EndWork pair. Pipeline and binding
// state set in one pass does not carry over to the next.
// Copies, transitions and markers are recorded between
// passes. Passes cannot nest, and End fails if a pass is
// still open.
type CmdBuffer interface {
	Destroyer

	// Begin starts a new recording. It fails if the
	// command buffer is already recording. Commands
	// recorded previously are discarded.
	Begin() error

	BeginPass(pass *PassDesc)
	EndPass()

	// BeginWork opens a compute pass. Dispatches within
	// it are unordered with respect to each other.
	BeginWork()
	EndWork()

	// SetPipeline binds pl to the open pass, which must
	// be of the matching kind.
	SetPipeline(pl Pipeline)

	SetViewport(vp Viewport)
	SetScissor(sciss Scissor)
	SetBlendColor(r, g, b, a float32)
	SetStencilRef(value uint32)

	// SetVertexBuf binds buf[i] at off[i] to the vertex
	// input slot start+i. Each offset must be a multiple
	// of the size of the corresponding vertex format.
	SetVertexBuf(start int, buf []Buffer, off []int64)

	// SetIndexBuf binds buf at off as the index source.
	// off is a multiple of 4.
	SetIndexBuf(format IndexFmt, buf Buffer, off int64)

	// SetDescSet sets a contiguous range of descriptor
	// sets for the current pipeline type.
	SetDescSet(start int, set []DescSet)

	Draw(vertCount, instCount, baseVert, baseInst int)
	DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int)
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// The copy commands are recorded outside of passes.
	CopyBuffer(param *BufferCopy)
	CopyImage(param *ImageCopy)
	CopyBufToImg(param *BufImgCopy)
	CopyImgToBuf(param *BufImgCopy)

	// Transition changes the layout of image ranges.
	// It must not be called during a render pass.
	Transition(t []Transition)

	// BeginMarker opens a labeled debug region.
	BeginMarker(label string)

	// EndMarker closes the innermost debug region.
	EndMarker()

	// End finishes the recording, after which the
	// command buffer can be submitted. If End fails,
	// the recording is lost.
	End() error

	// Reset abandons the current recording, if any, and
	// frees the commands of the last one.
	Reset() error
}

// BufferCopy copies Size bytes from From at FromOff to
// To at ToOff.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// ImageCopy copies a region of Size texels, spanning
// Layers array layers, between two images of compatible
// formats.
type ImageCopy struct {
	From      Image
	FromOff   Off3D
	FromLayer int
	FromLevel int
	To        Image
	ToOff     Off3D
	ToLayer   int
	ToLevel   int
	Size      Dim3D
	Layers    int
}

// BufImgCopy is the region of a copy between a buffer and
// an image, in either direction.
// BufOff is a multiple of CopyOffAlign and the byte size
// of a row is a multiple of CopyRowAlign.
type BufImgCopy struct {
	Buf    Buffer
	BufOff int64
	// Stride is the row length ([0]) and the image height
	// ([1]) of the data in the buffer, in texels.
	Stride [2]int64
	Img    Image
	ImgOff Off3D
	Layer  int
	Level  int
	Size   Dim3D
	// DepthCopy chooses the depth aspect of combined
	// depth/stencil images. The stencil aspect is copied
	// when it is false.
	DepthCopy bool
}

// Layout is the memory layout of an image subresource.
type Layout int

// Image layouts.
const (
	LUndefined Layout = iota
	LCommon
	LColorTarget
	LDSTarget
	LDSRead
	LResolveSrc
	LResolveDst
	LCopySrc
	LCopyDst
	LShaderRead
	LPresent
)

func (l Layout) String() string {
	switch l {
	case LUndefined:
		return "undefined"
	case LCommon:
		return "common"
	case LColorTarget:
		return "color-target"
	case LDSTarget:
		return "ds-target"
	case LDSRead:
		return "ds-read"
	case LResolveSrc:
		return "resolve-src"
	case LResolveDst:
		return "resolve-dst"
	case LCopySrc:
		return "copy-src"
	case LCopyDst:
		return "copy-dst"
	case LShaderRead:
		return "shader-read"
	case LPresent:
		return "present"
	}
	return "invalid"
}

// Transition moves the subresources of Img in
// [Layer, Layer+Layers) x [Level, Level+Levels) from
// LayoutBefore to LayoutAfter.
// LUndefined as LayoutBefore discards the contents.
type Transition struct {
	LayoutBefore Layout
	LayoutAfter  Layout
	Img          Image
	Layer        int
	Layers       int
	Level        int
	Levels       int
}

// LoadOp says what happens to an attachment when a render
// pass begins.
type LoadOp int

// Load operations.
const (
	LDontCare LoadOp = iota
	LClear
	LLoad
)

// StoreOp says what happens to an attachment when a
// render pass ends.
type StoreOp int

// Store operations.
const (
	SDontCare StoreOp = iota
	SStore
)

// ColorTarget describes a color attachment of a render
// pass.
// Resolve, if not nil, receives the multisample resolve
// of View at the end of the pass.
type ColorTarget struct {
	View    ImageView
	Resolve ImageView
	Load    LoadOp
	Store   StoreOp
	Clear   [4]float32
}

// DSTarget describes the depth/stencil attachment of a
// render pass. Load and Store are indexed by aspect:
// depth first, then stencil.
type DSTarget struct {
	View    ImageView
	Load    [2]LoadOp
	Store   [2]StoreOp
	Depth   float32
	Stencil uint32
	// ReadOnly prevents writes to the attachment, which
	// allows it to be sampled during the pass.
	ReadOnly bool
}

// PassDesc describes the render targets of a render pass.
// All views must have the same width and height.
type PassDesc struct {
	Color []ColorTarget
	DS    *DSTarget
}

// ShaderCode is a compiled shader module.
type ShaderCode interface {
	Destroyer
}

// ShaderFunc names an entry point of a shader module.
type ShaderFunc struct {
	Code ShaderCode
	Name string
}

// Stage is a set of programmable stages.
type Stage int

// Programmable stages.
const (
	SVertex Stage = 1 << iota
	SFragment
	SCompute
)

// DescType is the kind of resource that a descriptor
// refers to.
type DescType int

// Descriptor types.
const (
	DBuffer   DescType = iota // storage buffer
	DImage                    // storage image
	DConstant                 // uniform buffer
	DTexture                  // sampled image
	DSampler
)

// Descriptor is one entry of a descriptor layout.
// Nr is the binding number, and Len is the array length.
// A descriptor of length n occupies binding numbers
// [Nr, Nr+n) in backends that lack descriptor arrays.
// ViewType and Format are only meaningful for image
// descriptors: Format is the storage format of DImage
// and selects the sample type of DTexture.
type Descriptor struct {
	Type     DescType
	Stages   Stage
	Nr       int
	Len      int
	ViewType ViewType
	Format   PixelFmt
}

// DescRes holds the resources bound to a descriptor.
// Only the slices matching the descriptor type are used,
// and their length must equal the descriptor's Len.
type DescRes struct {
	Buf  []Buffer
	Off  []int64
	Size []int64
	View []ImageView
	Splr []Sampler
}

// DescLayout is the interface that defines the layout
// of a descriptor set.
type DescLayout interface {
	Destroyer
}

// DescSet is the interface that defines a set of
// resources bound to the descriptors of a DescLayout.
// It is immutable.
type DescSet interface {
	Destroyer
}

// VertexFmt is the data type of a vertex attribute.
type VertexFmt int

// Vertex formats.
// The xN suffix is the number of components.
const (
	Int32 VertexFmt = iota
	Int32x2
	Int32x3
	Int32x4
	UInt32
	UInt32x2
	UInt32x3
	UInt32x4
	Float32
	Float32x2
	Float32x3
	Float32x4
	// Four 8-bit components normalized to [0, 1].
	UNorm8x4
)

// Size returns the size in bytes of f, or -1 if f is not
// a valid format.
func (f VertexFmt) Size() int {
	switch f {
	case UNorm8x4:
		return 4
	case Int32, UInt32, Float32:
		return 4
	case Int32x2, UInt32x2, Float32x2:
		return 8
	case Int32x3, UInt32x3, Float32x3:
		return 12
	case Int32x4, UInt32x4, Float32x4:
		return 16
	}
	return -1
}

// VertexIn is a single vertex attribute read from its own
// buffer binding at shader location Nr.
// Attributes are never interleaved: each one advances
// by Stride bytes per vertex.
type VertexIn struct {
	Format VertexFmt
	Stride int
	Nr     int
	Name   string
}

// Topology is the way in which vertices are assembled
// into primitives.
type Topology int

// Primitive topologies.
const (
	TPoint Topology = iota
	TLine
	TLnStrip
	TTriangle
	TTriStrip
)

// IndexFmt is the type of index data. Its value is the
// size of one index in bytes.
type IndexFmt int

// Index formats.
const (
	Index16 IndexFmt = 2
	Index32 IndexFmt = 4
)

// Viewport maps normalized device coordinates to the
// render target. Znear and Zfar are in [0, 1].
type Viewport struct {
	X, Y, Width, Height, Znear, Zfar float32
}

// Scissor is a rectangle in framebuffer coordinates
// outside of which fragments are discarded.
type Scissor struct {
	X, Y, Width, Height int
}

// CullMode selects which triangle faces are discarded.
type CullMode int

// Cull modes.
const (
	CNone CullMode = iota
	CFront
	CBack
)

// RasterState is the fixed rasterization state of a
// graphics pipeline.
type RasterState struct {
	// Front faces wind clockwise if set.
	Clockwise bool
	Cull      CullMode
	// BiasValue, BiasSlope and BiasClamp are ignored
	// unless DepthBias is set.
	DepthBias bool
	BiasValue float32
	BiasSlope float32
	BiasClamp float32
}

// CmpFunc is a comparison used by depth, stencil and
// sampler compare tests.
type CmpFunc int

// Comparison functions.
const (
	CNever CmpFunc = iota
	CLess
	CEqual
	CLessEqual
	CGreater
	CNotEqual
	CGreaterEqual
	CAlways
)

// StencilOp is the update applied to a stencil value.
type StencilOp int

// Stencil operations.
const (
	SKeep StencilOp = iota
	SZero
	SReplace
	SIncClamp
	SDecClamp
	SInvert
	SIncWrap
	SDecWrap
)

// StencilT is the stencil test of one face.
// DSFail[0] applies when the depth test fails and
// DSFail[1] when the stencil test fails.
type StencilT struct {
	DSFail    [2]StencilOp
	Pass      StencilOp
	ReadMask  uint32
	WriteMask uint32
	Cmp       CmpFunc
}

// DSState holds the depth and stencil tests of a
// graphics pipeline.
type DSState struct {
	DepthTest   bool
	DepthWrite  bool
	DepthCmp    CmpFunc
	StencilTest bool
	Front       StencilT
	Back        StencilT
}

// BlendOp combines the weighted source and destination.
type BlendOp int

// Blend operations.
const (
	BAdd BlendOp = iota
	BSubtract
	BRevSubtract
	BMin
	BMax
)

// BlendFac is the weight of a blend operand.
type BlendFac int

// Blend factors.
const (
	BZero BlendFac = iota
	BOne
	BSrcColor
	BInvSrcColor
	BSrcAlpha
	BInvSrcAlpha
	BDstColor
	BInvDstColor
	BDstAlpha
	BInvDstAlpha
	BSrcAlphaSaturated
	BBlendColor
	BInvBlendColor
)

// ColorMask selects the channels written to a color
// target.
type ColorMask int

// Color channels.
const (
	CRed ColorMask = 1 << iota
	CGreen
	CBlue
	CAlpha

	CAll ColorMask = 1<<iota - 1
)

// ColorBlend is the blending of one color target.
// Op and the factors are indexed by component: color
// first, then alpha.
type ColorBlend struct {
	Blend     bool
	WriteMask ColorMask
	Op        [2]BlendOp
	SrcFac    [2]BlendFac
	DstFac    [2]BlendFac
}

// BlendState holds the blending of every color target.
// If IndependentBlend is false, only Color[0] is used.
type BlendState struct {
	IndependentBlend bool
	Color            []ColorBlend
}

// GraphState is everything needed to create a graphics
// pipeline.
// ColorFmt and DSFmt define the valid use of a graphics
// pipeline: it must only be used in render passes whose
// attachments have these formats and Samples samples.
// DSFmt is FNone when the pass has no depth/stencil
// attachment.
type GraphState struct {
	VertFunc ShaderFunc
	FragFunc ShaderFunc
	Desc     []DescLayout
	Input    []VertexIn
	Topology Topology
	Raster   RasterState
	Samples  int
	DS       DSState
	Blend    BlendState
	ColorFmt []PixelFmt
	DSFmt    PixelFmt
}

// CompState is everything needed to create a compute
// pipeline.
type CompState struct {
	Func ShaderFunc
	Desc []DescLayout
}

// Pipeline is a compiled graphics or compute pipeline.
type Pipeline interface {
	Destroyer
}

// Usage is a set of ways in which a buffer or image may
// be used.
type Usage int

// Resource usages.
// UShaderConst, UVertexData and UIndexData apply to
// buffers. UShaderSample and URenderTarget apply to
// images.
const (
	UShaderRead Usage = 1 << iota
	UShaderWrite
	UShaderConst
	UShaderSample
	UVertexData
	UIndexData
	URenderTarget
	UCopySrc
	UCopyDst

	UGeneric Usage = 1<<iota - 1
)

// Buffer is a linear range of GPU memory.
// Buffers cannot grow. Reallocation is done by creating
// another buffer and copying the contents.
type Buffer interface {
	Destroyer

	// Visible reports whether the CPU can access the
	// buffer's memory.
	Visible() bool

	// Bytes returns the mapped memory of a visible
	// buffer, of length Cap, or nil otherwise.
	// It can be used until the buffer is destroyed.
	Bytes() []byte

	// Cap returns the actual size of the buffer, which
	// may exceed the size that was requested.
	Cap() int64
}

// Dim3D is an extent in texels.
type Dim3D struct {
	Width, Height, Depth int
}

// Off3D is an offset in texels.
type Off3D struct {
	X, Y, Z int
}

// ImageDim is the dimensionality of an image.
// Cube images are 2D images with a multiple of 6 layers.
type ImageDim int

// Image dimensions.
const (
	Img1D ImageDim = iota
	Img2D
	Img3D
)

// Image is a formatted GPU image. Its memory is never
// mapped, so uploads go through a staging buffer.
type Image interface {
	Destroyer

	// NewView creates a view of the subresources in
	// [layer, layer+layers) x [level, level+levels).
	// typ must be compatible with the image: a cube view
	// requires 6 layers per cube, an array view may cover
	// a single layer and a 3D view requires a 3D image.
	// Views must be destroyed before their image.
	NewView(typ ViewType, layer, layers, level, levels int) (ImageView, error)
}

// ViewType is the type of an image view.
type ViewType int

// View types.
const (
	IView1D ViewType = iota
	IView2D
	IView3D
	IViewCube
	IView1DArray
	IView2DArray
	IViewCubeArray
	IView2DMS
	IView2DMSArray
)

// ImageView is a typed range of an Image's subresources.
type ImageView interface {
	Destroyer
}

// Filter is a sampler filter.
type Filter int

// Filters.
const (
	FNearest Filter = iota
	FLinear
	// FNoMipmap restricts sampling to the base level.
	// It can only be used as Sampling.Mipmap.
	FNoMipmap
)

// AddrMode says how texture coordinates outside of
// [0, 1] are handled.
type AddrMode int

// Address modes.
const (
	AWrap AddrMode = iota
	AMirror
	AClamp
)

// Sampler is an immutable sampler object.
type Sampler interface {
	Destroyer
}

// Sampling is the state of a sampler.
// Cmp is only used if Compare is set.
type Sampling struct {
	Min      Filter
	Mag      Filter
	Mipmap   Filter
	AddrU    AddrMode
	AddrV    AddrMode
	AddrW    AddrMode
	MaxAniso int
	Compare  bool
	Cmp      CmpFunc
	MinLOD   float32
	MaxLOD   float32
}

// Limits are the device limits reported by a GPU.
type Limits struct {
	// Image extents, per dimension.
	MaxImage1D   int
	MaxImage2D   int
	MaxImageCube int
	MaxImage3D   int
	MaxLayers    int

	// Maximum number of descriptor sets bound to a
	// pipeline.
	MaxDescSets int
	// Largest range of DBuffer and DConstant bindings.
	MaxDBufferRange   int64
	MaxDConstantRange int64
	// Required alignment of constant buffer offsets.
	MinConstantAlign int64

	MaxColorTargets int
	MaxVertexIn     int

	// Group counts of a single dispatch, per dimension.
	MaxDispatch   [3]int
	MaxBufferSize int64
}

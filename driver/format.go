// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"github.com/gogpu/gputypes"
)

// PixelFmt is the texel format of an image.
// Names list the channels followed by the bit width and
// the numeric type: un (unorm), n (snorm), f (float),
// ui (uint) and sRGB.
type PixelFmt int

// FInternal marks formats that a backend reserves for
// its own images. Images are never created with them.
const FInternal PixelFmt = 1 << 30

// FNone denotes the absence of a format.
const FNone PixelFmt = -1

func (f PixelFmt) IsInternal() bool { return f >= 0 && f&FInternal == FInternal }

// Pixel formats.
const (
	RGBA8un PixelFmt = iota
	RGBA8n
	RGBA8sRGB
	BGRA8un
	BGRA8sRGB
	RG8un
	RG8n
	R8un
	R8n
	RGBA16f
	RG16f
	R16f
	RGBA32f
	RG32f
	R32f
	R32ui
	// Depth and stencil formats follow.
	D16un
	D32f
	S8ui
	D24unS8ui
	D32fS8ui

	nPixelFmt
)

// Size returns the size in bytes of a single pixel of
// format f.
// It returns 0 for FNone and unknown formats.
// Combined depth/stencil formats report the size of a
// texel as copied to a buffer by aspect-less copies.
func (f PixelFmt) Size() int {
	switch f {
	case RGBA8un, RGBA8n, RGBA8sRGB, BGRA8un, BGRA8sRGB:
		return 4
	case RG8un, RG8n:
		return 2
	case R8un, R8n, S8ui:
		return 1
	case RGBA16f:
		return 8
	case RG16f, R32f, R32ui, D32f, D24unS8ui:
		return 4
	case R16f, D16un:
		return 2
	case RGBA32f:
		return 16
	case RG32f, D32fS8ui:
		return 8
	}
	return 0
}

// IsDepth returns whether f has a depth aspect.
func (f PixelFmt) IsDepth() bool {
	switch f {
	case D16un, D32f, D24unS8ui, D32fS8ui:
		return true
	}
	return false
}

// HasStencil returns whether f has a stencil aspect.
func (f PixelFmt) HasStencil() bool {
	switch f {
	case S8ui, D24unS8ui, D32fS8ui:
		return true
	}
	return false
}

// IsDS returns whether f is a depth and/or stencil format.
func (f PixelFmt) IsDS() bool { return f.IsDepth() || f.HasStencil() }

// IsColor returns whether f is a valid color format.
func (f PixelFmt) IsColor() bool { return f >= RGBA8un && f < nPixelFmt && !f.IsDS() }

// IsInteger returns whether f is a non-normalized integer
// color format.
func (f PixelFmt) IsInteger() bool { return f == R32ui }

// IsValid returns whether f is one of the known formats.
func (f PixelFmt) IsValid() bool { return f >= RGBA8un && f < nPixelFmt }

func (f PixelFmt) String() string {
	switch f {
	case FNone:
		return "none"
	case RGBA8un:
		return "RGBA8un"
	case RGBA8n:
		return "RGBA8n"
	case RGBA8sRGB:
		return "RGBA8sRGB"
	case BGRA8un:
		return "BGRA8un"
	case BGRA8sRGB:
		return "BGRA8sRGB"
	case RG8un:
		return "RG8un"
	case RG8n:
		return "RG8n"
	case R8un:
		return "R8un"
	case R8n:
		return "R8n"
	case RGBA16f:
		return "RGBA16f"
	case RG16f:
		return "RG16f"
	case R16f:
		return "R16f"
	case RGBA32f:
		return "RGBA32f"
	case RG32f:
		return "RG32f"
	case R32f:
		return "R32f"
	case R32ui:
		return "R32ui"
	case D16un:
		return "D16un"
	case D32f:
		return "D32f"
	case S8ui:
		return "S8ui"
	case D24unS8ui:
		return "D24unS8ui"
	case D32fS8ui:
		return "D32fS8ui"
	}
	return "invalid"
}

// Buffer-to-image copies require these alignments.
const (
	// Alignment of BufImgCopy.BufOff.
	CopyOffAlign = 512
	// Alignment of a row, in bytes, for BufImgCopy.
	CopyRowAlign = 256
	// Alignment of buffer copy offsets and sizes.
	CopyAlign = 4
)

// RowPitch returns the number of bytes of a row of width
// pixels of format f when stored in a buffer for use in
// a buffer-to-image copy.
func RowPitch(f PixelFmt, width int) int64 {
	n := int64(f.Size() * width)
	return (n + CopyRowAlign - 1) &^ (CopyRowAlign - 1)
}

// TextureFormat returns the gputypes equivalent of f, or
// gputypes.TextureFormatUndefined if f is not a valid format.
func (f PixelFmt) TextureFormat() gputypes.TextureFormat {
	switch f {
	case RGBA8un:
		return gputypes.TextureFormatRGBA8Unorm
	case RGBA8n:
		return gputypes.TextureFormatRGBA8Snorm
	case RGBA8sRGB:
		return gputypes.TextureFormatRGBA8UnormSrgb
	case BGRA8un:
		return gputypes.TextureFormatBGRA8Unorm
	case BGRA8sRGB:
		return gputypes.TextureFormatBGRA8UnormSrgb
	case RG8un:
		return gputypes.TextureFormatRG8Unorm
	case RG8n:
		return gputypes.TextureFormatRG8Snorm
	case R8un:
		return gputypes.TextureFormatR8Unorm
	case R8n:
		return gputypes.TextureFormatR8Snorm
	case RGBA16f:
		return gputypes.TextureFormatRGBA16Float
	case RG16f:
		return gputypes.TextureFormatRG16Float
	case R16f:
		return gputypes.TextureFormatR16Float
	case RGBA32f:
		return gputypes.TextureFormatRGBA32Float
	case RG32f:
		return gputypes.TextureFormatRG32Float
	case R32f:
		return gputypes.TextureFormatR32Float
	case R32ui:
		return gputypes.TextureFormatR32Uint
	case D16un:
		return gputypes.TextureFormatDepth16Unorm
	case D32f:
		return gputypes.TextureFormatDepth32Float
	case S8ui:
		return gputypes.TextureFormatStencil8
	case D24unS8ui:
		return gputypes.TextureFormatDepth24PlusStencil8
	case D32fS8ui:
		return gputypes.TextureFormatDepth32FloatStencil8
	}
	return gputypes.TextureFormatUndefined
}

// PixelFmtOf is the inverse of PixelFmt.TextureFormat.
// It returns FNone if f has no equivalent.
func PixelFmtOf(f gputypes.TextureFormat) PixelFmt {
	for pf := RGBA8un; pf.IsValid(); pf++ {
		if pf.TextureFormat() == f {
			return pf
		}
	}
	return FNone
}

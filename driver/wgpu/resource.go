// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// unsafeBytes returns a slice of size bytes starting at
// ptr, which must refer to persistently mapped memory.
func unsafeBytes(ptr unsafe.Pointer, size int64) []byte {
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), size)
}

// Semaphore implements driver.Semaphore.
// hal orders presentation after prior submissions on its
// single queue, so semaphores carry no state.
type Semaphore struct{}

// Destroy implements driver.Destroyer.
func (*Semaphore) Destroy() {}

// ShaderCode implements driver.ShaderCode.
type ShaderCode struct {
	gpu *GPU
	mod hal.ShaderModule
}

// Destroy implements driver.Destroyer.
func (s *ShaderCode) Destroy() {
	if s.mod != nil {
		s.gpu.dev.DestroyShaderModule(s.mod)
	}
	*s = ShaderCode{}
}

// Buffer implements driver.Buffer.
type Buffer struct {
	gpu     *GPU
	buf     hal.Buffer
	size    int64
	visible bool
	data    []byte
}

// Destroy implements driver.Destroyer.
func (b *Buffer) Destroy() {
	if b.buf != nil {
		if b.visible {
			if err := b.gpu.dev.UnmapBuffer(b.buf); err != nil {
				driver.Logger().Warn("wgpu: UnmapBuffer failed", "err", err)
			}
		}
		b.gpu.dev.DestroyBuffer(b.buf)
	}
	*b = Buffer{}
}

// Visible implements driver.Buffer.
func (b *Buffer) Visible() bool { return b.visible }

// Bytes implements driver.Buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Cap implements driver.Buffer.
func (b *Buffer) Cap() int64 { return b.size }

// Image implements driver.Image.
// Images acquired from a swapchain are not owned and
// their Destroy method only releases the wrapper.
type Image struct {
	gpu    *GPU
	tex    hal.Texture
	pf     driver.PixelFmt
	layers int
	levels int
	borrow bool
}

// Destroy implements driver.Destroyer.
func (img *Image) Destroy() {
	if img.tex != nil && !img.borrow {
		img.gpu.dev.DestroyTexture(img.tex)
	}
	*img = Image{}
}

// NewView implements driver.Image.
func (img *Image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	view, err := img.gpu.dev.CreateTextureView(img.tex, &hal.TextureViewDescriptor{
		Format:          convPixelFmt(img.pf),
		Dimension:       convViewType(typ),
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    uint32(level),
		MipLevelCount:   uint32(levels),
		BaseArrayLayer:  uint32(layer),
		ArrayLayerCount: uint32(layers),
	})
	if err != nil {
		return nil, convErr(err)
	}
	return &ImageView{gpu: img.gpu, pf: img.pf, view: view}, nil
}

// ImageView implements driver.ImageView.
type ImageView struct {
	gpu  *GPU
	pf   driver.PixelFmt
	view hal.TextureView
}

// Destroy implements driver.Destroyer.
func (v *ImageView) Destroy() {
	if v.view != nil {
		v.gpu.dev.DestroyTextureView(v.view)
	}
	*v = ImageView{}
}

// Sampler implements driver.Sampler.
type Sampler struct {
	gpu  *GPU
	splr hal.Sampler
}

// Destroy implements driver.Destroyer.
func (s *Sampler) Destroy() {
	if s.splr != nil {
		s.gpu.dev.DestroySampler(s.splr)
	}
	*s = Sampler{}
}

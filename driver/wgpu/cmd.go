// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// CmdBuffer implements driver.CmdBuffer.
// It wraps a hal command encoder. End produces the hal
// command buffer that Queue.Submit consumes, which is
// freed on the next Begin or Reset.
type CmdBuffer struct {
	gpu  *GPU
	typ  driver.QueueType
	enc  hal.CommandEncoder
	done hal.CommandBuffer

	recording bool
	rp        hal.RenderPassEncoder
	cp        hal.ComputePassEncoder
	marks     []string
	label     string
}

func (cb *CmdBuffer) free() {
	if cb.done != nil {
		cb.gpu.dev.FreeCommandBuffer(cb.done)
		cb.done = nil
	}
}

// Destroy implements driver.Destroyer.
func (cb *CmdBuffer) Destroy() {
	cb.Reset()
	cb.enc.Destroy()
	*cb = CmdBuffer{}
}

// Begin implements driver.CmdBuffer.
func (cb *CmdBuffer) Begin() error {
	if cb.recording {
		return errors.AssertionFailedf("wgpu: Begin called on a recording command buffer")
	}
	cb.free()
	if err := cb.enc.BeginEncoding(cb.typ.String()); err != nil {
		return convErr(err)
	}
	cb.recording = true
	return nil
}

// BeginPass implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginPass(pass *driver.PassDesc) {
	desc := hal.RenderPassDescriptor{
		Label:            cb.label,
		ColorAttachments: make([]hal.RenderPassColorAttachment, len(pass.Color)),
	}
	for i, c := range pass.Color {
		att := &desc.ColorAttachments[i]
		att.View = c.View.(*ImageView).view
		if c.Resolve != nil {
			att.ResolveTarget = c.Resolve.(*ImageView).view
		}
		att.LoadOp = convLoadOp(c.Load)
		att.StoreOp = convStoreOp(c.Store)
		att.ClearValue = gputypes.Color{
			R: float64(c.Clear[0]),
			G: float64(c.Clear[1]),
			B: float64(c.Clear[2]),
			A: float64(c.Clear[3]),
		}
	}
	if ds := pass.DS; ds != nil {
		v := ds.View.(*ImageView)
		att := &hal.RenderPassDepthStencilAttachment{
			View:              v.view,
			DepthClearValue:   ds.Depth,
			StencilClearValue: ds.Stencil,
			DepthReadOnly:     ds.ReadOnly,
			StencilReadOnly:   ds.ReadOnly,
		}
		if v.pf.IsDepth() {
			att.DepthLoadOp = convLoadOp(ds.Load[0])
			att.DepthStoreOp = convStoreOp(ds.Store[0])
		}
		if v.pf.HasStencil() {
			att.StencilLoadOp = convLoadOp(ds.Load[1])
			att.StencilStoreOp = convStoreOp(ds.Store[1])
		}
		desc.DepthStencilAttachment = att
	}
	cb.rp = cb.enc.BeginRenderPass(&desc)
}

// EndPass implements driver.CmdBuffer.
func (cb *CmdBuffer) EndPass() {
	cb.rp.End()
	cb.rp = nil
}

// BeginWork implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginWork() {
	cb.cp = cb.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: cb.label})
}

// EndWork implements driver.CmdBuffer.
func (cb *CmdBuffer) EndWork() {
	cb.cp.End()
	cb.cp = nil
}

// SetPipeline implements driver.CmdBuffer.
func (cb *CmdBuffer) SetPipeline(pl driver.Pipeline) {
	p := pl.(*Pipeline)
	switch {
	case p.render != nil && cb.rp != nil:
		cb.rp.SetPipeline(p.render)
	case p.compute != nil && cb.cp != nil:
		cb.cp.SetPipeline(p.compute)
	default:
		driver.Logger().Warn("wgpu: SetPipeline outside of a matching pass")
	}
}

// SetViewport implements driver.CmdBuffer.
func (cb *CmdBuffer) SetViewport(vp driver.Viewport) {
	cb.rp.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.Znear, vp.Zfar)
}

// SetScissor implements driver.CmdBuffer.
func (cb *CmdBuffer) SetScissor(sciss driver.Scissor) {
	cb.rp.SetScissorRect(uint32(sciss.X), uint32(sciss.Y), uint32(sciss.Width), uint32(sciss.Height))
}

// SetBlendColor implements driver.CmdBuffer.
func (cb *CmdBuffer) SetBlendColor(r, g, b, a float32) {
	cb.rp.SetBlendConstant(&gputypes.Color{R: float64(r), G: float64(g), B: float64(b), A: float64(a)})
}

// SetStencilRef implements driver.CmdBuffer.
func (cb *CmdBuffer) SetStencilRef(value uint32) { cb.rp.SetStencilReference(value) }

// SetVertexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {
	for i := range buf {
		cb.rp.SetVertexBuffer(uint32(start+i), buf[i].(*Buffer).buf, uint64(off[i]))
	}
}

// SetIndexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {
	cb.rp.SetIndexBuffer(buf.(*Buffer).buf, convIndexFmt(format), uint64(off))
}

// SetDescSet implements driver.CmdBuffer.
func (cb *CmdBuffer) SetDescSet(start int, set []driver.DescSet) {
	for i := range set {
		grp := set[i].(*DescSet).grp
		switch {
		case cb.rp != nil:
			cb.rp.SetBindGroup(uint32(start+i), grp, nil)
		case cb.cp != nil:
			cb.cp.SetBindGroup(uint32(start+i), grp, nil)
		}
	}
}

// Draw implements driver.CmdBuffer.
func (cb *CmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) {
	cb.rp.Draw(uint32(vertCount), uint32(instCount), uint32(baseVert), uint32(baseInst))
}

// DrawIndexed implements driver.CmdBuffer.
func (cb *CmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	cb.rp.DrawIndexed(uint32(idxCount), uint32(instCount), uint32(baseIdx), int32(vertOff), uint32(baseInst))
}

// Dispatch implements driver.CmdBuffer.
func (cb *CmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	cb.cp.Dispatch(uint32(grpCountX), uint32(grpCountY), uint32(grpCountZ))
}

// CopyBuffer implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	cb.enc.CopyBufferToBuffer(param.From.(*Buffer).buf, param.To.(*Buffer).buf, []hal.BufferCopy{{
		SrcOffset: uint64(param.FromOff),
		DstOffset: uint64(param.ToOff),
		Size:      uint64(param.Size),
	}})
}

// texCopy converts an image location, using the array
// layer as the z origin of layered images.
func texCopy(img *Image, off driver.Off3D, layer, level int, aspect gputypes.TextureAspect) hal.ImageCopyTexture {
	z := off.Z
	if img.layers > 1 || layer > 0 {
		z = layer
	}
	return hal.ImageCopyTexture{
		Texture:  img.tex,
		MipLevel: uint32(level),
		Origin:   hal.Origin3D{X: uint32(off.X), Y: uint32(off.Y), Z: uint32(z)},
		Aspect:   aspect,
	}
}

func extent(size driver.Dim3D, layers int) hal.Extent3D {
	return hal.Extent3D{
		Width:              uint32(max(size.Width, 1)),
		Height:             uint32(max(size.Height, 1)),
		DepthOrArrayLayers: uint32(max(size.Depth, layers, 1)),
	}
}

// CopyImage implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImage(param *driver.ImageCopy) {
	from := param.From.(*Image)
	to := param.To.(*Image)
	cb.enc.CopyTextureToTexture(from.tex, to.tex, []hal.TextureCopy{{
		SrcBase: texCopy(from, param.FromOff, param.FromLayer, param.FromLevel, gputypes.TextureAspectAll),
		DstBase: texCopy(to, param.ToOff, param.ToLayer, param.ToLevel, gputypes.TextureAspectAll),
		Size:    extent(param.Size, param.Layers),
	}})
}

func bufImgCopy(param *driver.BufImgCopy) (*Image, []hal.BufferTextureCopy) {
	img := param.Img.(*Image)
	return img, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       uint64(param.BufOff),
			BytesPerRow:  uint32(param.Stride[0] * int64(img.pf.Size())),
			RowsPerImage: uint32(param.Stride[1]),
		},
		TextureBase: texCopy(img, param.ImgOff, param.Layer, param.Level, convAspect(img.pf, param.DepthCopy)),
		Size:        extent(param.Size, 1),
	}}
}

// CopyBufToImg implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyBufToImg(param *driver.BufImgCopy) {
	img, regions := bufImgCopy(param)
	cb.enc.CopyBufferToTexture(param.Buf.(*Buffer).buf, img.tex, regions)
}

// CopyImgToBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImgToBuf(param *driver.BufImgCopy) {
	img, regions := bufImgCopy(param)
	cb.enc.CopyTextureToBuffer(img.tex, param.Buf.(*Buffer).buf, regions)
}

// Transition implements driver.CmdBuffer.
// Transitions to LPresent are left to the presentation
// engine.
func (cb *CmdBuffer) Transition(t []driver.Transition) {
	barriers := make([]hal.TextureBarrier, 0, len(t))
	for i := range t {
		if t[i].LayoutAfter == driver.LPresent {
			continue
		}
		img := t[i].Img.(*Image)
		barriers = append(barriers, hal.TextureBarrier{
			Texture: img.tex,
			Range: hal.TextureRange{
				Aspect:          gputypes.TextureAspectAll,
				BaseMipLevel:    uint32(t[i].Level),
				MipLevelCount:   uint32(t[i].Levels),
				BaseArrayLayer:  uint32(t[i].Layer),
				ArrayLayerCount: uint32(t[i].Layers),
			},
			Usage: hal.TextureUsageTransition{
				OldUsage: usageOf(t[i].LayoutBefore),
				NewUsage: usageOf(t[i].LayoutAfter),
			},
		})
	}
	if len(barriers) > 0 {
		cb.enc.TransitionTextures(barriers)
	}
}

// BeginMarker implements driver.CmdBuffer.
// hal encoders have no debug groups, so markers only
// label the passes that begin within them.
func (cb *CmdBuffer) BeginMarker(label string) {
	cb.marks = append(cb.marks, label)
	cb.label = label
}

// EndMarker implements driver.CmdBuffer.
func (cb *CmdBuffer) EndMarker() {
	if n := len(cb.marks); n > 0 {
		cb.marks = cb.marks[:n-1]
	}
	cb.label = ""
	if n := len(cb.marks); n > 0 {
		cb.label = cb.marks[n-1]
	}
}

// End implements driver.CmdBuffer.
func (cb *CmdBuffer) End() error {
	if !cb.recording {
		return errors.AssertionFailedf("wgpu: End called on a command buffer not recording")
	}
	if cb.rp != nil || cb.cp != nil {
		cb.Reset()
		return errors.AssertionFailedf("wgpu: End called within a pass")
	}
	done, err := cb.enc.EndEncoding()
	cb.recording = false
	cb.marks = cb.marks[:0]
	cb.label = ""
	if err != nil {
		return convErr(err)
	}
	cb.done = done
	return nil
}

// Reset implements driver.CmdBuffer.
func (cb *CmdBuffer) Reset() error {
	if cb.rp != nil {
		cb.rp.End()
		cb.rp = nil
	}
	if cb.cp != nil {
		cb.cp.End()
		cb.cp = nil
	}
	if cb.recording {
		cb.enc.DiscardEncoding()
		cb.recording = false
	}
	cb.free()
	cb.marks = cb.marks[:0]
	cb.label = ""
	return nil
}

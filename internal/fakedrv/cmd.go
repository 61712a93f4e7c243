// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package fakedrv

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

// Op identifies a recorded command.
type Op int

// Recorded commands.
const (
	OpBeginPass Op = iota
	OpEndPass
	OpBeginWork
	OpEndWork
	OpSetPipeline
	OpSetViewport
	OpSetScissor
	OpSetBlendColor
	OpSetStencilRef
	OpSetVertexBuf
	OpSetIndexBuf
	OpSetDescSet
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpCopyBuffer
	OpCopyImage
	OpCopyBufToImg
	OpCopyImgToBuf
	OpTransition
	OpBeginMarker
	OpEndMarker
)

// Cmd is a recorded command.
// Arg holds a copy of the command's parameters: *PassDesc,
// []driver.Transition, *driver.BufImgCopy and so on.
type Cmd struct {
	Op  Op
	Arg any
}

type cbState int

const (
	initial cbState = iota
	recording
	executable
	pending
)

// CmdBuffer implements driver.CmdBuffer.
// It panics when a command is recorded in an invalid
// state (e.g., a copy or transition within a render pass).
type CmdBuffer struct {
	gpu   *GPU
	typ   driver.QueueType
	state cbState
	pass  bool
	work  bool
	marks int
	Cmds  []Cmd
}

func (cb *CmdBuffer) rec(op Op, arg any) {
	if cb.state != recording {
		panic("fakedrv: command recorded outside of Begin/End")
	}
	cb.Cmds = append(cb.Cmds, Cmd{op, arg})
}

func (cb *CmdBuffer) outside(what string) {
	if cb.pass || cb.work {
		panic("fakedrv: " + what + " recorded within a render pass or compute work")
	}
}

// Count returns the number of recorded commands of type op.
func (cb *CmdBuffer) Count(op Op) (n int) {
	for i := range cb.Cmds {
		if cb.Cmds[i].Op == op {
			n++
		}
	}
	return
}

// Transitions returns every recorded transition, in order.
func (cb *CmdBuffer) Transitions() (t []driver.Transition) {
	for i := range cb.Cmds {
		if cb.Cmds[i].Op == OpTransition {
			t = append(t, cb.Cmds[i].Arg.([]driver.Transition)...)
		}
	}
	return
}

// InPass returns whether a render pass is active.
func (cb *CmdBuffer) InPass() bool { return cb.pass }

// Destroy implements driver.Destroyer.
func (cb *CmdBuffer) Destroy() {
	if cb.gpu == nil {
		panic("fakedrv: cmdbuf destroyed twice")
	}
	cb.gpu.destroy("cmdbuf")
	cb.gpu = nil
}

// Begin implements driver.CmdBuffer.
func (cb *CmdBuffer) Begin() error {
	switch cb.state {
	case initial:
	case pending:
		// Recycled by the caller after completion.
		cb.Cmds = cb.Cmds[:0]
	default:
		return errors.New("fakedrv: Begin called on a command buffer in use")
	}
	cb.state = recording
	return nil
}

// BeginPass implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginPass(pass *driver.PassDesc) {
	cb.outside("BeginPass")
	p := *pass
	p.Color = append([]driver.ColorTarget(nil), pass.Color...)
	if pass.DS != nil {
		ds := *pass.DS
		p.DS = &ds
	}
	cb.rec(OpBeginPass, &p)
	cb.pass = true
}

// EndPass implements driver.CmdBuffer.
func (cb *CmdBuffer) EndPass() {
	if !cb.pass {
		panic("fakedrv: EndPass without BeginPass")
	}
	cb.rec(OpEndPass, nil)
	cb.pass = false
}

// BeginWork implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginWork() {
	cb.outside("BeginWork")
	cb.rec(OpBeginWork, nil)
	cb.work = true
}

// EndWork implements driver.CmdBuffer.
func (cb *CmdBuffer) EndWork() {
	if !cb.work {
		panic("fakedrv: EndWork without BeginWork")
	}
	cb.rec(OpEndWork, nil)
	cb.work = false
}

// SetPipeline implements driver.CmdBuffer.
func (cb *CmdBuffer) SetPipeline(pl driver.Pipeline) { cb.rec(OpSetPipeline, pl) }

// SetViewport implements driver.CmdBuffer.
func (cb *CmdBuffer) SetViewport(vp driver.Viewport) { cb.rec(OpSetViewport, vp) }

// SetScissor implements driver.CmdBuffer.
func (cb *CmdBuffer) SetScissor(sciss driver.Scissor) { cb.rec(OpSetScissor, sciss) }

// SetBlendColor implements driver.CmdBuffer.
func (cb *CmdBuffer) SetBlendColor(r, g, b, a float32) {
	cb.rec(OpSetBlendColor, [4]float32{r, g, b, a})
}

// SetStencilRef implements driver.CmdBuffer.
func (cb *CmdBuffer) SetStencilRef(value uint32) { cb.rec(OpSetStencilRef, value) }

// VertexBufArg is the Arg of OpSetVertexBuf.
type VertexBufArg struct {
	Start int
	Buf   []driver.Buffer
	Off   []int64
}

// SetVertexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {
	cb.rec(OpSetVertexBuf, VertexBufArg{start, append([]driver.Buffer(nil), buf...), append([]int64(nil), off...)})
}

// IndexBufArg is the Arg of OpSetIndexBuf.
type IndexBufArg struct {
	Format driver.IndexFmt
	Buf    driver.Buffer
	Off    int64
}

// SetIndexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {
	cb.rec(OpSetIndexBuf, IndexBufArg{format, buf, off})
}

// DescSetArg is the Arg of OpSetDescSet.
type DescSetArg struct {
	Start int
	Set   []driver.DescSet
}

// SetDescSet implements driver.CmdBuffer.
func (cb *CmdBuffer) SetDescSet(start int, set []driver.DescSet) {
	cb.rec(OpSetDescSet, DescSetArg{start, append([]driver.DescSet(nil), set...)})
}

// Draw implements driver.CmdBuffer.
func (cb *CmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) {
	if !cb.pass {
		panic("fakedrv: Draw outside of render pass")
	}
	cb.rec(OpDraw, [4]int{vertCount, instCount, baseVert, baseInst})
}

// DrawIndexed implements driver.CmdBuffer.
func (cb *CmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	if !cb.pass {
		panic("fakedrv: DrawIndexed outside of render pass")
	}
	cb.rec(OpDrawIndexed, [5]int{idxCount, instCount, baseIdx, vertOff, baseInst})
}

// Dispatch implements driver.CmdBuffer.
func (cb *CmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	if !cb.work {
		panic("fakedrv: Dispatch outside of compute work")
	}
	cb.rec(OpDispatch, [3]int{grpCountX, grpCountY, grpCountZ})
}

// CopyBuffer implements driver.CmdBuffer.
// The copy takes effect immediately.
func (cb *CmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	cb.outside("CopyBuffer")
	p := *param
	cb.rec(OpCopyBuffer, &p)
	from := p.From.(*Buffer).data[p.FromOff : p.FromOff+p.Size]
	copy(p.To.(*Buffer).data[p.ToOff:], from)
}

// CopyImage implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImage(param *driver.ImageCopy) {
	cb.outside("CopyImage")
	p := *param
	cb.rec(OpCopyImage, &p)
}

// CopyBufToImg implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyBufToImg(param *driver.BufImgCopy) {
	cb.outside("CopyBufToImg")
	if param.BufOff%driver.CopyOffAlign != 0 {
		panic("fakedrv: misaligned BufImgCopy.BufOff")
	}
	p := *param
	cb.rec(OpCopyBufToImg, &p)
}

// CopyImgToBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImgToBuf(param *driver.BufImgCopy) {
	cb.outside("CopyImgToBuf")
	p := *param
	cb.rec(OpCopyImgToBuf, &p)
}

// Transition implements driver.CmdBuffer.
func (cb *CmdBuffer) Transition(t []driver.Transition) {
	if cb.pass {
		panic("fakedrv: Transition recorded within a render pass")
	}
	cb.rec(OpTransition, append([]driver.Transition(nil), t...))
}

// BeginMarker implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginMarker(label string) {
	cb.rec(OpBeginMarker, label)
	cb.marks++
}

// EndMarker implements driver.CmdBuffer.
func (cb *CmdBuffer) EndMarker() {
	if cb.marks == 0 {
		panic("fakedrv: EndMarker without BeginMarker")
	}
	cb.rec(OpEndMarker, nil)
	cb.marks--
}

// End implements driver.CmdBuffer.
func (cb *CmdBuffer) End() error {
	if cb.state != recording {
		return errors.New("fakedrv: End called on a command buffer not recording")
	}
	if cb.pass || cb.work {
		cb.Reset()
		return errors.New("fakedrv: End called within a render pass or compute work")
	}
	cb.state = executable
	return nil
}

// Reset implements driver.CmdBuffer.
func (cb *CmdBuffer) Reset() error {
	cb.state = initial
	cb.pass = false
	cb.work = false
	cb.marks = 0
	cb.Cmds = cb.Cmds[:0]
	return nil
}

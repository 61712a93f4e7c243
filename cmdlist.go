// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
	"github.com/gviegas/rhi/internal/bitvec"
)

const clPrefix = "rhi: command list: "

// CommandList records commands into a pooled command
// buffer of a CommandQueue.
// Render passes and compute work are begun and ended
// implicitly by the commands that need them, and texture
// layout transitions are inserted from the requirements
// of each command.
// A CommandList must be used by one goroutine at a time.
type CommandList struct {
	dev  *Device
	q    *CommandQueue
	pool *TransferMemoryPool
	cb   *CommandBuffer

	recording bool
	pass      bool
	passLabel bool
	work      bool
	marks     int
	// State bound in the current pass or work.
	bound  GraphicsState
	boundC ComputeState

	required []TextureBarrier
	trans    []driver.Transition
	lastID   uint64
}

// NewCommandList creates a CommandList for the queue of
// type typ. It has its own TransferMemoryPool.
func (d *Device) NewCommandList(typ QueueType) *CommandList {
	return &CommandList{
		dev:  d,
		q:    d.queues[typ],
		pool: d.NewTransferMemoryPool(typ),
	}
}

// Queue returns the queue that l submits to.
func (l *CommandList) Queue() *CommandQueue { return l.q }

// TransferPool returns the staging memory pool of l.
func (l *CommandList) TransferPool() *TransferMemoryPool { return l.pool }

// LastSubmissionID returns the ID of the last
// submission that included l.
func (l *CommandList) LastSubmissionID() uint64 { return l.lastID }

// CommandBuffer returns the command buffer being
// recorded, or nil.
func (l *CommandList) CommandBuffer() *CommandBuffer { return l.cb }

// BeginRecording prepares l for recording.
// The commands of a previous recording must have been
// executed.
func (l *CommandList) BeginRecording() error {
	if l.recording || l.cb != nil {
		assertf(clPrefix + "BeginRecording with pending commands")
	}
	cb, err := l.q.CreateCommandBuffer()
	if err != nil {
		return err
	}
	l.cb = cb
	l.recording = true
	l.pass, l.passLabel, l.work = false, false, false
	l.bound = GraphicsState{}
	l.boundC = ComputeState{}
	return nil
}

// EndRecording ends the recording. The commands can then
// be submitted with ExecuteCommandList.
// Pending texture requirements are flushed first.
func (l *CommandList) EndRecording() error {
	l.checkRecording()
	if l.marks != 0 {
		assertf(clPrefix+"EndRecording with %d open markers", l.marks)
	}
	l.FlushRequiredStates()
	l.endPass()
	l.endWork()
	l.recording = false
	if err := l.cb.cb.End(); err != nil {
		l.q.Discard(l.cb)
		l.cb = nil
		return errors.Wrap(err, clPrefix+"ending command buffer")
	}
	return nil
}

// Discard drops the commands recorded so far.
func (l *CommandList) Discard() {
	if l.cb != nil {
		l.q.Discard(l.cb)
		l.cb = nil
	}
	l.recording = false
	l.pass, l.passLabel, l.work = false, false, false
	l.marks = 0
	clear(l.required)
	l.required = l.required[:0]
}

// Destroy discards any unsubmitted commands and destroys
// the transfer pool of l.
func (l *CommandList) Destroy() {
	l.Discard()
	l.pool.Destroy()
}

func (l *CommandList) checkRecording() {
	if !l.recording {
		assertf(clPrefix + "not recording")
	}
}

func (l *CommandList) endPass() {
	if l.pass {
		l.cb.cb.EndPass()
		if l.passLabel {
			l.cb.cb.EndMarker()
			l.passLabel = false
		}
		l.pass = false
		l.bound = GraphicsState{}
	}
}

func (l *CommandList) endWork() {
	if l.work {
		l.cb.cb.EndWork()
		l.work = false
		l.boundC = ComputeState{}
	}
}

// beginPass begins a render pass on rt.
// Attachments are loaded unless clear selects them.
func (l *CommandList) beginPass(rt *RenderTarget, clearColor *[4]float32, clearDS *[2]float32) {
	pd := driver.PassDesc{Color: make([]driver.ColorTarget, len(rt.views))}
	for i, v := range rt.views {
		ct := driver.ColorTarget{View: v, Load: driver.LLoad, Store: driver.SStore}
		if clearColor != nil {
			ct.Load = driver.LClear
			ct.Clear = *clearColor
		}
		pd.Color[i] = ct
	}
	if rt.dsView != nil {
		ds := &driver.DSTarget{
			View:  rt.dsView,
			Load:  [2]driver.LoadOp{driver.LLoad, driver.LLoad},
			Store: [2]driver.StoreOp{driver.SStore, driver.SStore},
		}
		if clearDS != nil {
			ds.Load = [2]driver.LoadOp{driver.LClear, driver.LClear}
			ds.Depth = clearDS[0]
			ds.Stencil = uint32(clearDS[1])
		}
		pd.DS = ds
	}
	if l.dev.cfg.DebugNames && rt.name != "" {
		l.cb.cb.BeginMarker(rt.name)
		l.passLabel = true
	}
	l.cb.cb.BeginPass(&pd)
	l.cb.use(rt)
	l.pass = true
	l.bound = GraphicsState{Target: rt}
}

// RequireTextureState defers a layout requirement until
// the next flush.
func (l *CommandList) RequireTextureState(b TextureBarrier) {
	if b.Texture == nil {
		assertf(clPrefix + "texture barrier without texture")
	}
	l.required = append(l.required, b)
}

// SetTextureState overrides the tracked layout of a range
// of subresources without emitting a transition.
// It is meant for textures written outside of the
// tracked command stream.
func (l *CommandList) SetTextureState(t *Texture, r Subresources, layout Layout) {
	t.setLayout(r, layout)
}

// FlushRequiredStates emits the transitions that the
// pending requirements need and returns their number.
// Requirements that are already met emit nothing.
// An active render pass or compute work is ended before
// any transition.
func (l *CommandList) FlushRequiredStates() int {
	l.checkRecording()
	if len(l.required) == 0 {
		return 0
	}
	ts := l.trans[:0]
	for i := range l.required {
		b := &l.required[i]
		n := len(ts)
		ts = b.transitions(ts)
		if len(ts) > n {
			l.cb.use(b.Texture)
		}
	}
	clear(l.required)
	l.required = l.required[:0]
	l.trans = ts
	if len(ts) == 0 {
		return 0
	}
	l.endPass()
	l.endWork()
	l.cb.cb.Transition(ts)
	return len(ts)
}

// SetGraphicsState makes s the current draw state.
// Only the parts of s that differ from the bound state
// are emitted. Changing the render target ends the
// current render pass and begins another.
func (l *CommandList) SetGraphicsState(s *GraphicsState) {
	l.checkRecording()
	switch {
	case l.q.typ != driver.QGraphics:
		assertf(clPrefix+"graphics state on %s queue", l.q.typ)
	case s.Pipeline == nil || s.Pipeline.compute:
		assertf(clPrefix + "graphics state without graphics pipeline")
	case s.Target == nil:
		assertf(clPrefix + "graphics state without render target")
	case s.Pipeline.sig != s.Target.sig:
		assertf(clPrefix+"pipeline %q does not match render target %q", s.Pipeline.name, s.Target.name)
	}
	checkSets(s.Pipeline, &s.Sets)
	l.endWork()
	if l.pass && s.Target != l.bound.Target {
		l.endPass()
	}
	if !l.pass {
		l.required = s.Target.requirements(l.required)
	}
	for i, set := range s.Sets {
		if set != nil && set != l.bound.Sets[i] {
			l.required = append(l.required, set.uses...)
		}
	}
	l.FlushRequiredStates()
	if !l.pass {
		l.beginPass(s.Target, nil, nil)
	}
	l.applyGraphics(s)
}

func (l *CommandList) applyGraphics(s *GraphicsState) {
	cb, b := l.cb, &l.bound
	if s.Pipeline != b.Pipeline {
		cb.cb.SetPipeline(s.Pipeline.pl)
		cb.use(s.Pipeline)
		b.Pipeline = s.Pipeline
	}
	var dirty bitvec.V[uint8]
	dirty.GrowBits(MaxVertexBuffers)
	for i, vb := range s.Vertex {
		if vb.Buffer != nil && vb != b.Vertex[i] {
			if vb.Buffer.desc.Usage&BufferVertex == 0 {
				assertf(clPrefix+"buffer %q lacks vertex usage", vb.Buffer.name)
			}
			dirty.Set(i)
		}
	}
	for start, n := range dirty.Runs() {
		bufs := make([]driver.Buffer, n)
		offs := make([]int64, n)
		for j := range n {
			vb := s.Vertex[start+j]
			bufs[j] = vb.Buffer.buf
			offs[j] = vb.Offset
			cb.use(vb.Buffer)
			b.Vertex[start+j] = vb
		}
		cb.cb.SetVertexBuf(start, bufs, offs)
	}
	if ib := s.Index; ib.Buffer != nil && ib != b.Index {
		if ib.Format != driver.Index16 && ib.Format != driver.Index32 {
			assertf(clPrefix+"invalid index format %d", ib.Format)
		}
		if ib.Buffer.desc.Usage&BufferIndex == 0 {
			assertf(clPrefix+"buffer %q lacks index usage", ib.Buffer.name)
		}
		cb.cb.SetIndexBuf(ib.Format, ib.Buffer.buf, ib.Offset)
		cb.use(ib.Buffer)
		b.Index = ib
	}
	l.bindSets(&s.Sets, &b.Sets)
	if vp := s.viewport(); vp != b.Viewport {
		cb.cb.SetViewport(vp)
		b.Viewport = vp
	}
	if sc := s.scissor(); sc != b.Scissor {
		cb.cb.SetScissor(sc)
		b.Scissor = sc
	}
}

// bindSets emits the sets that differ from bound,
// coalescing contiguous slots into one call.
func (l *CommandList) bindSets(sets, bound *[MaxBindingSets]*BindingSet) {
	var dirty bitvec.V[uint8]
	dirty.GrowBits(MaxBindingSets)
	for i, set := range sets {
		if set != nil && set != bound[i] {
			dirty.Set(i)
		}
	}
	for start, n := range dirty.Runs() {
		ds := make([]driver.DescSet, n)
		for j := range n {
			set := sets[start+j]
			ds[j] = set.set
			l.cb.use(set)
			bound[start+j] = set
		}
		l.cb.cb.SetDescSet(start, ds)
	}
}

// SetComputeState makes s the current dispatch state.
func (l *CommandList) SetComputeState(s *ComputeState) {
	l.checkRecording()
	switch {
	case l.q.typ == driver.QCopy:
		assertf(clPrefix + "compute state on copy queue")
	case s.Pipeline == nil || !s.Pipeline.compute:
		assertf(clPrefix + "compute state without compute pipeline")
	}
	checkSets(s.Pipeline, &s.Sets)
	l.endPass()
	for i, set := range s.Sets {
		if set != nil && set != l.boundC.Sets[i] {
			l.required = append(l.required, set.uses...)
		}
	}
	l.FlushRequiredStates()
	if !l.work {
		l.cb.cb.BeginWork()
		l.work = true
	}
	b := &l.boundC
	if s.Pipeline != b.Pipeline {
		l.cb.cb.SetPipeline(s.Pipeline.pl)
		l.cb.use(s.Pipeline)
		b.Pipeline = s.Pipeline
	}
	l.bindSets(&s.Sets, &b.Sets)
}

// ClearColor clears every color attachment of rt.
// The render pass that clears is left active, so that a
// following SetGraphicsState on rt continues it.
func (l *CommandList) ClearColor(rt *RenderTarget, color [4]float32) {
	l.clear(rt, &color, nil)
}

// ClearDepthStencil clears the depth/stencil attachment
// of rt.
func (l *CommandList) ClearDepthStencil(rt *RenderTarget, depth float32, stencil uint32) {
	if rt.ds.Texture == nil {
		assertf(clPrefix+"render target %q has no depth/stencil attachment", rt.name)
	}
	l.clear(rt, nil, &[2]float32{depth, float32(stencil)})
}

func (l *CommandList) clear(rt *RenderTarget, color *[4]float32, ds *[2]float32) {
	l.checkRecording()
	if l.q.typ != driver.QGraphics {
		assertf(clPrefix+"clearing on %s queue", l.q.typ)
	}
	l.endPass()
	l.endWork()
	l.required = rt.requirements(l.required)
	l.FlushRequiredStates()
	l.beginPass(rt, color, ds)
}

// SetViewport sets the viewport of the active render
// pass.
func (l *CommandList) SetViewport(vp driver.Viewport) {
	l.checkPass("SetViewport")
	l.cb.cb.SetViewport(vp)
	l.bound.Viewport = vp
}

// SetScissor sets the scissor of the active render pass.
func (l *CommandList) SetScissor(sc driver.Scissor) {
	l.checkPass("SetScissor")
	l.cb.cb.SetScissor(sc)
	l.bound.Scissor = sc
}

func (l *CommandList) checkPass(what string) {
	l.checkRecording()
	if !l.pass || l.bound.Pipeline == nil {
		assertf(clPrefix+"%s without graphics state", what)
	}
}

// Draw draws primitives using the current graphics
// state.
func (l *CommandList) Draw(vertCount, instCount, baseVert, baseInst int) {
	l.checkPass("Draw")
	l.cb.cb.Draw(vertCount, instCount, baseVert, baseInst)
}

// DrawIndexed draws indexed primitives using the current
// graphics state.
func (l *CommandList) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	l.checkPass("DrawIndexed")
	if l.bound.Index.Buffer == nil {
		assertf(clPrefix + "DrawIndexed without index buffer")
	}
	l.cb.cb.DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst)
}

// Dispatch dispatches compute workgroups using the
// current compute state.
func (l *CommandList) Dispatch(x, y, z int) {
	l.checkRecording()
	if !l.work || l.boundC.Pipeline == nil {
		assertf(clPrefix + "Dispatch without compute state")
	}
	if lim := l.dev.limits.MaxDispatch; (lim[0] > 0 && x > lim[0]) || (lim[1] > 0 && y > lim[1]) || (lim[2] > 0 && z > lim[2]) {
		assertf(clPrefix+"dispatch %dx%dx%d exceeds %v", x, y, z, lim)
	}
	l.cb.cb.Dispatch(x, y, z)
}

// BeginMarker begins a labeled region of commands.
func (l *CommandList) BeginMarker(label string) {
	l.checkRecording()
	l.cb.cb.BeginMarker(label)
	l.marks++
}

// EndMarker ends the innermost labeled region.
func (l *CommandList) EndMarker() {
	l.checkRecording()
	if l.marks == 0 {
		assertf(clPrefix + "EndMarker without BeginMarker")
	}
	l.cb.cb.EndMarker()
	l.marks--
}

// beginTransfer ends any pass or work and flushes the
// pending requirements.
func (l *CommandList) beginTransfer() {
	l.checkRecording()
	l.FlushRequiredStates()
	l.endPass()
	l.endWork()
}

// WriteBuffer writes data to buf at off.
// Host-visible buffers are written immediately, so they
// must not be in use by the GPU. Other buffers are
// written through staging memory by a copy command, and
// off and len(data) must then be multiples of 4.
func (l *CommandList) WriteBuffer(buf *Buffer, off int64, data []byte) error {
	l.checkRecording()
	n := int64(len(data))
	if n == 0 {
		return nil
	}
	buf.checkRange(off, n)
	if buf.desc.Memory.visible() {
		copy(buf.Bytes()[off:], data)
		return nil
	}
	switch {
	case buf.desc.Usage&BufferTransferDst == 0:
		assertf(clPrefix+"buffer %q lacks transfer destination usage", buf.name)
	case off%driver.CopyAlign != 0 || n%driver.CopyAlign != 0:
		assertf(clPrefix+"misaligned buffer write (offset %d, size %d)", off, n)
	}
	mem, err := l.pool.Suballocate(n)
	if err != nil {
		return err
	}
	copy(mem.Bytes(), data)
	l.beginTransfer()
	l.cb.cb.CopyBuffer(&driver.BufferCopy{
		From:    mem.Buffer,
		FromOff: mem.Offset,
		To:      buf.buf,
		ToOff:   off,
		Size:    n,
	})
	l.cb.use(buf)
	return nil
}

// WriteTexture writes data to one subresource of tex.
// data must hold tightly packed rows for the whole
// extent of the level. The subresource is transitioned
// to LayoutCopyDst.
func (l *CommandList) WriteTexture(tex *Texture, level, layer int, data []byte) error {
	l.checkRecording()
	if tex.desc.Usage&TextureTransferDst == 0 {
		assertf(clPrefix+"texture %q lacks transfer destination usage", tex.name)
	}
	sub := tex.resolve(Subresources{level, 1, layer, 1})
	pf := tex.desc.Format
	ext := tex.Extent(level)
	row := int64(pf.Size() * ext.Width)
	rows := int64(ext.Height * ext.Depth)
	if int64(len(data)) != row*rows {
		assertf(clPrefix+"writing %d bytes to %q level %d (want %d)", len(data), tex.name, level, row*rows)
	}
	pitch := driver.RowPitch(pf, ext.Width)
	mem, err := l.pool.SuballocateAligned(pitch*rows, driver.CopyOffAlign)
	if err != nil {
		return err
	}
	dst := mem.Bytes()
	if pitch == row {
		copy(dst, data)
	} else {
		for i := range rows {
			copy(dst[i*pitch:], data[i*row:(i+1)*row])
		}
	}
	l.RequireTextureState(TextureBarrier{Texture: tex, Range: sub, Layout: LayoutCopyDst})
	l.beginTransfer()
	l.cb.cb.CopyBufToImg(&driver.BufImgCopy{
		Buf:       mem.Buffer,
		BufOff:    mem.Offset,
		Stride:    [2]int64{pitch / int64(pf.Size()), int64(ext.Height)},
		Img:       tex.img,
		Layer:     layer,
		Level:     level,
		Size:      ext,
		DepthCopy: pf.IsDepth(),
	})
	l.cb.use(tex)
	return nil
}

// CopyTextureToBuffer copies one subresource of tex to
// buf at off, which must be a multiple of 512.
// Rows are stored with the pitch given by
// driver.RowPitch.
func (l *CommandList) CopyTextureToBuffer(buf *Buffer, off int64, tex *Texture, level, layer int) {
	l.checkRecording()
	switch {
	case tex.desc.Usage&TextureTransferSrc == 0:
		assertf(clPrefix+"texture %q lacks transfer source usage", tex.name)
	case buf.desc.Usage&BufferTransferDst == 0:
		assertf(clPrefix+"buffer %q lacks transfer destination usage", buf.name)
	case off%driver.CopyOffAlign != 0:
		assertf(clPrefix+"misaligned texture readback offset %d", off)
	}
	sub := tex.resolve(Subresources{level, 1, layer, 1})
	pf := tex.desc.Format
	ext := tex.Extent(level)
	pitch := driver.RowPitch(pf, ext.Width)
	buf.checkRange(off, pitch*int64(ext.Height*ext.Depth))
	l.RequireTextureState(TextureBarrier{Texture: tex, Range: sub, Layout: LayoutCopySrc})
	l.beginTransfer()
	l.cb.cb.CopyImgToBuf(&driver.BufImgCopy{
		Buf:       buf.buf,
		BufOff:    off,
		Stride:    [2]int64{pitch / int64(pf.Size()), int64(ext.Height)},
		Img:       tex.img,
		Layer:     layer,
		Level:     level,
		Size:      ext,
		DepthCopy: pf.IsDepth(),
	})
	l.cb.use(tex)
	l.cb.use(buf)
}

// BlitRegion describes a texture-to-texture copy.
// A zero Size copies the whole source level and zero
// Layers means one.
type BlitRegion struct {
	SrcLevel  int
	SrcLayer  int
	SrcOffset driver.Off3D
	DstLevel  int
	DstLayer  int
	DstOffset driver.Off3D
	Size      driver.Dim3D
	Layers    int
}

// BlitTexture copies a region of src to dst.
// The textures must have the same format and sample
// count; no scaling is performed.
func (l *CommandList) BlitTexture(dst, src *Texture, reg BlitRegion) {
	l.checkRecording()
	switch {
	case src.desc.Usage&TextureTransferSrc == 0:
		assertf(clPrefix+"texture %q lacks transfer source usage", src.name)
	case dst.desc.Usage&TextureTransferDst == 0:
		assertf(clPrefix+"texture %q lacks transfer destination usage", dst.name)
	case src.desc.Format != dst.desc.Format || src.desc.Samples != dst.desc.Samples:
		assertf(clPrefix+"blitting %q to incompatible %q", src.name, dst.name)
	case src == dst:
		assertf(clPrefix+"blitting %q to itself", src.name)
	}
	reg.Layers = max(reg.Layers, 1)
	if reg.Size == (driver.Dim3D{}) {
		reg.Size = src.Extent(reg.SrcLevel)
	}
	srcSub := src.resolve(Subresources{reg.SrcLevel, 1, reg.SrcLayer, reg.Layers})
	dstSub := dst.resolve(Subresources{reg.DstLevel, 1, reg.DstLayer, reg.Layers})
	l.RequireTextureState(TextureBarrier{Texture: src, Range: srcSub, Layout: LayoutCopySrc})
	l.RequireTextureState(TextureBarrier{Texture: dst, Range: dstSub, Layout: LayoutCopyDst})
	l.beginTransfer()
	l.cb.cb.CopyImage(&driver.ImageCopy{
		From:      src.img,
		FromOff:   reg.SrcOffset,
		FromLayer: reg.SrcLayer,
		FromLevel: reg.SrcLevel,
		To:        dst.img,
		ToOff:     reg.DstOffset,
		ToLayer:   reg.DstLayer,
		ToLevel:   reg.DstLevel,
		Size:      reg.Size,
		Layers:    reg.Layers,
	})
	l.cb.use(src)
	l.cb.use(dst)
}

// ExecuteCommandList submits the recorded commands of
// lists as one batch and returns its submission ID.
// Every list must have ended recording and appear once,
// and all must use the same queue. Each list's transfer
// pool is tagged with the ID.
func ExecuteCommandList(lists ...*CommandList) (uint64, error) {
	if len(lists) == 0 {
		assertf(clPrefix + "executing no command lists")
	}
	q := lists[0].q
	bufs := make([]*CommandBuffer, len(lists))
	for i, l := range lists {
		switch {
		case l.q != q:
			assertf(clPrefix+"executing lists of %s and %s queues together", q.typ, l.q.typ)
		case l.recording:
			assertf(clPrefix + "executing list that is still recording")
		case l.cb == nil:
			assertf(clPrefix + "executing list with no recorded commands")
		case slices.Contains(bufs[:i], l.cb):
			assertf(clPrefix+"executing list %d more than once", i)
		}
		bufs[i] = l.cb
	}
	id, err := q.SubmitCommandBuffers(bufs)
	if err != nil {
		return 0, err
	}
	for _, l := range lists {
		l.pool.Submit(id)
		l.lastID = id
		l.cb = nil
	}
	return id, nil
}

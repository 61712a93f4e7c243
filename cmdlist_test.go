// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"bytes"
	"testing"

	"github.com/gviegas/rhi/driver"
	"github.com/gviegas/rhi/internal/fakedrv"
)

func newTestList(t *testing.T, d *Device, typ QueueType) *CommandList {
	t.Helper()
	l := d.NewCommandList(typ)
	if err := l.BeginRecording(); err != nil {
		t.Fatalf("CommandList.BeginRecording:\nhave %#v\nwant nil", err)
	}
	return l
}

func newTestTarget(t *testing.T, d *Device, name string, width, height int) *RenderTarget {
	t.Helper()
	tex := newTestTexture(t, d, TextureDesc{
		Name:   name,
		Format: driver.RGBA8un,
		Width:  width,
		Height: height,
		Usage:  TextureRenderTarget | TextureSampled,
	})
	defer tex.Release()
	rt, err := d.CreateRenderTarget(&RenderTargetDesc{Name: name, Color: []Attachment{{Texture: tex}}})
	if err != nil {
		t.Fatalf("Device.CreateRenderTarget:\nhave %#v\nwant nil", err)
	}
	return rt
}

func newTestPipeline(t *testing.T, d *Device, sig TargetSignature, layouts ...*BindingLayout) *Pipeline {
	t.Helper()
	s := newTestShader(t, d, EntryPoint{Name: "vs", Stage: driver.SVertex}, EntryPoint{Name: "fs", Stage: driver.SFragment})
	defer s.Release()
	pl, err := d.CreateGraphicsPipeline(&GraphicsPipelineDesc{
		Name:     "test pipeline",
		Vertex:   s,
		Fragment: s,
		Layouts:  layouts,
		Topology: driver.TTriangle,
	}, sig)
	if err != nil {
		t.Fatalf("Device.CreateGraphicsPipeline:\nhave %#v\nwant nil", err)
	}
	return pl
}

func endTestList(t *testing.T, l *CommandList) *fakedrv.CmdBuffer {
	t.Helper()
	cb := lastCmdBuffer(l)
	if err := l.EndRecording(); err != nil {
		t.Fatalf("CommandList.EndRecording:\nhave %#v\nwant nil", err)
	}
	return cb
}

func TestTextureUpload(t *testing.T) {
	d, _ := openFake(t)
	tex := newTestTexture(t, d, TextureDesc{
		Format: driver.RGBA8un,
		Width:  256,
		Height: 256,
		Usage:  TextureTransferDst | TextureSampled,
	})
	defer tex.Release()
	l := newTestList(t, d, Graphics)
	defer l.Destroy()
	cb := lastCmdBuffer(l)

	l.RequireTextureState(TextureBarrier{Texture: tex, Layout: LayoutCopyDst})
	if n := l.FlushRequiredStates(); n != 1 {
		t.Fatalf("CommandList.FlushRequiredStates (copy dst):\nhave %d\nwant 1", n)
	}
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 256*256)
	if err := l.WriteTexture(tex, 0, 0, data); err != nil {
		t.Fatalf("CommandList.WriteTexture:\nhave %#v\nwant nil", err)
	}
	if n := cb.Count(fakedrv.OpTransition); n != 1 {
		t.Fatalf("CommandList.WriteTexture: transitions\nhave %d\nwant 1", n)
	}
	if n := cb.Count(fakedrv.OpCopyBufToImg); n != 1 {
		t.Fatalf("CommandList.WriteTexture: copies\nhave %d\nwant 1", n)
	}
	for _, c := range cb.Cmds {
		if c.Op != fakedrv.OpCopyBufToImg {
			continue
		}
		p := c.Arg.(*driver.BufImgCopy)
		if p.BufOff%driver.CopyOffAlign != 0 || p.Stride[0] != 256 || p.Size.Width != 256 || p.Size.Height != 256 {
			t.Fatalf("CommandList.WriteTexture: copy\nhave %+v\nwant aligned 256x256 copy", p)
		}
	}

	l.RequireTextureState(TextureBarrier{Texture: tex, Layout: LayoutShaderRead})
	if n := l.FlushRequiredStates(); n != 1 {
		t.Fatalf("CommandList.FlushRequiredStates (shader read):\nhave %d\nwant 1", n)
	}
	l.RequireTextureState(TextureBarrier{Texture: tex, Layout: LayoutShaderRead})
	if n := l.FlushRequiredStates(); n != 0 {
		t.Fatalf("CommandList.FlushRequiredStates (met):\nhave %d\nwant 0", n)
	}
	if x := tex.Layout(0, 0); x != LayoutShaderRead {
		t.Fatalf("Texture.Layout:\nhave %v\nwant %v", x, LayoutShaderRead)
	}
	ts := cb.Transitions()
	want := []Layout{LayoutUndefined, LayoutCopyDst, LayoutCopyDst, LayoutShaderRead}
	if len(ts) != 2 || ts[0].LayoutBefore != want[0] || ts[0].LayoutAfter != want[1] ||
		ts[1].LayoutBefore != want[2] || ts[1].LayoutAfter != want[3] {
		t.Fatalf("fakedrv.CmdBuffer.Transitions:\nhave %+v\nwant %v", ts, want)
	}
	checkAssert(t, "CommandList.WriteTexture (wrong size)", func() { l.WriteTexture(tex, 0, 0, data[:16]) })
}

func TestBarrierMerge(t *testing.T) {
	d, _ := openFake(t)
	tex := newTestTexture(t, d, TextureDesc{
		Format:    driver.RGBA8un,
		Dim:       Tex2DArray,
		Width:     16,
		Height:    16,
		Layers:    4,
		MipLevels: 2,
		Usage:     TextureTransferDst | TextureSampled,
	})
	defer tex.Release()
	l := newTestList(t, d, Graphics)
	defer l.Destroy()

	l.SetTextureState(tex, Subresources{BaseLevel: 0, Levels: 1, BaseLayer: 1, Layers: 1}, LayoutShaderRead)
	l.RequireTextureState(TextureBarrier{Texture: tex, Range: Subresources{Levels: 1}, Layout: LayoutCopyDst})
	if n := l.FlushRequiredStates(); n != 3 {
		t.Fatalf("CommandList.FlushRequiredStates:\nhave %d\nwant 3", n)
	}
	ts := lastCmdBuffer(l).Transitions()
	type run struct {
		layer, layers int
		before        Layout
	}
	want := []run{{0, 1, LayoutUndefined}, {1, 1, LayoutShaderRead}, {2, 2, LayoutUndefined}}
	for i, w := range want {
		x := ts[i]
		if x.Layer != w.layer || x.Layers != w.layers || x.LayoutBefore != w.before || x.Level != 0 {
			t.Fatalf("transition %d:\nhave %+v\nwant %+v", i, x, w)
		}
	}
	for layer := range 4 {
		if x := tex.Layout(0, layer); x != LayoutCopyDst {
			t.Fatalf("Texture.Layout(0, %d):\nhave %v\nwant %v", layer, x, LayoutCopyDst)
		}
		if x := tex.Layout(1, layer); x != LayoutUndefined {
			t.Fatalf("Texture.Layout(1, %d):\nhave %v\nwant %v", layer, x, LayoutUndefined)
		}
	}
}

func TestGraphicsStateElision(t *testing.T) {
	d, _ := openFake(t)
	rt := newTestTarget(t, d, "color", 64, 32)
	defer rt.Release()
	pl := newTestPipeline(t, d, rt.Signature())
	defer pl.Release()
	vb := newTestBuffer(t, d, 1024, BufferVertex|BufferIndex, DeviceLocal)
	defer vb.Release()

	l := newTestList(t, d, Graphics)
	defer l.Destroy()
	s := GraphicsState{Pipeline: pl, Target: rt}
	s.Vertex[0] = VertexBinding{Buffer: vb}
	s.Vertex[1] = VertexBinding{Buffer: vb, Offset: 256}
	s.Vertex[3] = VertexBinding{Buffer: vb, Offset: 512}
	s.Index = IndexBinding{Buffer: vb, Offset: 768, Format: driver.Index16}
	for range 3 {
		l.SetGraphicsState(&s)
		l.DrawIndexed(3, 1, 0, 0, 0)
	}
	s.Vertex[1].Offset = 128
	l.SetGraphicsState(&s)
	l.Draw(3, 1, 0, 0)
	cb := endTestList(t, l)

	counts := map[fakedrv.Op]int{
		fakedrv.OpBeginPass:    1,
		fakedrv.OpEndPass:      1,
		fakedrv.OpSetPipeline:  1,
		fakedrv.OpSetVertexBuf: 3,
		fakedrv.OpSetIndexBuf:  1,
		fakedrv.OpSetViewport:  1,
		fakedrv.OpSetScissor:   1,
		fakedrv.OpTransition:   1,
		fakedrv.OpDrawIndexed:  3,
		fakedrv.OpDraw:         1,
	}
	for op, want := range counts {
		if n := cb.Count(op); n != want {
			t.Fatalf("fakedrv.CmdBuffer.Count(%d):\nhave %d\nwant %d", op, n, want)
		}
	}
	var starts []int
	for _, c := range cb.Cmds {
		if c.Op == fakedrv.OpSetVertexBuf {
			starts = append(starts, c.Arg.(fakedrv.VertexBufArg).Start)
		}
	}
	if len(starts) != 3 || starts[0] != 0 || starts[1] != 3 || starts[2] != 1 {
		t.Fatalf("SetVertexBuf starts:\nhave %v\nwant [0 3 1]", starts)
	}
	for _, c := range cb.Cmds {
		if c.Op != fakedrv.OpSetViewport {
			continue
		}
		if vp := c.Arg.(driver.Viewport); vp.Width != 64 || vp.Height != 32 || vp.Zfar != 1 {
			t.Fatalf("default viewport:\nhave %+v\nwant 64x32 with Zfar 1", vp)
		}
	}
	if x := rt.Color(0).Texture.Layout(0, 0); x != LayoutColorTarget {
		t.Fatalf("Texture.Layout of attachment:\nhave %v\nwant %v", x, LayoutColorTarget)
	}
}

func TestRenderPassRestart(t *testing.T) {
	d, _ := openFake(t)
	rt1 := newTestTarget(t, d, "first", 32, 32)
	defer rt1.Release()
	rt2 := newTestTarget(t, d, "second", 32, 32)
	defer rt2.Release()
	pl := newTestPipeline(t, d, rt1.Signature())
	defer pl.Release()

	l := newTestList(t, d, Graphics)
	defer l.Destroy()
	l.ClearColor(rt1, [4]float32{0, 0, 0, 1})
	l.SetGraphicsState(&GraphicsState{Pipeline: pl, Target: rt1})
	l.Draw(3, 1, 0, 0)
	if n := lastCmdBuffer(l).Count(fakedrv.OpBeginPass); n != 1 {
		t.Fatalf("SetGraphicsState after ClearColor: passes\nhave %d\nwant 1", n)
	}
	l.SetGraphicsState(&GraphicsState{Pipeline: pl, Target: rt2})
	l.Draw(3, 1, 0, 0)
	cb := endTestList(t, l)
	if b, e := cb.Count(fakedrv.OpBeginPass), cb.Count(fakedrv.OpEndPass); b != 2 || e != 2 {
		t.Fatalf("render passes:\nhave %d begun, %d ended\nwant 2, 2", b, e)
	}
	if n := cb.Count(fakedrv.OpSetPipeline); n != 2 {
		t.Fatalf("fakedrv.CmdBuffer.Count(OpSetPipeline):\nhave %d\nwant 2", n)
	}
	var loads []driver.LoadOp
	for _, c := range cb.Cmds {
		if c.Op == fakedrv.OpBeginPass {
			loads = append(loads, c.Arg.(*driver.PassDesc).Color[0].Load)
		}
	}
	if loads[0] != driver.LClear || loads[1] != driver.LLoad {
		t.Fatalf("load operations:\nhave %v\nwant [%v %v]", loads, driver.LClear, driver.LLoad)
	}
}

func TestGraphicsStateChecks(t *testing.T) {
	d, _ := openFake(t)
	rt := newTestTarget(t, d, "color", 32, 32)
	defer rt.Release()
	var sig TargetSignature
	sig.NColor = 1
	sig.Color[0] = driver.BGRA8un
	sig.DS = driver.FNone
	sig.Samples = 1
	pl := newTestPipeline(t, d, sig)
	defer pl.Release()

	l := newTestList(t, d, Graphics)
	defer l.Destroy()
	checkAssert(t, "CommandList.SetGraphicsState (signature mismatch)", func() {
		l.SetGraphicsState(&GraphicsState{Pipeline: pl, Target: rt})
	})
	checkAssert(t, "CommandList.Draw (no state)", func() { l.Draw(3, 1, 0, 0) })
	checkAssert(t, "CommandList.Dispatch (no state)", func() { l.Dispatch(1, 1, 1) })
	checkAssert(t, "CommandList.EndMarker (no marker)", l.EndMarker)

	cl := newTestList(t, d, Copy)
	defer cl.Destroy()
	checkAssert(t, "CommandList.SetGraphicsState (copy queue)", func() {
		cl.SetGraphicsState(&GraphicsState{Pipeline: pl, Target: rt})
	})
}

func TestBindingSetRequirements(t *testing.T) {
	d, _ := openFake(t)
	rt := newTestTarget(t, d, "color", 32, 32)
	defer rt.Release()
	tex := newTestTexture(t, d, TextureDesc{Format: driver.RGBA8un, Width: 8, Height: 8, Usage: TextureSampled})
	defer tex.Release()
	set, err := d.BindingCache().GetCachedBindingSet(&BindingSetDesc{
		Name:  "material",
		Items: []BindingItem{{Slot: 0, Type: BindTexture, Stages: driver.SFragment, Texture: tex}},
	})
	if err != nil {
		t.Fatalf("BindingCache.GetCachedBindingSet:\nhave %#v\nwant nil", err)
	}
	pl := newTestPipeline(t, d, rt.Signature(), set.Layout())
	defer pl.Release()

	l := newTestList(t, d, Graphics)
	defer l.Destroy()
	s := GraphicsState{Pipeline: pl, Target: rt}
	s.Sets[0] = set
	l.SetGraphicsState(&s)
	l.Draw(3, 1, 0, 0)
	l.SetGraphicsState(&s)
	l.Draw(3, 1, 0, 0)
	cb := endTestList(t, l)
	if n := len(cb.Transitions()); n != 2 {
		t.Fatalf("fakedrv.CmdBuffer.Transitions: len\nhave %d\nwant 2", n)
	}
	if n := cb.Count(fakedrv.OpSetDescSet); n != 1 {
		t.Fatalf("fakedrv.CmdBuffer.Count(OpSetDescSet):\nhave %d\nwant 1", n)
	}
	if x := tex.Layout(0, 0); x != LayoutShaderRead {
		t.Fatalf("Texture.Layout:\nhave %v\nwant %v", x, LayoutShaderRead)
	}

	other, err := d.CreateBindingLayout(&BindingLayoutDesc{Slots: []BindingSlot{{Type: BindUniform, Stages: driver.SVertex}}})
	if err != nil {
		t.Fatalf("Device.CreateBindingLayout:\nhave %#v\nwant nil", err)
	}
	defer other.Release()
	pl2 := newTestPipeline(t, d, rt.Signature(), other)
	defer pl2.Release()
	l2 := newTestList(t, d, Graphics)
	defer l2.Destroy()
	s.Pipeline = pl2
	checkAssert(t, "CommandList.SetGraphicsState (layout mismatch)", func() { l2.SetGraphicsState(&s) })
}

func TestComputeDispatch(t *testing.T) {
	d, _ := openFake(t)
	sh := newTestShader(t, d, EntryPoint{Name: "main", Stage: driver.SCompute, Workgroup: [3]int{64, 1, 1}})
	defer sh.Release()
	pl, err := d.CreateComputePipeline(&ComputePipelineDesc{Name: "double", Shader: sh})
	if err != nil {
		t.Fatalf("Device.CreateComputePipeline:\nhave %#v\nwant nil", err)
	}
	defer pl.Release()
	if !pl.IsCompute() || pl.Workgroup() != [3]int{64, 1, 1} {
		t.Fatalf("Pipeline:\nhave compute %t, workgroup %v\nwant true, [64 1 1]", pl.IsCompute(), pl.Workgroup())
	}

	l := newTestList(t, d, Compute)
	defer l.Destroy()
	l.SetComputeState(&ComputeState{Pipeline: pl})
	l.Dispatch(4, 1, 1)
	l.SetComputeState(&ComputeState{Pipeline: pl})
	l.Dispatch(8, 1, 1)
	checkAssert(t, "CommandList.Dispatch (over limit)", func() { l.Dispatch(1<<20, 1, 1) })
	cb := endTestList(t, l)
	if b, e := cb.Count(fakedrv.OpBeginWork), cb.Count(fakedrv.OpEndWork); b != 1 || e != 1 {
		t.Fatalf("compute work:\nhave %d begun, %d ended\nwant 1, 1", b, e)
	}
	if n := cb.Count(fakedrv.OpSetPipeline); n != 1 {
		t.Fatalf("fakedrv.CmdBuffer.Count(OpSetPipeline):\nhave %d\nwant 1", n)
	}
	if n := cb.Count(fakedrv.OpDispatch); n != 2 {
		t.Fatalf("fakedrv.CmdBuffer.Count(OpDispatch):\nhave %d\nwant 2", n)
	}
}

func TestWriteBuffer(t *testing.T) {
	d, _ := openFake(t)
	host := newTestBuffer(t, d, 64, BufferUniform, HostVisible)
	defer host.Release()
	dev := newTestBuffer(t, d, 64, BufferStorage|BufferTransferDst, DeviceLocal)
	defer dev.Release()

	l := newTestList(t, d, Copy)
	defer l.Destroy()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := l.WriteBuffer(host, 4, data); err != nil {
		t.Fatalf("CommandList.WriteBuffer (host-visible):\nhave %#v\nwant nil", err)
	}
	if !bytes.Equal(host.Bytes()[4:12], data) {
		t.Fatalf("CommandList.WriteBuffer (host-visible):\nhave %v\nwant %v", host.Bytes()[4:12], data)
	}
	if err := l.WriteBuffer(dev, 8, data); err != nil {
		t.Fatalf("CommandList.WriteBuffer (device-local):\nhave %#v\nwant nil", err)
	}
	checkAssert(t, "CommandList.WriteBuffer (misaligned)", func() { l.WriteBuffer(dev, 2, data) })
	checkAssert(t, "CommandList.WriteBuffer (out of bounds)", func() { l.WriteBuffer(dev, 60, data) })
	cb := endTestList(t, l)
	if n := cb.Count(fakedrv.OpCopyBuffer); n != 1 {
		t.Fatalf("fakedrv.CmdBuffer.Count(OpCopyBuffer):\nhave %d\nwant 1", n)
	}
	if x := dev.buf.(*fakedrv.Buffer).Data()[8:16]; !bytes.Equal(x, data) {
		t.Fatalf("CommandList.WriteBuffer (device-local):\nhave %v\nwant %v", x, data)
	}
	if _, err := ExecuteCommandList(l); err != nil {
		t.Fatalf("ExecuteCommandList:\nhave %#v\nwant nil", err)
	}
	if s := l.TransferPool().Stats(); s.Submitted != 1 || s.Open != 0 {
		t.Fatalf("TransferMemoryPool.Stats after execution:\nhave %+v\nwant one submitted chunk", s)
	}
}

func TestExecuteCommandList(t *testing.T) {
	d, gpu := openFake(t)
	tex := newTestTexture(t, d, TextureDesc{Format: driver.RGBA8un, Width: 4, Height: 4, Usage: TextureTransferDst | TextureSampled})
	l := newTestList(t, d, Graphics)
	defer l.Destroy()
	if err := l.WriteTexture(tex, 0, 0, make([]byte, 4*4*4)); err != nil {
		t.Fatalf("CommandList.WriteTexture:\nhave %#v\nwant nil", err)
	}
	endTestList(t, l)
	id, err := ExecuteCommandList(l)
	if err != nil {
		t.Fatalf("ExecuteCommandList:\nhave %#v\nwant nil", err)
	}
	if id != 1 || l.LastSubmissionID() != id || l.CommandBuffer() != nil {
		t.Fatalf("ExecuteCommandList:\nhave ID %d, list ID %d\nwant 1, 1", id, l.LastSubmissionID())
	}
	tex.Release()
	if gpu.Live("image") != 1 {
		t.Fatal("Texture.Release: destroyed while in flight")
	}
	checkAssert(t, "ExecuteCommandList (nothing recorded)", func() { ExecuteCommandList(l) })

	gpu.FakeQueue(driver.QGraphics).Retire(id)
	if err := l.BeginRecording(); err != nil {
		t.Fatalf("CommandList.BeginRecording:\nhave %#v\nwant nil", err)
	}
	if gpu.Live("image") != 0 {
		t.Fatal("CommandQueue.CreateCommandBuffer: retired resources not released")
	}
	if s := l.Queue().Stats(); s.Buffers != 1 {
		t.Fatalf("CommandQueue.Stats:\nhave %+v\nwant one recycled buffer", s)
	}
}

func TestExecuteCommandListTwice(t *testing.T) {
	d, gpu := openFake(t)
	l := newTestList(t, d, Copy)
	defer l.Destroy()
	endTestList(t, l)
	checkAssert(t, "ExecuteCommandList (same list twice)", func() { ExecuteCommandList(l, l) })
	if n := len(gpu.FakeQueue(driver.QCopy).Log()); n != 0 {
		t.Fatalf("ExecuteCommandList (same list twice): submissions\nhave %d\nwant 0", n)
	}
	id, err := ExecuteCommandList(l)
	if err != nil {
		t.Fatalf("ExecuteCommandList:\nhave %#v\nwant nil", err)
	}
	if id != 1 {
		t.Fatalf("ExecuteCommandList:\nhave ID %d\nwant 1", id)
	}
}

func TestPassLabels(t *testing.T) {
	d, _ := openFake(t, WithDebugNames(true))
	rt := newTestTarget(t, d, "gbuffer", 16, 16)
	defer rt.Release()
	l := newTestList(t, d, Graphics)
	defer l.Destroy()
	l.BeginMarker("frame")
	l.EndMarker()
	l.ClearColor(rt, [4]float32{})
	cb := endTestList(t, l)
	var labels []string
	for _, c := range cb.Cmds {
		if c.Op == fakedrv.OpBeginMarker {
			labels = append(labels, c.Arg.(string))
		}
	}
	if len(labels) != 2 || labels[0] != "frame" || labels[1] != "gbuffer" {
		t.Fatalf("markers:\nhave %q\nwant [\"frame\" \"gbuffer\"]", labels)
	}
	if n := cb.Count(fakedrv.OpEndMarker); n != 2 {
		t.Fatalf("fakedrv.CmdBuffer.Count(OpEndMarker):\nhave %d\nwant 2", n)
	}
}

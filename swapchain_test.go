// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"

	"github.com/gviegas/rhi/driver"
	"github.com/gviegas/rhi/internal/fakedrv"
)

func TestWindowFromProvider(t *testing.T) {
	w := WindowFromProvider(gpucontext.NullWindowProvider{W: 400, H: 300, SF: 1.5}, 0, 7)
	if w.Width != 600 || w.Height != 450 || w.Handle != 7 {
		t.Fatalf("WindowFromProvider:\nhave %+v\nwant 600x450 with handle 7", w)
	}
	w = WindowFromProvider(gpucontext.NullWindowProvider{W: 320, H: 240}, 0, 1)
	if w.Width != 320 || w.Height != 240 {
		t.Fatalf("WindowFromProvider (default scale):\nhave %dx%d\nwant 320x240", w.Width, w.Height)
	}
}

func TestSwapchainInit(t *testing.T) {
	d, _ := openFake(t, WithSwapchainImages(2))
	if err := d.Present(nil); !errors.Is(err, ErrNoSwapchain) {
		t.Fatalf("Device.Present before InitSwapchain:\nhave %v\nwant %v", err, ErrNoSwapchain)
	}
	if err := d.InitSwapchain(Window{Width: 64, Height: 64}); !errors.Is(err, driver.ErrWindow) {
		t.Fatalf("Device.InitSwapchain (no handle):\nhave %v\nwant %v", err, driver.ErrWindow)
	}
	if err := d.InitSwapchain(Window{Handle: 1, Width: 64, Height: 48}); err != nil {
		t.Fatalf("Device.InitSwapchain:\nhave %#v\nwant nil", err)
	}
	if n := d.LiveResources(); n != 2 {
		t.Fatalf("Device.LiveResources with swapchain:\nhave %d\nwant 2", n)
	}
	tex := d.SwapchainTexture(1)
	desc := tex.Desc()
	if desc.Width != 64 || desc.Height != 48 || desc.Format != driver.BGRA8un {
		t.Fatalf("Device.SwapchainTexture:\nhave %+v\nwant 64x48 BGRA8un", desc)
	}
	if desc.Usage != TextureRenderTarget|TextureTransferDst {
		t.Fatalf("Device.SwapchainTexture: usage\nhave %#x\nwant %#x", desc.Usage, TextureRenderTarget|TextureTransferDst)
	}
	checkAssert(t, "Device.InitSwapchain (twice)", func() {
		d.InitSwapchain(Window{Handle: 1, Width: 64, Height: 48})
	})
}

func TestSwapchainFrames(t *testing.T) {
	d, gpu := openFake(t, WithSwapchainImages(2))
	if err := d.InitSwapchain(Window{Handle: 1, Width: 32, Height: 32}); err != nil {
		t.Fatalf("Device.InitSwapchain:\nhave %#v\nwant nil", err)
	}
	sc := d.sc.sc.(*fakedrv.Swapchain)
	checkAssert(t, "Device.Present (nothing acquired)", func() { d.Present(nil) })

	acquired, err := d.CreateSemaphore()
	if err != nil {
		t.Fatalf("Device.CreateSemaphore:\nhave %#v\nwant nil", err)
	}
	defer acquired.Destroy()
	rendered, _ := d.CreateSemaphore()
	defer rendered.Destroy()

	l := d.NewCommandList(Graphics)
	defer l.Destroy()
	for frame := range 3 {
		i, err := d.AcquireSwapchainIndex(acquired)
		if err != nil {
			t.Fatalf("Device.AcquireSwapchainIndex:\nhave %#v\nwant nil", err)
		}
		if i != frame%2 {
			t.Fatalf("Device.AcquireSwapchainIndex:\nhave %d\nwant %d", i, frame%2)
		}
		tex := d.SwapchainTexture(i)
		if x := tex.Layout(0, 0); x != LayoutUndefined {
			t.Fatalf("swapchain texture layout after acquisition:\nhave %v\nwant %v", x, LayoutUndefined)
		}
		checkAssert(t, "Device.AcquireSwapchainIndex (already acquired)", func() { d.AcquireSwapchainIndex(nil) })

		rt, err := d.CreateRenderTarget(&RenderTargetDesc{Color: []Attachment{{Texture: tex}}})
		if err != nil {
			t.Fatalf("Device.CreateRenderTarget:\nhave %#v\nwant nil", err)
		}
		if err := l.BeginRecording(); err != nil {
			t.Fatalf("CommandList.BeginRecording:\nhave %#v\nwant nil", err)
		}
		l.ClearColor(rt, [4]float32{0, 0, 1, 1})
		l.RequireTextureState(TextureBarrier{Texture: tex, Layout: LayoutPresent})
		if err := l.EndRecording(); err != nil {
			t.Fatalf("CommandList.EndRecording:\nhave %#v\nwant nil", err)
		}
		rt.Release()
		q := l.Queue()
		q.AddWaitSemaphore(acquired)
		q.AddSignalSemaphore(rendered)
		id, err := ExecuteCommandList(l)
		if err != nil {
			t.Fatalf("ExecuteCommandList:\nhave %#v\nwant nil", err)
		}
		if x := tex.Layout(0, 0); x != LayoutPresent {
			t.Fatalf("swapchain texture layout before presentation:\nhave %v\nwant %v", x, LayoutPresent)
		}
		if err := d.Present(rendered); err != nil {
			t.Fatalf("Device.Present:\nhave %#v\nwant nil", err)
		}
		gpu.FakeQueue(driver.QGraphics).Retire(id)
	}
	if len(sc.Presented) != 3 || sc.Presented[0] != 0 || sc.Presented[1] != 1 || sc.Presented[2] != 0 {
		t.Fatalf("fakedrv.Swapchain.Presented:\nhave %v\nwant [0 1 0]", sc.Presented)
	}
	log := gpu.FakeQueue(driver.QGraphics).Log()
	if len(log[0].WaitSem) != 1 || len(log[0].SignalSem) != 1 {
		t.Fatal("ExecuteCommandList: semaphores not attached to the submission")
	}
}

func TestSwapchainResize(t *testing.T) {
	d, gpu := openFake(t, WithSwapchainImages(2))
	if err := d.ResizeSwapchain(8, 8); !errors.Is(err, ErrNoSwapchain) {
		t.Fatalf("Device.ResizeSwapchain before InitSwapchain:\nhave %v\nwant %v", err, ErrNoSwapchain)
	}
	if err := d.InitSwapchain(Window{Handle: 1, Width: 32, Height: 32}); err != nil {
		t.Fatalf("Device.InitSwapchain:\nhave %#v\nwant nil", err)
	}
	old := d.SwapchainTexture(0)
	if err := d.ResizeSwapchain(100, 50); err != nil {
		t.Fatalf("Device.ResizeSwapchain:\nhave %#v\nwant nil", err)
	}
	tex := d.SwapchainTexture(0)
	if tex == old {
		t.Fatal("Device.ResizeSwapchain: swapchain texture not replaced")
	}
	if w, h := tex.Desc().Width, tex.Desc().Height; w != 100 || h != 50 {
		t.Fatalf("Device.ResizeSwapchain: extent\nhave %dx%d\nwant 100x50", w, h)
	}
	if n := d.LiveResources(); n != 2 {
		t.Fatalf("Device.LiveResources after resize:\nhave %d\nwant 2", n)
	}
	d.Close()
	if n := gpu.Live("image"); n != 0 {
		t.Fatalf("fakedrv.GPU.Live(\"image\") after Close:\nhave %d\nwant 0", n)
	}
}

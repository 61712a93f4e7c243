// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
	"github.com/gviegas/rhi/internal/fakedrv"
)

func TestCreateBuffer(t *testing.T) {
	d, gpu := openFake(t)
	b := newTestBuffer(t, d, 100, BufferUniform|BufferTransferDst, HostVisible)
	defer b.Release()
	if n := len(b.Bytes()); n != 100 {
		t.Fatalf("Buffer.Bytes: len\nhave %d\nwant 100", n)
	}
	dl := newTestBuffer(t, d, 100, BufferVertex, DeviceLocal)
	defer dl.Release()
	if dl.Bytes() != nil {
		t.Fatal("Buffer.Bytes: unexpected non-nil slice for device-local memory")
	}
	if n := gpu.Live("buffer"); n != 2 {
		t.Fatalf("fakedrv.GPU.Live(\"buffer\"):\nhave %d\nwant 2", n)
	}

	checkAssert(t, "Device.CreateBuffer (zero size)", func() {
		d.CreateBuffer(&BufferDesc{Usage: BufferVertex})
	})
	checkAssert(t, "Device.CreateBuffer (no usage)", func() {
		d.CreateBuffer(&BufferDesc{Size: 4})
	})
	_, err := d.CreateBuffer(&BufferDesc{Size: d.Limits().MaxBufferSize + 1, Usage: BufferStorage})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("Device.CreateBuffer (too large):\nhave %v\nwant %v", err, driver.ErrUnsupported)
	}
}

func TestCreateTexture(t *testing.T) {
	d, gpu := openFake(t)
	tex := newTestTexture(t, d, TextureDesc{
		Format:    driver.RGBA8un,
		Dim:       Tex2DArray,
		Width:     256,
		Height:    128,
		Layers:    4,
		MipLevels: MipLevelsFor(256, 128, 1),
		Usage:     TextureSampled | TextureTransferDst,
	})
	defer tex.Release()
	desc := tex.Desc()
	if desc.MipLevels != 9 || desc.Depth != 1 || desc.Samples != 1 {
		t.Fatalf("Texture.Desc:\nhave %+v\nwant MipLevels 9, Depth 1, Samples 1", desc)
	}
	if n := tex.NumSubresources(); n != 9*4 {
		t.Fatalf("Texture.NumSubresources:\nhave %d\nwant %d", n, 9*4)
	}
	for level := range 9 {
		for layer := range 4 {
			if l := tex.Layout(level, layer); l != LayoutUndefined {
				t.Fatalf("Texture.Layout(%d, %d):\nhave %v\nwant %v", level, layer, l, LayoutUndefined)
			}
		}
	}
	if ext := tex.Extent(3); ext.Width != 32 || ext.Height != 16 || ext.Depth != 1 {
		t.Fatalf("Texture.Extent(3):\nhave %+v\nwant 32x16x1", ext)
	}

	cube := newTestTexture(t, d, TextureDesc{Format: driver.RGBA8un, Dim: TexCube, Width: 32, Height: 32, Usage: TextureSampled})
	if cube.Desc().Layers != 6 {
		t.Fatalf("Texture.Desc().Layers (cube):\nhave %d\nwant 6", cube.Desc().Layers)
	}
	cube.Release()

	gpu.Unsupport(driver.RGBA16f)
	_, err := d.CreateTexture(&TextureDesc{Format: driver.RGBA16f, Width: 4, Height: 4, Usage: TextureSampled})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("Device.CreateTexture (unsupported format):\nhave %v\nwant %v", err, driver.ErrUnsupported)
	}
	_, err = d.CreateTexture(&TextureDesc{Format: driver.RGBA8un, Width: 4, Height: 4, Usage: TextureSampled, Memory: HostVisible})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("Device.CreateTexture (host-visible):\nhave %v\nwant %v", err, driver.ErrUnsupported)
	}
	_, err = d.CreateTexture(&TextureDesc{Format: driver.RGBA8un, Width: 1 << 20, Height: 4, Usage: TextureSampled})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("Device.CreateTexture (too large):\nhave %v\nwant %v", err, driver.ErrUnsupported)
	}

	checkAssert(t, "Device.CreateTexture (too many levels)", func() {
		d.CreateTexture(&TextureDesc{Format: driver.RGBA8un, Width: 4, Height: 4, MipLevels: 4, Usage: TextureSampled})
	})
	checkAssert(t, "Device.CreateTexture (2D with layers)", func() {
		d.CreateTexture(&TextureDesc{Format: driver.RGBA8un, Width: 4, Height: 4, Layers: 2, Usage: TextureSampled})
	})
	checkAssert(t, "Device.CreateTexture (multisample mips)", func() {
		d.CreateTexture(&TextureDesc{Format: driver.RGBA8un, Width: 4, Height: 4, MipLevels: 2, Samples: 4, Usage: TextureRenderTarget})
	})
}

func TestTextureView(t *testing.T) {
	d, gpu := openFake(t)
	tex := newTestTexture(t, d, TextureDesc{
		Format:    driver.RGBA8un,
		Dim:       Tex2DArray,
		Width:     64,
		Height:    64,
		Layers:    2,
		MipLevels: 3,
		Usage:     TextureSampled,
	})
	v1, err := tex.DefaultView()
	if err != nil {
		t.Fatalf("Texture.DefaultView:\nhave %#v\nwant nil", err)
	}
	v2, _ := tex.View(ViewDesc{Type: driver.IView2DArray, Subresources: tex.All()})
	if v1 != v2 {
		t.Fatal("Texture.View: equal descriptions yielded distinct views")
	}
	v3, _ := tex.View(ViewDesc{Type: driver.IView2D, Subresources: Subresources{BaseLevel: 1, Levels: 1, BaseLayer: 1, Layers: 1}})
	if v3 == v1 {
		t.Fatal("Texture.View: distinct descriptions yielded the same view")
	}
	if n := tex.Views(); n != 2 {
		t.Fatalf("Texture.Views:\nhave %d\nwant 2", n)
	}
	checkAssert(t, "Texture.View (out of bounds)", func() {
		tex.View(ViewDesc{Type: driver.IView2D, Subresources: Subresources{BaseLevel: 3}})
	})
	tex.Release()
	if n := gpu.Live("view"); n != 0 {
		t.Fatalf("fakedrv.GPU.Live(\"view\") after Release:\nhave %d\nwant 0", n)
	}
}

func TestCreateSampler(t *testing.T) {
	d, gpu := openFake(t)
	s, err := d.CreateSampler(&SamplerDesc{Name: "linear", Sampling: driver.Sampling{MaxAniso: 1, MaxLOD: 8}})
	if err != nil {
		t.Fatalf("Device.CreateSampler:\nhave %#v\nwant nil", err)
	}
	if s.Name() != "linear" || s.Desc().MaxLOD != 8 {
		t.Fatalf("Sampler:\nhave %q %+v\nwant \"linear\" with MaxLOD 8", s.Name(), s.Desc())
	}
	s.Release()
	if gpu.Live("sampler") != 0 {
		t.Fatal("Sampler.Release: not destroyed")
	}
	checkAssert(t, "Device.CreateSampler (invalid LOD)", func() {
		d.CreateSampler(&SamplerDesc{Sampling: driver.Sampling{MinLOD: 2, MaxLOD: 1}})
	})
}

func TestCreateRenderTarget(t *testing.T) {
	d, _ := openFake(t)
	color := newTestTexture(t, d, TextureDesc{Format: driver.RGBA8un, Width: 128, Height: 64, MipLevels: 2, Usage: TextureRenderTarget})
	depth := newTestTexture(t, d, TextureDesc{Format: driver.D32f, Width: 64, Height: 32, Usage: TextureRenderTarget})
	defer color.Release()
	defer depth.Release()

	rt, err := d.CreateRenderTarget(&RenderTargetDesc{
		Color:        []Attachment{{Texture: color, Mip: 1}},
		DepthStencil: Attachment{Texture: depth},
	})
	if err != nil {
		t.Fatalf("Device.CreateRenderTarget:\nhave %#v\nwant nil", err)
	}
	if w, h := rt.Extent(); w != 64 || h != 32 {
		t.Fatalf("RenderTarget.Extent:\nhave %dx%d\nwant 64x32", w, h)
	}
	sig := rt.Signature()
	want := TargetSignature{NColor: 1, DS: driver.D32f, Samples: 1}
	want.Color[0] = driver.RGBA8un
	if sig != want {
		t.Fatalf("RenderTarget.Signature:\nhave %+v\nwant %+v", sig, want)
	}
	if n := color.Refs(); n != 2 {
		t.Fatalf("Texture.Refs with render target:\nhave %d\nwant 2", n)
	}
	rt.Release()
	if n := color.Refs(); n != 1 {
		t.Fatalf("Texture.Refs after render target release:\nhave %d\nwant 1", n)
	}

	checkAssert(t, "Device.CreateRenderTarget (extent mismatch)", func() {
		d.CreateRenderTarget(&RenderTargetDesc{
			Color:        []Attachment{{Texture: color}},
			DepthStencil: Attachment{Texture: depth},
		})
	})
	checkAssert(t, "Device.CreateRenderTarget (no attachments)", func() {
		d.CreateRenderTarget(&RenderTargetDesc{})
	})
	checkAssert(t, "Device.CreateRenderTarget (depth as color)", func() {
		d.CreateRenderTarget(&RenderTargetDesc{Color: []Attachment{{Texture: depth}}})
	})
}

func TestBindingSet(t *testing.T) {
	d, gpu := openFake(t)
	ubuf := newTestBuffer(t, d, 1024, BufferUniform, HostVisible)
	tex := newTestTexture(t, d, TextureDesc{Format: driver.RGBA8un, Width: 16, Height: 16, Usage: TextureSampled})
	splr, err := d.CreateSampler(&SamplerDesc{})
	if err != nil {
		t.Fatalf("Device.CreateSampler:\nhave %#v\nwant nil", err)
	}
	layout, err := d.CreateBindingLayout(&BindingLayoutDesc{Slots: []BindingSlot{
		{Type: BindUniform, Stages: driver.SVertex | driver.SFragment},
		{Type: BindTexture, Stages: driver.SFragment, Count: 2, ViewType: driver.IView2D, Format: driver.RGBA8un},
		{Type: BindSampler, Stages: driver.SFragment},
	}})
	if err != nil {
		t.Fatalf("Device.CreateBindingLayout:\nhave %#v\nwant nil", err)
	}
	set, err := d.CreateBindingSet(&BindingSetDesc{
		Layout: layout,
		Items: []BindingItem{
			{Slot: 0, Buffer: ubuf, Offset: 256, Size: 256},
			{Slot: 1, Texture: tex},
			{Slot: 1, Texture: tex},
			{Slot: 2, Sampler: splr},
		},
	})
	if err != nil {
		t.Fatalf("Device.CreateBindingSet:\nhave %#v\nwant nil", err)
	}
	if set.Layout() != layout {
		t.Fatal("BindingSet.Layout: not the layout it was created with")
	}
	if n := tex.Refs(); n != 3 {
		t.Fatalf("Texture.Refs with binding set:\nhave %d\nwant 3", n)
	}
	if len(set.uses) != 2 || set.uses[0].Layout != LayoutShaderRead {
		t.Fatalf("BindingSet.uses:\nhave %+v\nwant 2 shader-read requirements", set.uses)
	}

	checkAssert(t, "Device.CreateBindingSet (missing items)", func() {
		d.CreateBindingSet(&BindingSetDesc{Layout: layout, Items: []BindingItem{{Slot: 0, Buffer: ubuf}}})
	})
	checkAssert(t, "Device.CreateBindingSet (misaligned uniform)", func() {
		d.CreateBindingSet(&BindingSetDesc{Layout: layout, Items: []BindingItem{
			{Slot: 0, Buffer: ubuf, Offset: 4},
			{Slot: 1, Texture: tex},
			{Slot: 1, Texture: tex},
			{Slot: 2, Sampler: splr},
		}})
	})

	set.Release()
	layout.Release()
	ubuf.Release()
	tex.Release()
	splr.Release()
	for _, k := range [...]string{"set", "layout", "buffer", "image", "view", "sampler"} {
		if n := gpu.Live(k); n != 0 {
			t.Fatalf("fakedrv.GPU.Live(%q):\nhave %d\nwant 0", k, n)
		}
	}
}

func TestCreateTextureDefaultDim(t *testing.T) {
	d, _ := openFake(t)
	tex := newTestTexture(t, d, TextureDesc{
		Format: driver.RGBA8un,
		Width:  256,
		Height: 256,
		Usage:  TextureTransferDst | TextureSampled,
	})
	defer tex.Release()
	desc := tex.Desc()
	if desc.Dim != Tex2D || desc.Layers != 1 || desc.MipLevels != 1 || desc.Depth != 1 {
		t.Fatalf("Texture.Desc:\nhave %+v\nwant 2D with 1 layer and 1 level", desc)
	}
	img := tex.img.(*fakedrv.Image)
	if img.Dim != driver.Img2D || img.Size.Width != 256 || img.Size.Height != 256 {
		t.Fatalf("fakedrv.Image:\nhave %v %+v\nwant %v 256x256", img.Dim, img.Size, driver.Img2D)
	}
	checkAssert(t, "Device.CreateTexture (1D with height)", func() {
		d.CreateTexture(&TextureDesc{Format: driver.RGBA8un, Dim: Tex1D, Width: 64, Height: 2, Usage: TextureSampled})
	})
}

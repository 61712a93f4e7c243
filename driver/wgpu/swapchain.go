// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// Swapchain implements driver.Swapchain.
// hal surfaces hand out one texture per acquisition, so
// the images are wrappers that Next replaces in
// round-robin order.
type Swapchain struct {
	gpu      *GPU
	win      driver.Window
	surf     hal.Surface
	conf     hal.SurfaceConfiguration
	pf       driver.PixelFmt
	imgs     []*Image
	next     int
	acquired int
	cur      hal.SurfaceTexture
}

// NewSwapchain implements driver.Presenter.
func (g *GPU) NewSwapchain(win driver.Window, imageCount int) (driver.Swapchain, error) {
	if win.Width <= 0 || win.Height <= 0 {
		return nil, errors.Wrapf(driver.ErrWindow, "wgpu: invalid window extent %dx%d", win.Width, win.Height)
	}
	surf, err := g.inst.CreateSurface(win.Display, win.Handle)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "wgpu: creating surface"), driver.ErrWindow)
	}
	caps := g.adapter.SurfaceCapabilities(surf)
	if caps == nil || len(caps.Formats) == 0 {
		surf.Destroy()
		return nil, driver.ErrCannotPresent
	}
	pf := driver.FNone
	for _, want := range [...]driver.PixelFmt{driver.BGRA8un, driver.RGBA8un, driver.BGRA8sRGB, driver.RGBA8sRGB} {
		if slices.Contains(caps.Formats, convPixelFmt(want)) {
			pf = want
			break
		}
	}
	if pf == driver.FNone {
		surf.Destroy()
		return nil, errors.Wrap(driver.ErrCannotPresent, "wgpu: no supported surface format")
	}
	mode := gputypes.PresentModeFifo
	if !slices.Contains(caps.PresentModes, mode) && len(caps.PresentModes) > 0 {
		mode = caps.PresentModes[0]
	}
	alpha := gputypes.CompositeAlphaModeOpaque
	if !slices.Contains(caps.AlphaModes, alpha) && len(caps.AlphaModes) > 0 {
		alpha = caps.AlphaModes[0]
	}
	s := &Swapchain{
		gpu:  g,
		win:  win,
		surf: surf,
		conf: hal.SurfaceConfiguration{
			Width:       uint32(win.Width),
			Height:      uint32(win.Height),
			Format:      convPixelFmt(pf),
			Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
			PresentMode: mode,
			AlphaMode:   alpha,
		},
		pf:       pf,
		imgs:     make([]*Image, max(imageCount, 1)),
		acquired: -1,
	}
	if err := surf.Configure(g.dev, &s.conf); err != nil {
		surf.Destroy()
		return nil, errors.Mark(convErr(err), driver.ErrSwapchain)
	}
	driver.Logger().Debug("wgpu: swapchain created",
		"format", pf.String(),
		"width", win.Width,
		"height", win.Height,
		"images", len(s.imgs))
	return s, nil
}

// Destroy implements driver.Destroyer.
func (s *Swapchain) Destroy() {
	if s.surf == nil {
		return
	}
	if s.acquired >= 0 {
		s.surf.DiscardTexture(s.cur)
	}
	s.surf.Unconfigure(s.gpu.dev)
	s.surf.Destroy()
	*s = Swapchain{}
}

// Len implements driver.Swapchain.
func (s *Swapchain) Len() int { return len(s.imgs) }

// Image implements driver.Swapchain.
// It returns nil if the image was never acquired.
func (s *Swapchain) Image(index int) driver.Image {
	if s.imgs[index] == nil {
		return nil
	}
	return s.imgs[index]
}

// Next implements driver.Swapchain.
func (s *Swapchain) Next(signal driver.Semaphore) (int, error) {
	if s.acquired >= 0 {
		return -1, driver.ErrNoBackbuffer
	}
	st, err := s.surf.AcquireTexture(nil)
	if err != nil {
		return -1, convErr(err)
	}
	if st.Suboptimal {
		driver.Logger().Debug("wgpu: suboptimal surface texture")
	}
	i := s.next
	s.next = (s.next + 1) % len(s.imgs)
	s.imgs[i] = &Image{
		gpu:    s.gpu,
		tex:    st.Texture,
		pf:     s.pf,
		layers: 1,
		levels: 1,
		borrow: true,
	}
	s.acquired = i
	s.cur = st.Texture
	return i, nil
}

// Present implements driver.Swapchain.
func (s *Swapchain) Present(index int, wait driver.Semaphore) error {
	if index != s.acquired {
		return errors.AssertionFailedf("wgpu: presenting image %d that was not acquired", index)
	}
	st := s.cur
	s.acquired = -1
	s.cur = nil
	g := s.gpu
	g.submitMu.Lock()
	defer g.submitMu.Unlock()
	// Presentation must follow every deferred submission.
	if err := g.flushPending(); err != nil {
		return err
	}
	return convErr(g.hq.Present(s.surf, st, nil))
}

// Recreate implements driver.Swapchain.
func (s *Swapchain) Recreate(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(driver.ErrWindow, "wgpu: invalid window extent %dx%d", width, height)
	}
	if s.acquired >= 0 {
		s.surf.DiscardTexture(s.cur)
		s.acquired = -1
		s.cur = nil
	}
	s.conf.Width = uint32(width)
	s.conf.Height = uint32(height)
	s.win.Width = width
	s.win.Height = height
	if err := s.surf.Configure(s.gpu.dev, &s.conf); err != nil {
		return errors.Mark(convErr(err), driver.ErrSwapchain)
	}
	clear(s.imgs)
	s.next = 0
	return nil
}

// Format implements driver.Swapchain.
func (s *Swapchain) Format() driver.PixelFmt { return s.pf }

// Usage implements driver.Swapchain.
func (s *Swapchain) Usage() driver.Usage { return driver.URenderTarget | driver.UCopyDst }

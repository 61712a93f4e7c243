// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"

	"github.com/gviegas/rhi/driver"
)

const scPrefix = "rhi: swapchain: "

type swapchain struct {
	sc       driver.Swapchain
	win      Window
	textures []*Texture
	// Index of the acquired image, or -1.
	cur int
}

// WindowFromProvider returns the Window of a gogpu
// window provider. The extent is the provider's logical
// size scaled by its scale factor.
func WindowFromProvider(p gpucontext.WindowProvider, display, handle uintptr) Window {
	w, h := p.Size()
	s := p.ScaleFactor()
	if s <= 0 {
		s = 1
	}
	return Window{
		Display: display,
		Handle:  handle,
		Width:   int(math.Round(float64(w) * s)),
		Height:  int(math.Round(float64(h) * s)),
	}
}

// InitSwapchain creates the Device's swapchain for win
// with Config.SwapchainImages images.
// It fails with driver.ErrCannotPresent if the driver
// cannot present.
func (d *Device) InitSwapchain(win Window) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	p, ok := d.gpu.(driver.Presenter)
	if !ok {
		return errors.Wrapf(driver.ErrCannotPresent, scPrefix+"%s driver", d.drv.Name())
	}
	d.scMu.Lock()
	defer d.scMu.Unlock()
	if d.sc != nil {
		assertf(scPrefix + "already initialized")
	}
	sc, err := p.NewSwapchain(win, d.cfg.SwapchainImages)
	if err != nil {
		return errors.Wrap(err, scPrefix+"creating")
	}
	d.sc = &swapchain{sc: sc, win: win, cur: -1}
	for i := range sc.Len() {
		d.sc.sync(d, i)
	}
	Logger().Info("rhi: swapchain created",
		"width", win.Width,
		"height", win.Height,
		"images", sc.Len(),
		"format", sc.Format().String())
	return nil
}

// sync wraps image i in a borrowed Texture if the driver
// image changed.
func (s *swapchain) sync(d *Device, i int) {
	img := s.sc.Image(i)
	for len(s.textures) <= i {
		s.textures = append(s.textures, nil)
	}
	if t := s.textures[i]; t != nil {
		if t.img == img {
			return
		}
		t.Release()
	}
	desc := TextureDesc{
		Name:      "swapchain " + strconv.Itoa(i),
		Format:    s.sc.Format(),
		Dim:       Tex2D,
		Width:     s.win.Width,
		Height:    s.win.Height,
		Depth:     1,
		MipLevels: 1,
		Layers:    1,
		Samples:   1,
		Usage:     textureUsageOf(s.sc.Usage()),
	}
	t := newTexture(img, &desc)
	t.borrowed = true
	d.track(t, kTexture, desc.Name)
	s.textures[i] = t
}

func textureUsageOf(u driver.Usage) (usg TextureUsage) {
	if u&driver.URenderTarget != 0 {
		usg |= TextureRenderTarget
	}
	if u&driver.UShaderSample != 0 {
		usg |= TextureSampled
	}
	if u&driver.UShaderWrite != 0 {
		usg |= TextureStorage
	}
	if u&driver.UCopySrc != 0 {
		usg |= TextureTransferSrc
	}
	if u&driver.UCopyDst != 0 {
		usg |= TextureTransferDst
	}
	return
}

// recreate recreates the swapchain with a new extent.
// d.scMu must be held.
func (d *Device) recreate(width, height int) error {
	s := d.sc
	if err := d.WaitIdle(); err != nil {
		return err
	}
	if err := s.sc.Recreate(width, height); err != nil {
		return errors.Wrap(err, scPrefix+"recreating")
	}
	s.win.Width, s.win.Height = width, height
	s.cur = -1
	for i := range s.sc.Len() {
		s.sync(d, i)
	}
	for i := s.sc.Len(); i < len(s.textures); i++ {
		s.textures[i].Release()
	}
	s.textures = s.textures[:s.sc.Len()]
	Logger().Info("rhi: swapchain recreated", "width", width, "height", height)
	return nil
}

// ResizeSwapchain recreates the swapchain with a new
// extent. Render targets that use swapchain textures
// must be created again.
func (d *Device) ResizeSwapchain(width, height int) error {
	d.scMu.Lock()
	defer d.scMu.Unlock()
	if d.sc == nil {
		return ErrNoSwapchain
	}
	return d.recreate(width, height)
}

// AcquireSwapchainIndex acquires the next swapchain
// image and returns its index. signal, if not nil, is
// signaled when the image is ready; the first submission
// that writes to the image must wait on it.
// The image content is undefined, so its texture's
// layouts are reset to LayoutUndefined.
// An out-of-date swapchain is recreated once.
func (d *Device) AcquireSwapchainIndex(signal *Semaphore) (int, error) {
	d.scMu.Lock()
	defer d.scMu.Unlock()
	s := d.sc
	if s == nil {
		return -1, ErrNoSwapchain
	}
	if s.cur >= 0 {
		assertf(scPrefix+"image %d acquired and not presented", s.cur)
	}
	var sem driver.Semaphore
	if signal != nil {
		sem = signal.sem
	}
	i, err := s.sc.Next(sem)
	if errors.Is(err, driver.ErrSwapchain) {
		Logger().Info("rhi: swapchain out of date", "err", err)
		if err = d.recreate(s.win.Width, s.win.Height); err == nil {
			i, err = s.sc.Next(sem)
		}
	}
	if err != nil {
		return -1, errors.Wrap(err, scPrefix+"acquiring image")
	}
	s.sync(d, i)
	t := s.textures[i]
	t.setLayout(t.All(), LayoutUndefined)
	s.cur = i
	return i, nil
}

// SwapchainTexture returns the texture of swapchain
// image i. It is owned by the swapchain and replaced
// when the swapchain is recreated.
func (d *Device) SwapchainTexture(i int) *Texture {
	d.scMu.Lock()
	defer d.scMu.Unlock()
	if d.sc == nil {
		return nil
	}
	return d.sc.textures[i]
}

// Present presents the acquired swapchain image.
// wait, if not nil, is waited on first. The image must
// have been transitioned to LayoutPresent by a submitted
// command list. An out-of-date swapchain is recreated
// and the frame is dropped.
func (d *Device) Present(wait *Semaphore) error {
	d.scMu.Lock()
	defer d.scMu.Unlock()
	s := d.sc
	if s == nil {
		return ErrNoSwapchain
	}
	if s.cur < 0 {
		assertf(scPrefix + "presenting without an acquired image")
	}
	var sem driver.Semaphore
	if wait != nil {
		sem = wait.sem
	}
	i := s.cur
	s.cur = -1
	err := s.sc.Present(i, sem)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driver.ErrSwapchain):
		Logger().Info("rhi: swapchain out of date", "err", err)
		return d.recreate(s.win.Width, s.win.Height)
	}
	return errors.Wrapf(err, scPrefix+"presenting image %d", i)
}

func (d *Device) destroySwapchain() {
	d.scMu.Lock()
	defer d.scMu.Unlock()
	s := d.sc
	if s == nil {
		return
	}
	for _, t := range s.textures {
		t.Release()
	}
	s.sc.Destroy()
	d.sc = nil
}

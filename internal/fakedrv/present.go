// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package fakedrv

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

// NewSwapchain implements driver.Presenter.
func (g *GPU) NewSwapchain(win driver.Window, imageCount int) (driver.Swapchain, error) {
	if win.Handle == 0 || win.Width <= 0 || win.Height <= 0 {
		return nil, driver.ErrWindow
	}
	sc := &Swapchain{gpu: g}
	if err := sc.create(win.Width, win.Height, imageCount); err != nil {
		return nil, err
	}
	return sc, nil
}

// Swapchain implements driver.Swapchain.
// Indices are handed out in round-robin order.
type Swapchain struct {
	gpu      *GPU
	imgs     []*Image
	acquired []bool
	next     int
	// Presented records the indices passed to Present.
	Presented []int
}

func (s *Swapchain) create(width, height, n int) error {
	s.destroyImages()
	s.imgs = make([]*Image, n)
	s.acquired = make([]bool, n)
	for i := range s.imgs {
		img, err := s.gpu.NewImage(driver.Img2D, driver.BGRA8un, driver.Dim3D{Width: width, Height: height}, 1, 1, 1, driver.URenderTarget|driver.UCopyDst)
		if err != nil {
			s.destroyImages()
			return err
		}
		s.imgs[i] = img.(*Image)
	}
	s.next = 0
	return nil
}

func (s *Swapchain) destroyImages() {
	for _, img := range s.imgs {
		if img != nil {
			img.Destroy()
		}
	}
	s.imgs = nil
}

// Destroy implements driver.Destroyer.
func (s *Swapchain) Destroy() { s.destroyImages() }

// Len implements driver.Swapchain.
func (s *Swapchain) Len() int { return len(s.imgs) }

// Image implements driver.Swapchain.
func (s *Swapchain) Image(index int) driver.Image { return s.imgs[index] }

// Next implements driver.Swapchain.
func (s *Swapchain) Next(signal driver.Semaphore) (int, error) {
	i := s.next
	if s.acquired[i] {
		return -1, driver.ErrNoBackbuffer
	}
	s.acquired[i] = true
	s.next = (s.next + 1) % len(s.imgs)
	return i, nil
}

// Present implements driver.Swapchain.
func (s *Swapchain) Present(index int, wait driver.Semaphore) error {
	if index < 0 || index >= len(s.imgs) || !s.acquired[index] {
		return errors.Newf("fakedrv: presenting image %d that was not acquired", index)
	}
	s.acquired[index] = false
	s.Presented = append(s.Presented, index)
	return nil
}

// Recreate implements driver.Swapchain.
func (s *Swapchain) Recreate(width, height int) error {
	return s.create(width, height, len(s.imgs))
}

// Format implements driver.Swapchain.
func (s *Swapchain) Format() driver.PixelFmt { return driver.BGRA8un }

// Usage implements driver.Swapchain.
func (s *Swapchain) Usage() driver.Usage { return driver.URenderTarget | driver.UCopyDst }

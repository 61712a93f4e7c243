// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package rhi is a rendering hardware interface.
//
// A Device creates ref-counted GPU resources and owns one
// CommandQueue per queue type. Commands are recorded into
// a CommandList, which tracks the layout of every texture
// subresource it touches and inserts the transitions that
// the recorded commands need. Uploads go through the
// list's TransferMemoryPool, whose staging chunks are only
// reused once the submission that read them has retired.
//
// The backend is selected at Open time among the drivers
// registered in package driver.
package rhi

import (
	"log/slog"

	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// QueueType identifies a class of execution queue.
type QueueType = driver.QueueType

// Queue types.
const (
	Graphics = driver.QGraphics
	Compute  = driver.QCompute
	Copy     = driver.QCopy
)

// Layout is the access pattern that a texture subresource
// is prepared for.
type Layout = driver.Layout

// Layouts.
const (
	LayoutUndefined   = driver.LUndefined
	LayoutGeneral     = driver.LCommon
	LayoutColorTarget = driver.LColorTarget
	LayoutDSTarget    = driver.LDSTarget
	LayoutDSRead      = driver.LDSRead
	LayoutCopySrc     = driver.LCopySrc
	LayoutCopyDst     = driver.LCopyDst
	LayoutShaderRead  = driver.LShaderRead
	LayoutPresent     = driver.LPresent
)

// PixelFmt is the format of a texel.
type PixelFmt = driver.PixelFmt

// Window identifies a native window.
type Window = driver.Window

// Limits (in addition to driver.Limits).
const (
	MaxColorAttachments = 8
	MaxVertexBuffers    = 8
	MaxBindingSets      = 4
)

// SetLogger sets the logger used by rhi, by the driver
// implementations and by the hal layer beneath them.
// Passing nil restores the default, which discards all
// output.
func SetLogger(l *slog.Logger) {
	driver.SetLogger(l)
	hal.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger { return driver.Logger() }

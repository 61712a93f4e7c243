// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

const texPrefix = "rhi: texture: "

// TextureDim is the dimension of a texture.
// The zero value is Tex2D.
type TextureDim int

// Texture dimensions.
const (
	Tex2D TextureDim = iota
	Tex1D
	Tex3D
	TexCube
	Tex1DArray
	Tex2DArray
	TexCubeArray
)

func (d TextureDim) String() string {
	switch d {
	case Tex1D:
		return "1D"
	case Tex2D:
		return "2D"
	case Tex3D:
		return "3D"
	case TexCube:
		return "cube"
	case Tex1DArray:
		return "1D array"
	case Tex2DArray:
		return "2D array"
	case TexCubeArray:
		return "cube array"
	}
	return "invalid"
}

func (d TextureDim) imageDim() driver.ImageDim {
	switch d {
	case Tex1D, Tex1DArray:
		return driver.Img1D
	case Tex3D:
		return driver.Img3D
	}
	return driver.Img2D
}

func (d TextureDim) isCube() bool { return d == TexCube || d == TexCubeArray }

func (d TextureDim) isArray() bool { return d == Tex1DArray || d == Tex2DArray || d == TexCubeArray }

// TextureUsage is a mask of texture usages.
type TextureUsage int

// Texture usages.
const (
	TextureSampled TextureUsage = 1 << iota
	TextureStorage
	TextureRenderTarget
	TextureTransferSrc
	TextureTransferDst
)

func (u TextureUsage) driverUsage() (usg driver.Usage) {
	if u&TextureSampled != 0 {
		usg |= driver.UShaderSample
	}
	if u&TextureStorage != 0 {
		usg |= driver.UShaderRead | driver.UShaderWrite
	}
	if u&TextureRenderTarget != 0 {
		usg |= driver.URenderTarget
	}
	if u&TextureTransferSrc != 0 {
		usg |= driver.UCopySrc
	}
	if u&TextureTransferDst != 0 {
		usg |= driver.UCopyDst
	}
	return
}

// TextureDesc describes a Texture.
// Zero values of Depth, MipLevels, Layers and Samples
// mean one (six layers for TexCube).
type TextureDesc struct {
	Name      string
	Format    PixelFmt
	Dim       TextureDim
	Width     int
	Height    int
	Depth     int
	MipLevels int
	Layers    int
	Samples   int
	Usage     TextureUsage
	Memory    MemoryType
}

// MipLevelsFor returns the length of a full mip chain
// for the given extent.
func MipLevelsFor(width, height, depth int) int {
	n := max(width, height, depth, 1)
	return bits.Len(uint(n))
}

// normalize fills in defaults and panics if desc is not
// internally consistent.
func (desc *TextureDesc) normalize() {
	if !desc.Format.IsValid() {
		assertf(texPrefix+"%q has invalid format %v", desc.Name, desc.Format)
	}
	if desc.Width < 1 {
		assertf(texPrefix+"%q has invalid width %d", desc.Name, desc.Width)
	}
	switch desc.Dim {
	case Tex1D, Tex1DArray:
		desc.Height = max(desc.Height, 1)
		desc.Depth = max(desc.Depth, 1)
		if desc.Height != 1 || desc.Depth != 1 {
			assertf(texPrefix+"%q: 1D texture with extent %dx%dx%d", desc.Name, desc.Width, desc.Height, desc.Depth)
		}
	case Tex2D, Tex2DArray, TexCube, TexCubeArray:
		desc.Depth = max(desc.Depth, 1)
		if desc.Height < 1 || desc.Depth != 1 {
			assertf(texPrefix+"%q: 2D texture with extent %dx%dx%d", desc.Name, desc.Width, desc.Height, desc.Depth)
		}
	case Tex3D:
		if desc.Height < 1 || desc.Depth < 1 {
			assertf(texPrefix+"%q: 3D texture with extent %dx%dx%d", desc.Name, desc.Width, desc.Height, desc.Depth)
		}
	default:
		assertf(texPrefix+"%q has invalid dimension %d", desc.Name, desc.Dim)
	}
	switch {
	case desc.Layers == 0 && desc.Dim.isCube():
		desc.Layers = 6
	case desc.Layers == 0:
		desc.Layers = 1
	}
	switch {
	case desc.Dim.isCube() && (desc.Layers%6 != 0 || desc.Layers < 6):
		assertf(texPrefix+"%q: cube texture with %d layers", desc.Name, desc.Layers)
	case desc.Dim == TexCube && desc.Layers != 6,
		!desc.Dim.isArray() && !desc.Dim.isCube() && desc.Layers != 1,
		desc.Layers < 1:
		assertf(texPrefix+"%q: %v texture with %d layers", desc.Name, desc.Dim, desc.Layers)
	}
	desc.MipLevels = max(desc.MipLevels, 1)
	if n := MipLevelsFor(desc.Width, desc.Height, desc.Depth); desc.MipLevels > n {
		assertf(texPrefix+"%q has %d mip levels (max %d)", desc.Name, desc.MipLevels, n)
	}
	desc.Samples = max(desc.Samples, 1)
	if desc.Samples > 1 {
		if (desc.Dim != Tex2D && desc.Dim != Tex2DArray) || desc.MipLevels != 1 {
			assertf(texPrefix+"%q: multisample %v texture with %d mip levels", desc.Name, desc.Dim, desc.MipLevels)
		}
		if desc.Samples&(desc.Samples-1) != 0 {
			assertf(texPrefix+"%q has invalid sample count %d", desc.Name, desc.Samples)
		}
	}
	if desc.Usage == 0 {
		assertf(texPrefix+"%q has no usage", desc.Name)
	}
}

// checkLimits returns an error if desc exceeds lim.
func (desc *TextureDesc) checkLimits(lim *driver.Limits) error {
	var n int
	switch desc.Dim {
	case Tex1D, Tex1DArray:
		n = lim.MaxImage1D
	case Tex2D, Tex2DArray:
		n = lim.MaxImage2D
	case TexCube, TexCubeArray:
		n = lim.MaxImageCube
	case Tex3D:
		n = lim.MaxImage3D
	}
	if n > 0 && max(desc.Width, desc.Height, desc.Depth) > n {
		return errors.Newf(texPrefix+"%q extent %dx%dx%d exceeds limit %d", desc.Name, desc.Width, desc.Height, desc.Depth, n)
	}
	if lim.MaxLayers > 0 && desc.Layers > lim.MaxLayers {
		return errors.Newf(texPrefix+"%q has %d layers (max %d)", desc.Name, desc.Layers, lim.MaxLayers)
	}
	return nil
}

// Subresources is a range of texture subresources.
// Zero Levels and Layers mean every level/layer from the
// base onwards.
type Subresources struct {
	BaseLevel int
	Levels    int
	BaseLayer int
	Layers    int
}

// ViewDesc describes a texture view.
// Zero Levels and Layers mean every level/layer from the
// base onwards.
type ViewDesc struct {
	Type driver.ViewType
	Subresources
}

// Texture is a ref-counted GPU image.
// It tracks the layout of each of its subresources.
type Texture struct {
	ref
	img  driver.Image
	desc TextureDesc
	// The layout of each subresource, indexed by
	// level*Layers + layer.
	layouts []Layout
	// Swapchain images are not owned.
	borrowed bool

	viewMu sync.Mutex
	views  map[ViewDesc]driver.ImageView
}

// CreateTexture creates a new Texture.
// Every subresource starts in LayoutUndefined.
func (d *Device) CreateTexture(desc *TextureDesc) (*Texture, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	td := *desc
	td.normalize()
	if td.Memory != DeviceLocal {
		return nil, errors.Mark(errors.Newf(texPrefix+"%q: %v memory not supported", td.Name, td.Memory), driver.ErrUnsupported)
	}
	if err := td.checkLimits(&d.limits); err != nil {
		return nil, errors.Mark(err, driver.ErrUnsupported)
	}
	usg := td.Usage.driverUsage()
	if sup := d.gpu.FormatSupport(td.Format); sup&usg != usg {
		return nil, errors.Mark(errors.Newf(texPrefix+"%q: format %v does not support usage %#x", td.Name, td.Format, usg&^sup), driver.ErrUnsupported)
	}
	img, err := d.gpu.NewImage(td.Dim.imageDim(), td.Format, driver.Dim3D{Width: td.Width, Height: td.Height, Depth: td.Depth}, td.Layers, td.MipLevels, td.Samples, usg)
	if err != nil {
		return nil, errors.Wrapf(err, texPrefix+"creating %q", td.Name)
	}
	t := newTexture(img, &td)
	d.track(t, kTexture, td.Name)
	return t, nil
}

func newTexture(img driver.Image, desc *TextureDesc) *Texture {
	layouts := make([]Layout, desc.MipLevels*desc.Layers)
	if LayoutUndefined != 0 {
		for i := range layouts {
			layouts[i] = LayoutUndefined
		}
	}
	return &Texture{
		img:     img,
		desc:    *desc,
		layouts: layouts,
		views:   make(map[ViewDesc]driver.ImageView),
	}
}

func (t *Texture) destroy() {
	t.viewMu.Lock()
	for _, v := range t.views {
		v.Destroy()
	}
	clear(t.views)
	t.viewMu.Unlock()
	if !t.borrowed {
		t.img.Destroy()
	}
	t.img = nil
}

// Desc returns the description of t, with defaults
// filled in.
func (t *Texture) Desc() TextureDesc { return t.desc }

// Format returns the pixel format.
func (t *Texture) Format() PixelFmt { return t.desc.Format }

// Extent returns the extent of the given mip level.
func (t *Texture) Extent(level int) driver.Dim3D {
	return driver.Dim3D{
		Width:  max(t.desc.Width>>level, 1),
		Height: max(t.desc.Height>>level, 1),
		Depth:  max(t.desc.Depth>>level, 1),
	}
}

// All returns the range of every subresource of t.
func (t *Texture) All() Subresources {
	return Subresources{Levels: t.desc.MipLevels, Layers: t.desc.Layers}
}

// resolve fills in the zero counts of r and panics if r
// is not a range of t.
func (t *Texture) resolve(r Subresources) Subresources {
	if r.Levels == 0 {
		r.Levels = t.desc.MipLevels - r.BaseLevel
	}
	if r.Layers == 0 {
		r.Layers = t.desc.Layers - r.BaseLayer
	}
	if r.BaseLevel < 0 || r.Levels < 1 || r.BaseLevel+r.Levels > t.desc.MipLevels ||
		r.BaseLayer < 0 || r.Layers < 1 || r.BaseLayer+r.Layers > t.desc.Layers {
		assertf(texPrefix+"%q: subresource range %+v out of bounds (%d levels, %d layers)", t.desc.Name, r, t.desc.MipLevels, t.desc.Layers)
	}
	return r
}

// Layout returns the tracked layout of a subresource.
func (t *Texture) Layout(level, layer int) Layout {
	t.resolve(Subresources{level, 1, layer, 1})
	return t.layouts[level*t.desc.Layers+layer]
}

// NumSubresources returns the number of subresources,
// which is the length of the layout table.
func (t *Texture) NumSubresources() int { return len(t.layouts) }

// defaultViewType returns the view type covering the
// whole texture.
func (t *Texture) defaultViewType() driver.ViewType {
	ms := t.desc.Samples > 1
	switch t.desc.Dim {
	case Tex1D:
		return driver.IView1D
	case Tex3D:
		return driver.IView3D
	case TexCube:
		return driver.IViewCube
	case Tex1DArray:
		return driver.IView1DArray
	case Tex2DArray:
		if ms {
			return driver.IView2DMSArray
		}
		return driver.IView2DArray
	case TexCubeArray:
		return driver.IViewCubeArray
	}
	if ms {
		return driver.IView2DMS
	}
	return driver.IView2D
}

// View returns the view described by desc, creating it
// if needed. Equal descriptions yield the same view.
// The view is owned by t.
func (t *Texture) View(desc ViewDesc) (driver.ImageView, error) {
	desc.Subresources = t.resolve(desc.Subresources)
	t.viewMu.Lock()
	defer t.viewMu.Unlock()
	if v, ok := t.views[desc]; ok {
		return v, nil
	}
	v, err := t.img.NewView(desc.Type, desc.BaseLayer, desc.Layers, desc.BaseLevel, desc.Levels)
	if err != nil {
		return nil, errors.Wrapf(err, texPrefix+"creating view of %q", t.desc.Name)
	}
	t.views[desc] = v
	return v, nil
}

// DefaultView returns the view of every subresource.
func (t *Texture) DefaultView() (driver.ImageView, error) {
	return t.View(ViewDesc{Type: t.defaultViewType()})
}

// Views returns the number of views created so far.
func (t *Texture) Views() int {
	t.viewMu.Lock()
	defer t.viewMu.Unlock()
	return len(t.views)
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package fakedrv implements driver.Driver in memory.
// Nothing executes: submitted work completes only when
// the test says so (Queue.Retire) or, in auto mode,
// immediately upon submission. Command buffers keep the
// commands recorded into them for inspection.
package fakedrv

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"

	"github.com/gviegas/rhi/driver"
)

// Name is the name under which the driver registers.
const Name = "fake"

func init() { driver.Register(&Driver{}) }

// Driver implements driver.Driver.
type Driver struct {
	mu  sync.Mutex
	gpu *GPU
}

// Open opens the driver.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu == nil {
		d.gpu = newGPU(d)
	}
	return d.gpu, nil
}

// Name returns "fake".
func (d *Driver) Name() string { return Name }

// Close closes the driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gpu = nil
}

// GPU implements driver.GPU.
type GPU struct {
	drv    *Driver
	queues [driver.NQueueType]*Queue

	mu          sync.Mutex
	live        map[string]int
	unsupported map[driver.PixelFmt]bool
	fail        error
	limits      driver.Limits
}

func newGPU(drv *Driver) *GPU {
	g := &GPU{
		drv:         drv,
		live:        make(map[string]int),
		unsupported: make(map[driver.PixelFmt]bool),
		limits: driver.Limits{
			MaxImage1D:        8192,
			MaxImage2D:        8192,
			MaxImageCube:      8192,
			MaxImage3D:        2048,
			MaxLayers:         256,
			MaxDescSets:       4,
			MaxDBufferRange:   1 << 27,
			MaxDConstantRange: 1 << 16,
			MinConstantAlign:  256,
			MaxColorTargets:   8,
			MaxVertexIn:       16,
			MaxDispatch:       [3]int{65535, 65535, 65535},
			MaxBufferSize:     1 << 28,
		},
	}
	for i := range g.queues {
		g.queues[i] = &Queue{gpu: g, typ: driver.QueueType(i)}
	}
	return g
}

// Live returns the number of objects of the given kind
// ("buffer", "image", "view", "sampler", "shader",
// "layout", "set", "pipeline", "semaphore", "cmdbuf")
// that were created and not yet destroyed.
func (g *GPU) Live(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live[kind]
}

// Unsupport makes FormatSupport report pf as unsupported.
func (g *GPU) Unsupport(pf driver.PixelFmt) {
	g.mu.Lock()
	g.unsupported[pf] = true
	g.mu.Unlock()
}

// FailNext makes the next resource creation fail with err.
func (g *GPU) FailNext(err error) {
	g.mu.Lock()
	g.fail = err
	g.mu.Unlock()
}

// SetLimits replaces the GPU limits.
func (g *GPU) SetLimits(l driver.Limits) {
	g.mu.Lock()
	g.limits = l
	g.mu.Unlock()
}

// FakeQueue returns the concrete queue of the given type.
func (g *GPU) FakeQueue(typ driver.QueueType) *Queue { return g.queues[typ] }

// SetAuto sets whether every queue completes submissions
// immediately.
func (g *GPU) SetAuto(auto bool) {
	for _, q := range g.queues {
		q.SetAuto(auto)
	}
}

func (g *GPU) create(kind string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail; err != nil {
		g.fail = nil
		return err
	}
	g.live[kind]++
	return nil
}

func (g *GPU) destroy(kind string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live[kind] == 0 {
		panic("fakedrv: " + kind + " destroyed more times than created")
	}
	g.live[kind]--
}

// Driver implements driver.GPU.
func (g *GPU) Driver() driver.Driver { return g.drv }

// Queue implements driver.GPU.
func (g *GPU) Queue(typ driver.QueueType) driver.Queue { return g.queues[typ] }

// NewCmdBuffer implements driver.GPU.
func (g *GPU) NewCmdBuffer(typ driver.QueueType) (driver.CmdBuffer, error) {
	if err := g.create("cmdbuf"); err != nil {
		return nil, err
	}
	return &CmdBuffer{gpu: g, typ: typ}, nil
}

// NewSemaphore implements driver.GPU.
func (g *GPU) NewSemaphore() (driver.Semaphore, error) {
	if err := g.create("semaphore"); err != nil {
		return nil, err
	}
	return &Semaphore{obj{g, "semaphore"}}, nil
}

// NewShaderCode implements driver.GPU.
func (g *GPU) NewShaderCode(spirv []uint32) (driver.ShaderCode, error) {
	if len(spirv) == 0 {
		return nil, errors.New("fakedrv: empty shader code")
	}
	if err := g.create("shader"); err != nil {
		return nil, err
	}
	return &ShaderCode{obj{g, "shader"}, append([]uint32(nil), spirv...)}, nil
}

// NewDescLayout implements driver.GPU.
func (g *GPU) NewDescLayout(ds []driver.Descriptor) (driver.DescLayout, error) {
	if err := g.create("layout"); err != nil {
		return nil, err
	}
	return &DescLayout{obj{g, "layout"}, append([]driver.Descriptor(nil), ds...)}, nil
}

// NewDescSet implements driver.GPU.
func (g *GPU) NewDescSet(layout driver.DescLayout, res []driver.DescRes) (driver.DescSet, error) {
	dl := layout.(*DescLayout)
	if len(res) != len(dl.Desc) {
		return nil, errors.Newf("fakedrv: descriptor set has %d resources, layout has %d", len(res), len(dl.Desc))
	}
	if err := g.create("set"); err != nil {
		return nil, err
	}
	return &DescSet{obj{g, "set"}, dl, append([]driver.DescRes(nil), res...)}, nil
}

// NewPipeline implements driver.GPU.
func (g *GPU) NewPipeline(state any) (driver.Pipeline, error) {
	switch state.(type) {
	case *driver.GraphState, *driver.CompState:
	default:
		return nil, errors.Newf("fakedrv: invalid pipeline state %T", state)
	}
	if err := g.create("pipeline"); err != nil {
		return nil, err
	}
	return &Pipeline{obj{g, "pipeline"}, state}, nil
}

// NewBuffer implements driver.GPU.
func (g *GPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if size <= 0 {
		return nil, errors.New("fakedrv: invalid buffer size")
	}
	if err := g.create("buffer"); err != nil {
		return nil, err
	}
	return &Buffer{obj{g, "buffer"}, make([]byte, size), visible, usg}, nil
}

// NewImage implements driver.GPU.
func (g *GPU) NewImage(dim driver.ImageDim, pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	if g.FormatSupport(pf)&usg != usg {
		return nil, driver.ErrUnsupported
	}
	if err := g.create("image"); err != nil {
		return nil, err
	}
	return &Image{
		obj:     obj{g, "image"},
		Dim:     dim,
		Format:  pf,
		Size:    size,
		Layers:  layers,
		Levels:  levels,
		Samples: samples,
		Usage:   usg,
	}, nil
}

// NewSampler implements driver.GPU.
func (g *GPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	if err := g.create("sampler"); err != nil {
		return nil, err
	}
	return &Sampler{obj{g, "sampler"}, *spln}, nil
}

// FormatSupport implements driver.GPU.
func (g *GPU) FormatSupport(pf driver.PixelFmt) driver.Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !pf.IsValid() || g.unsupported[pf] {
		return 0
	}
	if pf.IsDS() {
		return driver.UShaderSample | driver.URenderTarget | driver.UCopySrc | driver.UCopyDst
	}
	return driver.UGeneric
}

// WaitIdle implements driver.GPU.
// It retires every submission.
func (g *GPU) WaitIdle() error {
	for _, q := range g.queues {
		q.Retire(q.Submitted())
	}
	return nil
}

// Limits implements driver.GPU.
func (g *GPU) Limits() driver.Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// Info implements driver.GPU.
func (g *GPU) Info() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "fake", Type: gpucontext.AdapterTypeSoftware}
}

// Submit records one call to Queue.Submit.
type Submit struct {
	Cmds      [][]Cmd
	Wait      []driver.Wait
	WaitSem   []driver.Semaphore
	SignalSem []driver.Semaphore
	Signal    uint64
}

// Queue implements driver.Queue.
type Queue struct {
	gpu *GPU
	typ driver.QueueType

	mu        sync.Mutex
	auto      bool
	submitted uint64
	completed uint64
	log       []Submit
}

// SetAuto sets whether q completes submissions immediately.
func (q *Queue) SetAuto(auto bool) {
	q.mu.Lock()
	q.auto = auto
	if auto {
		q.completed = q.submitted
	}
	q.mu.Unlock()
}

// Retire advances the completion counter to value.
// The counter never moves past the last submitted value
// and never decreases.
func (q *Queue) Retire(value uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	value = min(value, q.submitted)
	if value > q.completed {
		q.completed = value
	}
}

// Submitted returns the highest value signaled so far.
func (q *Queue) Submitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted
}

// Log returns a copy of the submissions made to q.
func (q *Queue) Log() []Submit {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Submit(nil), q.log...)
}

// Type implements driver.Queue.
func (q *Queue) Type() driver.QueueType { return q.typ }

// Submit implements driver.Queue.
func (q *Queue) Submit(cb []driver.CmdBuffer, sub *driver.Submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sub.Signal <= q.submitted {
		return errors.Newf("fakedrv: signal value %d not greater than %d", sub.Signal, q.submitted)
	}
	s := Submit{
		Wait:      append([]driver.Wait(nil), sub.Wait...),
		WaitSem:   append([]driver.Semaphore(nil), sub.WaitSem...),
		SignalSem: append([]driver.Semaphore(nil), sub.SignalSem...),
		Signal:    sub.Signal,
	}
	for _, c := range cb {
		c := c.(*CmdBuffer)
		if c.state != executable {
			return errors.New("fakedrv: command buffer not ended")
		}
		c.state = pending
		s.Cmds = append(s.Cmds, append([]Cmd(nil), c.Cmds...))
	}
	q.log = append(q.log, s)
	q.submitted = sub.Signal
	if q.auto {
		q.completed = q.submitted
	}
	return nil
}

// Completed implements driver.Queue.
func (q *Queue) Completed() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed, nil
}

// Wait implements driver.Queue.
// It never blocks: work only completes through Retire
// or auto mode.
func (q *Queue) Wait(value uint64, _ time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed >= value, nil
}

type obj struct {
	gpu  *GPU
	kind string
}

// Destroy implements driver.Destroyer.
func (o *obj) Destroy() {
	if o.gpu == nil {
		panic("fakedrv: " + o.kind + " destroyed twice")
	}
	o.gpu.destroy(o.kind)
	o.gpu = nil
}

// Destroyed returns whether Destroy was called.
func (o *obj) Destroyed() bool { return o.gpu == nil }

// Semaphore implements driver.Semaphore.
type Semaphore struct{ obj }

// ShaderCode implements driver.ShaderCode.
type ShaderCode struct {
	obj
	Words []uint32
}

// DescLayout implements driver.DescLayout.
type DescLayout struct {
	obj
	Desc []driver.Descriptor
}

// DescSet implements driver.DescSet.
type DescSet struct {
	obj
	Layout *DescLayout
	Res    []driver.DescRes
}

// Pipeline implements driver.Pipeline.
type Pipeline struct {
	obj
	State any
}

// Buffer implements driver.Buffer.
type Buffer struct {
	obj
	data    []byte
	visible bool
	Usage   driver.Usage
}

// Visible implements driver.Buffer.
func (b *Buffer) Visible() bool { return b.visible }

// Bytes implements driver.Buffer.
func (b *Buffer) Bytes() []byte {
	if !b.visible {
		return nil
	}
	return b.data
}

// Data returns the buffer contents regardless of
// visibility.
func (b *Buffer) Data() []byte { return b.data }

// Cap implements driver.Buffer.
func (b *Buffer) Cap() int64 { return int64(len(b.data)) }

// Image implements driver.Image.
type Image struct {
	obj
	Dim     driver.ImageDim
	Format  driver.PixelFmt
	Size    driver.Dim3D
	Layers  int
	Levels  int
	Samples int
	Usage   driver.Usage
}

// NewView implements driver.Image.
func (m *Image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	if layer < 0 || layers < 1 || layer+layers > m.Layers || level < 0 || levels < 1 || level+levels > m.Levels {
		return nil, errors.Newf("fakedrv: view range out of bounds: layers [%d, %d), levels [%d, %d)", layer, layer+layers, level, level+levels)
	}
	if err := m.gpu.create("view"); err != nil {
		return nil, err
	}
	return &ImageView{obj{m.gpu, "view"}, m, typ, layer, layers, level, levels}, nil
}

// ImageView implements driver.ImageView.
type ImageView struct {
	obj
	Image  *Image
	Type   driver.ViewType
	Layer  int
	Layers int
	Level  int
	Levels int
}

// Sampler implements driver.Sampler.
type Sampler struct {
	obj
	Sampling driver.Sampling
}

// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/rhi/driver"
	"github.com/gviegas/rhi/internal/ctxt"
	"github.com/gviegas/rhi/internal/slotmap"
)

// Device is the root of every GPU resource.
// It owns one CommandQueue per QueueType, the binding
// and pipeline caches and, optionally, a swapchain.
// Resource creation is safe for concurrent use.
type Device struct {
	cfg    Config
	drv    driver.Driver
	gpu    driver.GPU
	limits driver.Limits
	closed atomic.Bool

	queues    [driver.NQueueType]*CommandQueue
	layouts   *BindingLayoutCache
	sets      *BindingCache
	pipelines *PipelineCache

	liveMu sync.Mutex
	live   slotmap.Map[resource]

	poolMu sync.Mutex
	pools  map[*TransferMemoryPool]struct{}

	scMu sync.Mutex
	sc   *swapchain
}

var _ gpucontext.DeviceProvider = (*Device)(nil)

// Open selects and opens a driver and creates a Device
// using it.
// Driver selection is described in Config.Driver; the
// RHI_DRIVER environment variable is used when no name
// is given.
func Open(opts ...Option) (*Device, error) {
	cfg := newConfig(opts)
	drv, gpu, err := ctxt.Open(cfg.Driver)
	if err != nil {
		return nil, errors.Wrap(err, "rhi: opening driver")
	}
	d := &Device{
		cfg:    cfg,
		drv:    drv,
		gpu:    gpu,
		limits: gpu.Limits(),
		pools:  make(map[*TransferMemoryPool]struct{}),
	}
	for i := range d.queues {
		d.queues[i] = newCommandQueue(d, driver.QueueType(i))
	}
	d.layouts = &BindingLayoutCache{dev: d, cache: newCache[*BindingLayout]("binding layout")}
	d.sets = &BindingCache{dev: d, cache: newCache[*BindingSet]("binding set")}
	d.pipelines = &PipelineCache{dev: d, cache: newCache[*Pipeline]("pipeline")}
	info := gpu.Info()
	Logger().Info("rhi: device opened",
		"driver", drv.Name(),
		"adapter", info.Name,
		"type", info.Type.String(),
		"maxInFlight", cfg.MaxInFlight,
		"chunkSize", cfg.ChunkSize)
	return d, nil
}

// Close waits for the GPU to become idle and destroys
// everything that the Device owns. Resources that are
// still alive are released and logged as leaks.
// Calling Close more than once has no effect.
func (d *Device) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	if err := d.WaitIdle(); err != nil {
		Logger().Warn("rhi: closing busy device", "err", err)
	}
	d.destroySwapchain()
	d.pipelines.drain()
	d.sets.drain()
	d.layouts.drain()
	d.poolMu.Lock()
	pools := make([]*TransferMemoryPool, 0, len(d.pools))
	for p := range d.pools {
		pools = append(pools, p)
	}
	d.poolMu.Unlock()
	for _, p := range pools {
		p.Destroy()
	}
	for _, q := range d.queues {
		q.destroy()
	}
	if n := d.LiveResources(); n > 0 {
		Logger().Warn("rhi: resources leaked", "count", n)
		d.releaseLeaks()
	}
	d.drv.Close()
	Logger().Info("rhi: device closed", "driver", d.drv.Name())
}

func (d *Device) checkOpen() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Config returns the configuration in use.
func (d *Device) Config() Config { return d.cfg }

// Limits returns the implementation limits.
func (d *Device) Limits() driver.Limits { return d.limits }

// GPU returns the underlying driver.GPU.
func (d *Device) GPU() driver.GPU { return d.gpu }

// Driver returns the driver that the Device was opened
// with.
func (d *Device) Driver() driver.Driver { return d.drv }

// CommandQueue returns the queue of type typ.
func (d *Device) CommandQueue(typ QueueType) *CommandQueue { return d.queues[typ] }

// LayoutCache returns the Device's binding layout cache.
func (d *Device) LayoutCache() *BindingLayoutCache { return d.layouts }

// BindingCache returns the Device's binding set cache.
func (d *Device) BindingCache() *BindingCache { return d.sets }

// PipelineCache returns the Device's pipeline cache.
func (d *Device) PipelineCache() *PipelineCache { return d.pipelines }

// WaitForSubmissionID waits until the submission id of
// the queue of type typ retires.
// Each attempt blocks for at most Config.WaitTimeout;
// attempts smaller than 1 means Config.WaitAttempts.
// It returns false if the submission did not retire
// after every attempt.
func (d *Device) WaitForSubmissionID(typ QueueType, id uint64, attempts int) bool {
	if attempts < 1 {
		attempts = d.cfg.WaitAttempts
	}
	q := d.queues[typ]
	for range attempts {
		if q.WaitForCommandSubmission(id, d.cfg.WaitTimeout) {
			return true
		}
	}
	Logger().Warn("rhi: submission did not retire",
		"queue", typ.String(),
		"id", id,
		"finished", q.LastFinished(),
		"attempts", attempts)
	return false
}

// WaitIdle blocks until every queue has retired all of
// its submissions.
// It is meant for shutdown and swapchain recreation.
func (d *Device) WaitIdle() error {
	if err := d.gpu.WaitIdle(); err != nil {
		return errors.Wrap(err, "rhi: waiting for idle GPU")
	}
	var g errgroup.Group
	for _, q := range d.queues {
		g.Go(func() error {
			id := q.LastSubmissionID()
			if !d.WaitForSubmissionID(q.typ, id, 0) {
				return errors.Mark(errors.Newf("rhi: %s queue did not retire submission %d", q.typ, id), driver.ErrTimeout)
			}
			q.ProcessInFlightCommands()
			return nil
		})
	}
	return g.Wait()
}

// CreateSemaphore creates a binary semaphore.
func (d *Device) CreateSemaphore() (*Semaphore, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	sem, err := d.gpu.NewSemaphore()
	if err != nil {
		return nil, errors.Wrap(err, "rhi: creating semaphore")
	}
	return &Semaphore{sem: sem}, nil
}

// Device implements gpucontext.DeviceProvider.
// It returns the driver.GPU.
func (d *Device) Device() gpucontext.Device { return d.gpu }

// Queue implements gpucontext.DeviceProvider.
// It returns the graphics driver.Queue.
func (d *Device) Queue() gpucontext.Queue { return d.gpu.Queue(driver.QGraphics) }

// SurfaceFormat implements gpucontext.DeviceProvider.
func (d *Device) SurfaceFormat() gputypes.TextureFormat {
	d.scMu.Lock()
	defer d.scMu.Unlock()
	if d.sc == nil {
		return gputypes.TextureFormatUndefined
	}
	return d.sc.sc.Format().TextureFormat()
}

// Adapter implements gpucontext.DeviceProvider.
// It returns the driver.Driver.
func (d *Device) Adapter() gpucontext.Adapter { return d.drv }

// AdapterInfo implements gpucontext.DeviceProvider.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo { return d.gpu.Info() }

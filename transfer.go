// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

const tmPrefix = "rhi: transfer: "

// TransferMemory is a range of host-visible staging
// memory returned by TransferMemoryPool.
type TransferMemory struct {
	Buffer driver.Buffer
	Offset int64
	Size   int64
	data   []byte
}

// Bytes returns the memory of m for writing.
func (m TransferMemory) Bytes() []byte { return m.data }

// chunk is one staging buffer.
// version is the ID of the submission that last read
// from it, or Unsubmitted while the chunk is open.
type chunk struct {
	buf     driver.Buffer
	size    int64
	cursor  int64
	version uint64
}

// TransferMemoryPool sub-allocates staging memory from
// chunks that are recycled once the submission that
// used them retires.
// A pool is owned by a single recording goroutine.
type TransferMemoryPool struct {
	dev       *Device
	q         *CommandQueue
	chunkSize int64

	open *chunk
	// Chunks that filled up before being submitted.
	pending   []*chunk
	submitted []*chunk
}

// NewTransferMemoryPool creates a pool whose chunks are
// tracked against the queue of type typ.
// Chunks have at least Config.ChunkSize bytes.
func (d *Device) NewTransferMemoryPool(typ QueueType) *TransferMemoryPool {
	p := &TransferMemoryPool{
		dev:       d,
		q:         d.queues[typ],
		chunkSize: d.cfg.ChunkSize,
	}
	d.poolMu.Lock()
	d.pools[p] = struct{}{}
	d.poolMu.Unlock()
	return p
}

// Suballocate returns size bytes of staging memory.
// The offset is aligned to driver.CopyAlign.
func (p *TransferMemoryPool) Suballocate(size int64) (TransferMemory, error) {
	return p.SuballocateAligned(size, driver.CopyAlign)
}

// SuballocateAligned is like Suballocate but aligns the
// offset to align, which must be a power of two.
// Allocations never span chunks: when the open chunk
// lacks room, it is retired and a retired chunk large
// enough is reopened, or else a new chunk is created.
func (p *TransferMemoryPool) SuballocateAligned(size, align int64) (TransferMemory, error) {
	if size <= 0 || align <= 0 || align&(align-1) != 0 {
		assertf(tmPrefix+"invalid suballocation (size %d, align %d)", size, align)
	}
	if c := p.open; c != nil {
		off := (c.cursor + align - 1) &^ (align - 1)
		if off+size <= c.size {
			c.cursor = off + size
			return p.mem(c, off, size), nil
		}
		p.pending = append(p.pending, c)
		p.open = nil
	}
	fin := p.q.QueryTrackingID()
	for i, c := range p.submitted {
		if c.version <= fin && c.size >= size {
			p.submitted = slices.Delete(p.submitted, i, i+1)
			c.cursor = size
			c.version = Unsubmitted
			p.open = c
			Logger().Debug("rhi: staging chunk reused", "size", c.size, "version", fin)
			return p.mem(c, 0, size), nil
		}
	}
	n := max(size, p.chunkSize)
	buf, err := p.dev.gpu.NewBuffer(n, true, driver.UCopySrc)
	if err != nil {
		return TransferMemory{}, errors.Wrapf(err, tmPrefix+"creating %d-byte chunk", n)
	}
	c := &chunk{buf: buf, size: n, cursor: size}
	p.open = c
	Logger().Debug("rhi: staging chunk created", "size", n, "chunks", p.Stats().Chunks)
	return p.mem(c, 0, size), nil
}

func (p *TransferMemoryPool) mem(c *chunk, off, size int64) TransferMemory {
	return TransferMemory{
		Buffer: c.buf,
		Offset: off,
		Size:   size,
		data:   c.buf.Bytes()[off : off+size : off+size],
	}
}

// Submit tags the open and pending chunks with
// submission id. They can be reused once it retires.
func (p *TransferMemoryPool) Submit(id uint64) {
	if id == Unsubmitted {
		assertf(tmPrefix + "submitting with invalid ID")
	}
	if p.open != nil {
		p.pending = append(p.pending, p.open)
		p.open = nil
	}
	for _, c := range p.pending {
		c.version = id
		p.submitted = append(p.submitted, c)
	}
	clear(p.pending)
	p.pending = p.pending[:0]
}

// PoolStats describes the chunks of a TransferMemoryPool.
type PoolStats struct {
	Chunks    int
	Open      int
	Pending   int
	Submitted int
	// Total size of the chunks.
	Bytes int64
}

// Stats returns the current pool statistics.
func (p *TransferMemoryPool) Stats() PoolStats {
	s := PoolStats{Pending: len(p.pending), Submitted: len(p.submitted)}
	s.Chunks = s.Pending + s.Submitted
	for _, c := range p.pending {
		s.Bytes += c.size
	}
	for _, c := range p.submitted {
		s.Bytes += c.size
	}
	if p.open != nil {
		s.Open = 1
		s.Chunks++
		s.Bytes += p.open.size
	}
	return s
}

// Destroy destroys the chunks of p.
// Chunks whose submission did not retire are destroyed
// by the queue later.
func (p *TransferMemoryPool) Destroy() {
	p.dev.poolMu.Lock()
	_, ok := p.dev.pools[p]
	delete(p.dev.pools, p)
	p.dev.poolMu.Unlock()
	if !ok {
		return
	}
	if p.open != nil {
		p.open.buf.Destroy()
		p.open = nil
	}
	for _, c := range p.pending {
		c.buf.Destroy()
	}
	p.pending = nil
	for _, c := range p.submitted {
		p.q.destroyAfter(c.version, c.buf)
	}
	p.submitted = nil
}

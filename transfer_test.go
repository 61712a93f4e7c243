// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"testing"

	"github.com/gviegas/rhi/driver"
)

func TestSuballocate(t *testing.T) {
	d, _ := openFake(t, WithChunkSize(4096))
	p := d.NewTransferMemoryPool(Copy)
	defer p.Destroy()

	var mems []TransferMemory
	for _, n := range [...]int64{100, 3, 7, 256} {
		m, err := p.Suballocate(n)
		if err != nil {
			t.Fatalf("TransferMemoryPool.Suballocate:\nhave %#v\nwant nil", err)
		}
		if m.Size != n || int64(len(m.Bytes())) != n {
			t.Fatalf("TransferMemoryPool.Suballocate: size\nhave %d (%d bytes)\nwant %d", m.Size, len(m.Bytes()), n)
		}
		if m.Offset%driver.CopyAlign != 0 {
			t.Fatalf("TransferMemoryPool.Suballocate: offset %d not aligned to %d", m.Offset, driver.CopyAlign)
		}
		mems = append(mems, m)
	}
	for i := 1; i < len(mems); i++ {
		prev, cur := mems[i-1], mems[i]
		if cur.Buffer != prev.Buffer {
			t.Fatal("TransferMemoryPool.Suballocate: small allocations spanned chunks")
		}
		if cur.Offset < prev.Offset+prev.Size {
			t.Fatalf("TransferMemoryPool.Suballocate: [%d, %d) overlaps [%d, %d)",
				cur.Offset, cur.Offset+cur.Size, prev.Offset, prev.Offset+prev.Size)
		}
	}
	m, err := p.SuballocateAligned(16, driver.CopyOffAlign)
	if err != nil {
		t.Fatalf("TransferMemoryPool.SuballocateAligned:\nhave %#v\nwant nil", err)
	}
	if m.Offset != driver.CopyOffAlign {
		t.Fatalf("TransferMemoryPool.SuballocateAligned: offset\nhave %d\nwant %d", m.Offset, driver.CopyOffAlign)
	}
	if s := p.Stats(); s.Chunks != 1 || s.Open != 1 || s.Bytes != 4096 {
		t.Fatalf("TransferMemoryPool.Stats:\nhave %+v\nwant one open 4096-byte chunk", s)
	}

	// Allocations larger than the chunk size get a chunk
	// of their own.
	big, err := p.Suballocate(10000)
	if err != nil {
		t.Fatalf("TransferMemoryPool.Suballocate (large):\nhave %#v\nwant nil", err)
	}
	if big.Offset != 0 || big.Buffer == m.Buffer {
		t.Fatal("TransferMemoryPool.Suballocate (large): not placed in a new chunk")
	}
	if s := p.Stats(); s.Chunks != 2 || s.Pending != 1 || s.Open != 1 || s.Bytes != 4096+10000 {
		t.Fatalf("TransferMemoryPool.Stats:\nhave %+v\nwant {Chunks:2 Open:1 Pending:1 Bytes:14096}", s)
	}

	checkAssert(t, "TransferMemoryPool.Suballocate (zero size)", func() { p.Suballocate(0) })
	checkAssert(t, "TransferMemoryPool.SuballocateAligned (bad alignment)", func() { p.SuballocateAligned(4, 3) })
}

func TestTransferChunkReuse(t *testing.T) {
	d, gpu := openFake(t, WithChunkSize(4096))
	q := d.CommandQueue(Copy)
	fq := gpu.FakeQueue(driver.QCopy)
	p := d.NewTransferMemoryPool(Copy)
	defer p.Destroy()

	a, err := p.Suballocate(1024)
	if err != nil {
		t.Fatalf("TransferMemoryPool.Suballocate:\nhave %#v\nwant nil", err)
	}
	for q.LastSubmissionID() < 6 {
		submitEmpty(t, q)
	}

	p.Submit(5)
	b, err := p.Suballocate(1024)
	if err != nil {
		t.Fatalf("TransferMemoryPool.Suballocate:\nhave %#v\nwant nil", err)
	}
	if b.Buffer == a.Buffer {
		t.Fatal("TransferMemoryPool.Suballocate: reused a chunk whose submission did not retire")
	}

	p.Submit(6)
	fq.Retire(5)
	c, err := p.Suballocate(1024)
	if err != nil {
		t.Fatalf("TransferMemoryPool.Suballocate:\nhave %#v\nwant nil", err)
	}
	if c.Buffer != a.Buffer || c.Offset != 0 {
		t.Fatalf("TransferMemoryPool.Suballocate: retired chunk not reused at offset 0 (offset %d)", c.Offset)
	}
	if s := p.Stats(); s.Chunks != 2 || s.Open != 1 || s.Submitted != 1 {
		t.Fatalf("TransferMemoryPool.Stats:\nhave %+v\nwant {Chunks:2 Open:1 Submitted:1}", s)
	}
	if n := gpu.Live("buffer"); n != 2 {
		t.Fatalf("fakedrv.GPU.Live(\"buffer\"):\nhave %d\nwant 2", n)
	}
}

func TestTransferPoolDestroy(t *testing.T) {
	d, gpu := openFake(t, WithChunkSize(1024))
	q := d.CommandQueue(Graphics)
	p := d.NewTransferMemoryPool(Graphics)
	if _, err := p.Suballocate(64); err != nil {
		t.Fatalf("TransferMemoryPool.Suballocate:\nhave %#v\nwant nil", err)
	}
	_, id := submitEmpty(t, q)
	p.Submit(id)
	if _, err := p.Suballocate(2048); err != nil {
		t.Fatalf("TransferMemoryPool.Suballocate:\nhave %#v\nwant nil", err)
	}
	p.Destroy()
	if n := gpu.Live("buffer"); n != 1 {
		t.Fatalf("fakedrv.GPU.Live(\"buffer\") after Destroy:\nhave %d\nwant 1", n)
	}
	gpu.FakeQueue(driver.QGraphics).Retire(id)
	q.QueryTrackingID()
	q.ProcessInFlightCommands()
	if n := gpu.Live("buffer"); n != 0 {
		t.Fatalf("fakedrv.GPU.Live(\"buffer\") after retirement:\nhave %d\nwant 0", n)
	}
	// Destroying twice is a no-op.
	p.Destroy()
}

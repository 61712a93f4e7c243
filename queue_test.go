// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

// submitEmpty records an empty command buffer on q and
// submits it.
func submitEmpty(t *testing.T, q *CommandQueue) (*CommandBuffer, uint64) {
	t.Helper()
	cb, err := q.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CommandQueue.CreateCommandBuffer:\nhave %#v\nwant nil", err)
	}
	if err := cb.Native().End(); err != nil {
		t.Fatalf("driver.CmdBuffer.End:\nhave %#v\nwant nil", err)
	}
	id, err := q.SubmitCommandBuffers([]*CommandBuffer{cb})
	if err != nil {
		t.Fatalf("CommandQueue.SubmitCommandBuffers:\nhave %#v\nwant nil", err)
	}
	return cb, id
}

func TestSubmissionIDs(t *testing.T) {
	d, gpu := openFake(t)
	q := d.CommandQueue(Graphics)
	fq := gpu.FakeQueue(driver.QGraphics)
	var prev uint64
	for i := range 3 {
		_, id := submitEmpty(t, q)
		if id <= prev {
			t.Fatalf("CommandQueue.SubmitCommandBuffers (%d):\nhave %d\nwant > %d", i, id, prev)
		}
		prev = id
		fq.Retire(id)
	}
	if x := q.LastSubmissionID(); x != prev {
		t.Fatalf("CommandQueue.LastSubmissionID:\nhave %d\nwant %d", x, prev)
	}
	if x := q.QueryTrackingID(); x != prev {
		t.Fatalf("CommandQueue.QueryTrackingID:\nhave %d\nwant %d", x, prev)
	}
	// Other queues have their own counters.
	if _, id := submitEmpty(t, d.CommandQueue(Compute)); id != 1 {
		t.Fatalf("CommandQueue.SubmitCommandBuffers (compute):\nhave %d\nwant 1", id)
	}
}

func TestCommandBufferRecycling(t *testing.T) {
	d, gpu := openFake(t)
	q := d.CommandQueue(Graphics)
	fq := gpu.FakeQueue(driver.QGraphics)

	cb1, id := submitEmpty(t, q)
	if cb1.SubmissionID() != id {
		t.Fatalf("CommandBuffer.SubmissionID:\nhave %d\nwant %d", cb1.SubmissionID(), id)
	}
	cb2, err := q.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CommandQueue.CreateCommandBuffer:\nhave %#v\nwant nil", err)
	}
	if cb2 == cb1 {
		t.Fatal("CommandQueue.CreateCommandBuffer: recycled a buffer that did not retire")
	}
	if s := q.Stats(); s.Buffers != 2 || s.Free != 0 || s.InFlight != 1 {
		t.Fatalf("CommandQueue.Stats:\nhave %+v\nwant {Buffers:2 Free:0 InFlight:1}", s)
	}
	q.Discard(cb2)

	fq.Retire(id)
	if !q.PollCommandSubmission(id) {
		t.Fatal("CommandQueue.PollCommandSubmission: have false, want true")
	}
	if n := q.ProcessInFlightCommands(); n != 1 {
		t.Fatalf("CommandQueue.ProcessInFlightCommands:\nhave %d\nwant 1", n)
	}
	if s := q.Stats(); s.Buffers != 2 || s.Free != 2 || s.InFlight != 0 {
		t.Fatalf("CommandQueue.Stats:\nhave %+v\nwant {Buffers:2 Free:2 InFlight:0}", s)
	}
	cb3, err := q.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CommandQueue.CreateCommandBuffer:\nhave %#v\nwant nil", err)
	}
	if cb3 != cb1 {
		t.Fatal("CommandQueue.CreateCommandBuffer: did not recycle the first free buffer")
	}
	if cb3.SubmissionID() != Unsubmitted {
		t.Fatalf("CommandBuffer.SubmissionID after recycling:\nhave %d\nwant %d", cb3.SubmissionID(), Unsubmitted)
	}
	q.Discard(cb3)
	if n := gpu.Live("cmdbuf"); n != 2 {
		t.Fatalf("fakedrv.GPU.Live(\"cmdbuf\"):\nhave %d\nwant 2", n)
	}
}

func TestCommandBufferResources(t *testing.T) {
	d, gpu := openFake(t)
	q := d.CommandQueue(Graphics)
	b := newTestBuffer(t, d, 64, BufferVertex, DeviceLocal)
	cb, err := q.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CommandQueue.CreateCommandBuffer:\nhave %#v\nwant nil", err)
	}
	cb.use(b)
	cb.use(b)
	if n := b.Refs(); n != 2 {
		t.Fatalf("Buffer.Refs in use:\nhave %d\nwant 2", n)
	}
	cb.Native().End()
	id, err := q.SubmitCommandBuffers([]*CommandBuffer{cb})
	if err != nil {
		t.Fatalf("CommandQueue.SubmitCommandBuffers:\nhave %#v\nwant nil", err)
	}
	b.Release()
	if gpu.Live("buffer") != 1 {
		t.Fatal("Buffer.Release: destroyed while in flight")
	}
	gpu.FakeQueue(driver.QGraphics).Retire(id)
	q.QueryTrackingID()
	q.ProcessInFlightCommands()
	if gpu.Live("buffer") != 0 {
		t.Fatal("CommandQueue.ProcessInFlightCommands: buffer not released")
	}
}

func TestMaxInFlight(t *testing.T) {
	d, gpu := openFake(t, WithMaxInFlight(1), WithWaitAttempts(1))
	q := d.CommandQueue(Graphics)
	fq := gpu.FakeQueue(driver.QGraphics)

	_, id := submitEmpty(t, q)
	cb, err := q.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CommandQueue.CreateCommandBuffer:\nhave %#v\nwant nil", err)
	}
	cb.Native().End()
	if _, err := q.SubmitCommandBuffers([]*CommandBuffer{cb}); !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("CommandQueue.SubmitCommandBuffers (full):\nhave %v\nwant %v", err, driver.ErrTimeout)
	}
	if cb.SubmissionID() != Unsubmitted {
		t.Fatal("CommandQueue.SubmitCommandBuffers: failed submission changed the buffer")
	}

	fq.Retire(id)
	id2, err := q.SubmitCommandBuffers([]*CommandBuffer{cb})
	if err != nil {
		t.Fatalf("CommandQueue.SubmitCommandBuffers (retired):\nhave %#v\nwant nil", err)
	}
	if id2 != id+1 {
		t.Fatalf("CommandQueue.SubmitCommandBuffers (retired):\nhave %d\nwant %d", id2, id+1)
	}
	if x := q.LastFinished(); x != id {
		t.Fatalf("CommandQueue.LastFinished:\nhave %d\nwant %d", x, id)
	}
}

func TestUnboundedInFlight(t *testing.T) {
	d, _ := openFake(t)
	if n := d.Config().MaxInFlight; n != 0 {
		t.Fatalf("Device.Config: MaxInFlight\nhave %d\nwant 0", n)
	}
	q := d.CommandQueue(Copy)
	for i := range 8 {
		if _, id := submitEmpty(t, q); id != uint64(i+1) {
			t.Fatalf("CommandQueue.SubmitCommandBuffers (%d):\nhave %d\nwant %d", i, id, i+1)
		}
	}
	if s := q.Stats(); s.InFlight != 8 {
		t.Fatalf("CommandQueue.Stats: InFlight\nhave %d\nwant 8", s.InFlight)
	}
	if x := q.LastFinished(); x != 0 {
		t.Fatalf("CommandQueue.LastFinished:\nhave %d\nwant 0", x)
	}
}

func TestSubmitDuplicateBuffer(t *testing.T) {
	d, gpu := openFake(t, WithMaxInFlight(1), WithWaitAttempts(1))
	q := d.CommandQueue(Graphics)
	cb, err := q.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CommandQueue.CreateCommandBuffer:\nhave %#v\nwant nil", err)
	}
	cb.Native().End()
	checkAssert(t, "CommandQueue.SubmitCommandBuffers (duplicate)", func() {
		q.SubmitCommandBuffers([]*CommandBuffer{cb, cb})
	})
	if n := len(gpu.FakeQueue(driver.QGraphics).Log()); n != 0 || cb.SubmissionID() != Unsubmitted {
		t.Fatalf("CommandQueue.SubmitCommandBuffers (duplicate):\nhave %d submissions, ID %d\nwant 0, %d", n, cb.SubmissionID(), Unsubmitted)
	}
	// The permit taken by the rejected batch was returned.
	if _, err := q.SubmitCommandBuffers([]*CommandBuffer{cb}); err != nil {
		t.Fatalf("CommandQueue.SubmitCommandBuffers:\nhave %#v\nwant nil", err)
	}
}

func TestWaitForCommandSubmission(t *testing.T) {
	d, gpu := openFake(t)
	q := d.CommandQueue(Copy)
	_, id := submitEmpty(t, q)
	if q.WaitForCommandSubmission(id, 0) {
		t.Fatal("CommandQueue.WaitForCommandSubmission: have true, want false")
	}
	if q.WaitForCommandSubmission(id+1, 0) {
		t.Fatal("CommandQueue.WaitForCommandSubmission (unsubmitted ID): have true, want false")
	}
	gpu.FakeQueue(driver.QCopy).Retire(id)
	if !q.WaitForCommandSubmission(id, 0) {
		t.Fatal("CommandQueue.WaitForCommandSubmission: have false, want true")
	}
	if !d.WaitForSubmissionID(Copy, id, 1) {
		t.Fatal("Device.WaitForSubmissionID: have false, want true")
	}
}

func TestQueueDependencies(t *testing.T) {
	d, gpu := openFake(t)
	gq := d.CommandQueue(Graphics)
	cq := d.CommandQueue(Compute)
	_, cid := submitEmpty(t, cq)

	gq.AddWaitQueue(cq, cid)
	gq.AddWaitQueue(cq, Unsubmitted)
	sem, err := d.CreateSemaphore()
	if err != nil {
		t.Fatalf("Device.CreateSemaphore:\nhave %#v\nwant nil", err)
	}
	defer sem.Destroy()
	gq.AddSignalSemaphore(sem)
	submitEmpty(t, gq)
	submitEmpty(t, gq)

	log := gpu.FakeQueue(driver.QGraphics).Log()
	if len(log) != 2 {
		t.Fatalf("fakedrv.Queue.Log: len\nhave %d\nwant 2", len(log))
	}
	if w := log[0].Wait; len(w) != 1 || w[0].Value != cid || w[0].Queue != cq.q {
		t.Fatalf("fakedrv.Queue.Log()[0].Wait:\nhave %+v\nwant one wait on compute value %d", w, cid)
	}
	if len(log[0].SignalSem) != 1 {
		t.Fatalf("fakedrv.Queue.Log()[0].SignalSem: len\nhave %d\nwant 1", len(log[0].SignalSem))
	}
	if len(log[1].Wait) != 0 || len(log[1].SignalSem) != 0 {
		t.Fatal("CommandQueue.SubmitCommandBuffers: waits and signals not cleared after submission")
	}
	checkAssert(t, "CommandQueue.AddWaitQueue (self)", func() { gq.AddWaitQueue(gq, 1) })
}

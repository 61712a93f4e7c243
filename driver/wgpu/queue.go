// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"

	"github.com/gviegas/rhi/driver"
)

// mark associates a Queue's signal value with the hal
// submission index that completes it.
type mark struct {
	value uint64
	index uint64
}

// deferred is a submission that waits on a value that
// was not submitted to hal yet.
type deferred struct {
	cb   []*CmdBuffer
	sub  driver.Submission
	wait []driver.Wait
}

// Queue implements driver.Queue.
// Every Queue feeds the single hal queue, in which
// execution follows submission order. A cross-queue wait
// is therefore satisfied as soon as the awaited value is
// submitted to hal, and submissions whose dependencies
// were not submitted yet are deferred until they are.
// The fields below are guarded by gpu.submitMu.
type Queue struct {
	gpu *GPU
	typ driver.QueueType

	last      uint64 // last value passed to Submit
	flushed   uint64 // last value submitted to hal
	completed uint64
	marks     []mark
	pending   []deferred
}

// Type implements driver.Queue.
func (q *Queue) Type() driver.QueueType { return q.typ }

// Submit implements driver.Queue.
func (q *Queue) Submit(cb []driver.CmdBuffer, sub *driver.Submission) error {
	g := q.gpu
	g.submitMu.Lock()
	defer g.submitMu.Unlock()
	if sub.Signal <= q.last {
		return errors.AssertionFailedf("wgpu: signal value %d not greater than %d", sub.Signal, q.last)
	}
	d := deferred{cb: make([]*CmdBuffer, len(cb)), sub: *sub}
	for i := range cb {
		c := cb[i].(*CmdBuffer)
		if c.done == nil {
			return errors.AssertionFailedf("wgpu: command buffer submitted before End")
		}
		d.cb[i] = c
	}
	for _, w := range sub.Wait {
		if w.Queue.(*Queue) != q {
			d.wait = append(d.wait, w)
		}
	}
	prev := q.last
	q.last = sub.Signal
	q.pending = append(q.pending, d)
	if err := g.flushPending(); err != nil {
		if q.flushed >= sub.Signal {
			// This submission reached hal; a deferred
			// one from another queue failed.
			driver.Logger().Warn("wgpu: flushing deferred submission", "queue", q.typ.String(), "err", err)
			return nil
		}
		if n := len(q.pending); n > 0 && q.pending[n-1].sub.Signal == sub.Signal {
			q.pending = q.pending[:n-1]
		}
		q.last = prev
		return err
	}
	return nil
}

// ready returns whether every dependency of d was
// submitted to hal.
func (d *deferred) ready() bool {
	for _, w := range d.wait {
		if w.Queue.(*Queue).flushed < w.Value {
			return false
		}
	}
	return true
}

// flushPending submits, in order, every deferred
// submission whose dependencies are satisfied, until no
// progress can be made.
// It must be called with submitMu held.
func (g *GPU) flushPending() error {
	for progress := true; progress; {
		progress = false
		for _, q := range g.queues {
			for len(q.pending) > 0 && q.pending[0].ready() {
				d := q.pending[0]
				q.pending = q.pending[1:]
				if err := q.submitNow(&d); err != nil {
					return err
				}
				progress = true
			}
		}
	}
	return nil
}

func (q *Queue) submitNow(d *deferred) error {
	cmds := make([]hal.CommandBuffer, len(d.cb))
	for i, c := range d.cb {
		cmds[i] = c.done
	}
	idx, err := q.gpu.hq.Submit(cmds)
	if err != nil {
		return convErr(err)
	}
	q.marks = append(q.marks, mark{d.sub.Signal, idx})
	q.flushed = d.sub.Signal
	if len(d.wait) > 0 {
		driver.Logger().Debug("wgpu: deferred submission flushed", "queue", q.typ.String(), "signal", d.sub.Signal)
	}
	return nil
}

// Completed implements driver.Queue.
func (q *Queue) Completed() (uint64, error) {
	g := q.gpu
	g.submitMu.Lock()
	defer g.submitMu.Unlock()
	return q.poll(), nil
}

// poll must be called with submitMu held.
func (q *Queue) poll() uint64 {
	done := q.gpu.hq.PollCompleted()
	n := 0
	for n < len(q.marks) && q.marks[n].index <= done {
		q.completed = q.marks[n].value
		n++
	}
	if n > 0 {
		q.marks = q.marks[n:]
	}
	return q.completed
}

// Wait implements driver.Queue.
// hal has no way to block on a submission index, so this
// method polls until the value is reached or the timeout
// elapses.
func (q *Queue) Wait(value uint64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Microsecond
	for {
		v, err := q.Completed()
		if err != nil || v >= value {
			return err == nil, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(min(backoff, time.Until(deadline)))
		backoff = min(backoff*2, time.Millisecond)
	}
}

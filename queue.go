// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"

	"github.com/gviegas/rhi/driver"
	"github.com/gviegas/rhi/internal/bitvec"
)

const cqPrefix = "rhi: queue: "

// Unsubmitted is the submission ID of command buffers
// and staging chunks that were not submitted yet.
// Valid submission IDs start at 1.
const Unsubmitted uint64 = 0

// Semaphore is a binary semaphore used to order GPU
// work against presentation.
type Semaphore struct {
	sem driver.Semaphore
}

// Destroy destroys s.
// It must not be in use by the GPU.
func (s *Semaphore) Destroy() {
	if s.sem != nil {
		s.sem.Destroy()
		s.sem = nil
	}
}

// CommandBuffer is a pooled command buffer.
// It belongs to the CommandQueue that created it and is
// recycled once its submission retires.
type CommandBuffer struct {
	q            *CommandQueue
	cb           driver.CmdBuffer
	index        int
	submissionID uint64
	// Resources referenced by recorded commands.
	used map[ResourceID]resource
}

// SubmissionID returns the ID of the submission that
// cb was part of, or Unsubmitted.
func (cb *CommandBuffer) SubmissionID() uint64 { return cb.submissionID }

// Native returns the driver.CmdBuffer of cb.
func (cb *CommandBuffer) Native() driver.CmdBuffer { return cb.cb }

// use retains r until cb is recycled.
func (cb *CommandBuffer) use(r resource) {
	id := r.base().id
	if _, ok := cb.used[id]; !ok {
		r.base().Retain()
		cb.used[id] = r
	}
}

type deferred struct {
	id uint64
	d  driver.Destroyer
}

// CommandQueue wraps a driver.Queue with a pool of
// command buffers and a tracking counter.
// Submission IDs are strictly increasing and never
// reused. When Config.MaxInFlight is set, the number
// of submissions that have not retired is bounded by it.
type CommandQueue struct {
	dev      *Device
	typ      QueueType
	q        driver.Queue
	inFlight *semaphore.Weighted

	mu           sync.Mutex
	bufs         []*CommandBuffer
	busy         bitvec.V[uint32]
	lastID       uint64
	lastFinished uint64
	// IDs of unretired submissions, ascending.
	permits    []uint64
	waits      []driver.Wait
	waitSems   []driver.Semaphore
	signalSems []driver.Semaphore
	deferred   []deferred
}

func newCommandQueue(d *Device, typ QueueType) *CommandQueue {
	q := &CommandQueue{
		dev: d,
		typ: typ,
		q:   d.gpu.Queue(typ),
	}
	if d.cfg.MaxInFlight > 0 {
		q.inFlight = semaphore.NewWeighted(int64(d.cfg.MaxInFlight))
	}
	return q
}

// Type returns the queue type.
func (q *CommandQueue) Type() QueueType { return q.typ }

// CreateCommandBuffer returns a command buffer ready for
// recording. Retired buffers are recycled before a new
// one is created.
func (q *CommandQueue) CreateCommandBuffer() (*CommandBuffer, error) {
	q.QueryTrackingID()
	q.ProcessInFlightCommands()
	q.mu.Lock()
	defer q.mu.Unlock()
	i, ok := q.busy.Search()
	if !ok {
		i = q.busy.Len()
		q.busy.GrowBits(i + 1)
	}
	for len(q.bufs) <= i {
		q.bufs = append(q.bufs, nil)
	}
	cb := q.bufs[i]
	if cb == nil {
		native, err := q.dev.gpu.NewCmdBuffer(q.typ)
		if err != nil {
			return nil, errors.Wrapf(err, cqPrefix+"creating %s command buffer", q.typ)
		}
		cb = &CommandBuffer{q: q, cb: native, index: i, used: make(map[ResourceID]resource)}
		q.bufs[i] = cb
		Logger().Debug("rhi: command buffer created", "queue", q.typ.String(), "index", i)
	} else if cb.submissionID != Unsubmitted {
		assertf(cqPrefix+"recycling command buffer %d of submission %d", i, cb.submissionID)
	}
	if err := cb.cb.Begin(); err != nil {
		return nil, errors.Wrapf(err, cqPrefix+"beginning %s command buffer", q.typ)
	}
	q.busy.Set(i)
	return cb, nil
}

// Discard returns cb to the pool without submitting it.
func (q *CommandQueue) Discard(cb *CommandBuffer) {
	q.mu.Lock()
	if cb.q != q || cb.submissionID != Unsubmitted {
		q.mu.Unlock()
		assertf(cqPrefix+"discarding foreign or submitted command buffer")
	}
	rel := q.recycle(cb)
	q.mu.Unlock()
	for _, r := range rel {
		r.base().Release()
	}
}

// recycle resets cb and marks it free.
// It returns the resources that cb was holding.
// q.mu must be held.
func (q *CommandQueue) recycle(cb *CommandBuffer) []resource {
	if err := cb.cb.Reset(); err != nil {
		Logger().Warn("rhi: resetting command buffer", "queue", q.typ.String(), "err", err)
	}
	rel := make([]resource, 0, len(cb.used))
	for _, r := range cb.used {
		rel = append(rel, r)
	}
	clear(cb.used)
	cb.submissionID = Unsubmitted
	q.busy.Unset(cb.index)
	return rel
}

// acquire takes an in-flight permit, retiring finished
// work and waiting for the oldest submission while the
// queue is full.
// It never fails on unbounded queues.
func (q *CommandQueue) acquire() error {
	if q.inFlight == nil {
		return nil
	}
	cfg := &q.dev.cfg
	for range cfg.WaitAttempts + 1 {
		if q.inFlight.TryAcquire(1) {
			return nil
		}
		q.mu.Lock()
		var oldest uint64
		if len(q.permits) > 0 {
			oldest = q.permits[0]
		}
		q.mu.Unlock()
		q.WaitForCommandSubmission(oldest, cfg.WaitTimeout)
		q.ProcessInFlightCommands()
	}
	Logger().Warn("rhi: too many submissions in flight",
		"queue", q.typ.String(),
		"maxInFlight", cfg.MaxInFlight,
		"finished", q.LastFinished())
	return errors.Mark(errors.Newf(cqPrefix+"%s queue has %d submissions in flight", q.typ, cfg.MaxInFlight), driver.ErrTimeout)
}

// release returns n in-flight permits.
func (q *CommandQueue) release(n int) {
	if q.inFlight != nil && n > 0 {
		q.inFlight.Release(int64(n))
	}
}

// SubmitCommandBuffers submits bufs as one batch and
// returns its submission ID.
// Queued waits and signals are attached to the batch
// and cleared. Every buffer must have been ended and
// must not have been submitted before.
func (q *CommandQueue) SubmitCommandBuffers(bufs []*CommandBuffer) (uint64, error) {
	if err := q.dev.checkOpen(); err != nil {
		return 0, err
	}
	if err := q.acquire(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	native := make([]driver.CmdBuffer, len(bufs))
	for i, cb := range bufs {
		switch {
		case cb.q != q:
			q.release(1)
			assertf(cqPrefix+"submitting command buffer of %s queue to %s queue", cb.q.typ, q.typ)
		case cb.submissionID != Unsubmitted:
			q.release(1)
			assertf(cqPrefix+"command buffer %d already submitted as %d", cb.index, cb.submissionID)
		case slices.Contains(native[:i], cb.cb):
			q.release(1)
			assertf(cqPrefix+"command buffer %d submitted twice in one batch", cb.index)
		}
		native[i] = cb.cb
	}
	id := q.lastID + 1
	sub := driver.Submission{
		Wait:      q.waits,
		WaitSem:   q.waitSems,
		SignalSem: q.signalSems,
		Signal:    id,
	}
	if err := q.q.Submit(native, &sub); err != nil {
		q.release(1)
		return 0, errors.Wrapf(err, cqPrefix+"submitting to %s queue", q.typ)
	}
	q.lastID = id
	for _, cb := range bufs {
		cb.submissionID = id
	}
	q.permits = append(q.permits, id)
	q.waits = nil
	q.waitSems = nil
	q.signalSems = nil
	return id, nil
}

// setFinished updates lastFinished and releases the
// permits of retired submissions.
// q.mu must be held.
func (q *CommandQueue) setFinished(v uint64) {
	v = min(v, q.lastID)
	if v > q.lastFinished {
		q.lastFinished = v
	}
	n := 0
	for n < len(q.permits) && q.permits[n] <= q.lastFinished {
		n++
	}
	if n > 0 {
		q.permits = q.permits[n:]
		q.release(n)
	}
}

// QueryTrackingID reads the queue's completion counter
// and returns the ID of the last retired submission.
// The result never decreases and is never greater than
// LastSubmissionID.
func (q *CommandQueue) QueryTrackingID() uint64 {
	v, err := q.q.Completed()
	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		Logger().Warn("rhi: reading completion counter", "queue", q.typ.String(), "err", err)
		return q.lastFinished
	}
	q.setFinished(v)
	return q.lastFinished
}

// ProcessInFlightCommands recycles the command buffers
// whose submission retired, releasing the resources
// they were holding, and runs deferred destructions.
// It uses the last value read by QueryTrackingID and
// returns the number of buffers recycled.
func (q *CommandQueue) ProcessInFlightCommands() int {
	q.mu.Lock()
	fin := q.lastFinished
	var rel []resource
	n := 0
	for _, cb := range q.bufs {
		if cb == nil || cb.submissionID == Unsubmitted || cb.submissionID > fin {
			continue
		}
		rel = append(rel, q.recycle(cb)...)
		n++
	}
	var ds []driver.Destroyer
	keep := q.deferred[:0]
	for _, x := range q.deferred {
		if x.id <= fin {
			ds = append(ds, x.d)
		} else {
			keep = append(keep, x)
		}
	}
	q.deferred = keep
	q.mu.Unlock()
	for _, r := range rel {
		r.base().Release()
	}
	for _, d := range ds {
		d.Destroy()
	}
	return n
}

// destroyAfter destroys d once submission id retires.
func (q *CommandQueue) destroyAfter(id uint64, d driver.Destroyer) {
	q.mu.Lock()
	if id <= q.lastFinished {
		q.mu.Unlock()
		d.Destroy()
		return
	}
	q.deferred = append(q.deferred, deferred{id, d})
	q.mu.Unlock()
}

// PollCommandSubmission reports whether submission id
// has retired, without blocking.
func (q *CommandQueue) PollCommandSubmission(id uint64) bool {
	return id <= q.QueryTrackingID()
}

// WaitForCommandSubmission blocks until submission id
// retires or timeout elapses.
// It reports whether the submission retired.
func (q *CommandQueue) WaitForCommandSubmission(id uint64, timeout time.Duration) bool {
	if q.PollCommandSubmission(id) {
		return true
	}
	if id > q.LastSubmissionID() {
		return false
	}
	ok, err := q.q.Wait(id, timeout)
	if err != nil {
		Logger().Warn("rhi: waiting for submission", "queue", q.typ.String(), "id", id, "err", err)
		return false
	}
	if ok {
		q.mu.Lock()
		q.setFinished(id)
		q.mu.Unlock()
	}
	return ok
}

// AddWaitQueue makes the next submission wait until
// other's submission value retires.
func (q *CommandQueue) AddWaitQueue(other *CommandQueue, value uint64) {
	if other == q {
		assertf(cqPrefix+"%s queue waiting on itself", q.typ)
	}
	if value == Unsubmitted {
		return
	}
	q.mu.Lock()
	q.waits = append(q.waits, driver.Wait{Queue: other.q, Value: value})
	q.mu.Unlock()
}

// AddWaitSemaphore makes the next submission wait on s.
func (q *CommandQueue) AddWaitSemaphore(s *Semaphore) {
	q.mu.Lock()
	q.waitSems = append(q.waitSems, s.sem)
	q.mu.Unlock()
}

// AddSignalSemaphore makes the next submission signal s.
func (q *CommandQueue) AddSignalSemaphore(s *Semaphore) {
	q.mu.Lock()
	q.signalSems = append(q.signalSems, s.sem)
	q.mu.Unlock()
}

// LastSubmissionID returns the ID of the last submission.
func (q *CommandQueue) LastSubmissionID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastID
}

// LastFinished returns the ID of the last submission
// known to have retired.
func (q *CommandQueue) LastFinished() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastFinished
}

// QueueStats describes the command buffer pool of a
// CommandQueue.
type QueueStats struct {
	Buffers  int
	Free     int
	InFlight int
}

// Stats returns the current pool statistics.
func (q *CommandQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s QueueStats
	for _, cb := range q.bufs {
		if cb == nil {
			continue
		}
		s.Buffers++
		if !q.busy.IsSet(cb.index) {
			s.Free++
		}
	}
	s.InFlight = len(q.permits)
	return s
}

// destroy destroys every command buffer of q.
// Work that did not retire is abandoned.
func (q *CommandQueue) destroy() {
	q.QueryTrackingID()
	q.ProcessInFlightCommands()
	q.mu.Lock()
	var rel []resource
	for i, cb := range q.bufs {
		if cb == nil {
			continue
		}
		if cb.submissionID != Unsubmitted {
			Logger().Warn("rhi: destroying busy command buffer", "queue", q.typ.String(), "id", cb.submissionID)
		}
		for _, r := range cb.used {
			rel = append(rel, r)
		}
		cb.cb.Destroy()
		q.bufs[i] = nil
	}
	q.bufs = nil
	q.busy = bitvec.V[uint32]{}
	ds := q.deferred
	q.deferred = nil
	q.mu.Unlock()
	for _, r := range rel {
		r.base().Release()
	}
	for _, x := range ds {
		x.d.Destroy()
	}
}

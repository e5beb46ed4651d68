package task

import (
	"sync"
	"sync/atomic"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
)

// handle is the part of a task's identity that survives rescheduling: every
// generation of the same logical task (see regenerateAndDeprecate) shares
// one handle, so a caller's Done() channel fires exactly once no matter how
// many times the task was recomputed in between.
type handle struct {
	done chan struct{}
	once sync.Once
}

func newHandle() *handle {
	return &handle{done: make(chan struct{})}
}

func (h *handle) close() {
	h.once.Do(func() { close(h.done) })
}

// Task is a handle to a single scheduled callback.
type Task struct {
	clock     clock.Clock
	whenTicks float64
	callback  func()
	when      float64 // monotonic-source seconds; set once queued
	n         int      // generation: incremented each time a clock change forces a reschedule
	index     int      // heap bookkeeping

	deleted int32 // atomic bool: set when superseded by a reschedule or canceled
	h       *handle
}

// Done returns a channel that is closed once the task's callback has run
// (or the task was canceled before it could).
func (t *Task) Done() <-chan struct{} { return t.h.done }

// Cancel prevents the task's callback from running, if it has not already,
// and unblocks anyone waiting on Done.
func (t *Task) Cancel() {
	atomic.StoreInt32(&t.deleted, 1)
	t.h.close()
}

func (t *Task) canceled() bool {
	return atomic.LoadInt32(&t.deleted) != 0
}

// regenerateAndDeprecate marks t as superseded and returns a fresh task for
// the same clock/whenTicks/callback with an incremented generation number,
// so it will be recomputed and take t's place in the heap.
func (t *Task) regenerateAndDeprecate() *Task {
	atomic.StoreInt32(&t.deleted, 1)
	return &Task{
		clock:     t.clock,
		whenTicks: t.whenTicks,
		callback:  t.callback,
		n:         t.n + 1,
		h:         t.h,
	}
}

// taskHeap is a container/heap.Interface ordered by scheduled time, ties
// broken by generation number (newer generations, i.e. more recently
// rescheduled tasks, sort after older ones scheduled for the same instant).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].n < h[j].n
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

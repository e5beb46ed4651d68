// Package task provides scheduling and sleeping primitives for code that
// needs to wait for a clock (see package clock) to reach a particular tick
// value, rather than waiting for a fixed amount of wall-clock time. If the
// clock is adjusted (its speed, tick rate, correlation or an ancestor's
// changes) while a task is pending, the task's target time is automatically
// recalculated and the task rescheduled.
package task

import (
	"container/heap"
	"log/slog"
	"sync"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/monotonic"
)

// Scheduler runs scheduled callbacks on a single internal goroutine. Pass a
// monotonic.Source to control what "now" means for its waits — the real
// system source for production use, or a monotonic.Virtual for tests.
type Scheduler struct {
	source monotonic.Source
	log    *slog.Logger

	mu         sync.Mutex
	taskHeap   taskHeap
	clockTasks map[clock.Clock]map[*Task]bool
	pendingAdd []pendingAdd
	pendingRes []clock.Clock
	wake       chan struct{}

	stop    chan struct{}
	stopped chan struct{}
}

type pendingAdd struct {
	clock     clock.Clock
	whenTicks float64
	callback  func()
	task      *Task
}

// NewScheduler starts the scheduler's runloop on a new goroutine.
func NewScheduler(source monotonic.Source, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		source:     source,
		log:        log,
		clockTasks: make(map[clock.Clock]map[*Task]bool),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule queues callback to run (on the scheduler's goroutine) once clock
// reaches or passes whenTicks. It returns a Task handle; Task.Cancel
// prevents the callback from firing if it has not already.
func (s *Scheduler) Schedule(c clock.Clock, whenTicks float64, callback func()) *Task {
	t := &Task{clock: c, whenTicks: whenTicks, callback: callback, h: newHandle()}
	s.mu.Lock()
	s.pendingAdd = append(s.pendingAdd, pendingAdd{clock: c, whenTicks: whenTicks, callback: callback, task: t})
	s.mu.Unlock()
	s.signal()
	return t
}

// Notify implements clock.Dependent: the scheduler binds itself directly to
// every clock it has pending tasks against, so that adjustments to that
// clock (or any of its ancestors, propagated down) trigger rescheduling.
func (s *Scheduler) Notify(cause clock.Clock) {
	s.mu.Lock()
	s.pendingRes = append(s.pendingRes, cause)
	s.mu.Unlock()
	s.signal()
}

// Stop halts the scheduler's goroutine. Pending tasks never fire.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for {
		s.drainAdds()
		s.drainReschedules()
		s.runDue()

		var waitSecs float64
		haveWait := false
		s.mu.Lock()
		if len(s.taskHeap) > 0 {
			waitSecs = s.taskHeap[0].when - s.source.Now()
			haveWait = true
		}
		s.mu.Unlock()

		if !haveWait {
			select {
			case <-s.wake:
			case <-s.stop:
				return
			}
			continue
		}
		if waitSecs <= 0 {
			continue
		}
		// The sleep runs on its own goroutine so that a newly scheduled
		// task with an earlier deadline, or a reschedule, can interrupt
		// the wait immediately via s.wake rather than waiting it out; an
		// abandoned sleep simply finishes on its own later and its result
		// is discarded.
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.source.Sleep(waitSecs)
		}()
		select {
		case <-done:
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) drainAdds() {
	s.mu.Lock()
	adds := s.pendingAdd
	s.pendingAdd = nil
	s.mu.Unlock()

	for _, a := range adds {
		a.task.when = a.clock.CalcWhen(a.whenTicks)
		s.mu.Lock()
		if !isNaN(a.task.when) {
			heap.Push(&s.taskHeap, a.task)
		}
		tasks, ok := s.clockTasks[a.clock]
		if !ok {
			tasks = make(map[*Task]bool)
			s.clockTasks[a.clock] = tasks
			a.clock.Bind(s)
		}
		tasks[a.task] = true
		s.mu.Unlock()
	}
}

func (s *Scheduler) drainReschedules() {
	s.mu.Lock()
	causes := s.pendingRes
	s.pendingRes = nil
	s.mu.Unlock()

	for _, c := range causes {
		s.mu.Lock()
		tasks := s.clockTasks[c]
		current := make([]*Task, 0, len(tasks))
		for t := range tasks {
			current = append(current, t)
		}
		for _, t := range current {
			if t.canceled() {
				delete(tasks, t)
				continue
			}
			newTask := t.regenerateAndDeprecate()
			newTask.when = c.CalcWhen(newTask.whenTicks)
			if !isNaN(newTask.when) {
				heap.Push(&s.taskHeap, newTask)
			}
			delete(tasks, t)
			tasks[newTask] = true
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) runDue() {
	now := s.source.Now()
	for {
		s.mu.Lock()
		if len(s.taskHeap) == 0 {
			s.mu.Unlock()
			return
		}
		top := s.taskHeap[0]
		if !top.canceled() && top.when > now {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.taskHeap).(*Task)
		s.mu.Unlock()

		if !t.canceled() {
			s.fire(t)
		}

		s.mu.Lock()
		if tasks, ok := s.clockTasks[t.clock]; ok {
			delete(tasks, t)
			if len(tasks) == 0 {
				delete(s.clockTasks, t.clock)
				t.clock.Unbind(s)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) fire(t *Task) {
	defer t.h.close()
	if t.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled task", "recovered", r)
		}
	}()
	t.callback()
}

func isNaN(f float64) bool { return f != f }

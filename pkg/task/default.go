package task

import (
	"sync"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/monotonic"
)

var (
	defaultOnce sync.Once
	defaultSchd *Scheduler
)

// Default returns the process-wide scheduler, starting it on first use
// against the real monotonic time source.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultSchd = NewScheduler(monotonic.Default, nil)
	})
	return defaultSchd
}

// ScheduleEvent queues an event to fire on the default scheduler once c
// reaches whenTicks; callers wait on the returned Task's Done channel.
func ScheduleEvent(c clock.Clock, whenTicks float64) *Task {
	return Default().Schedule(c, whenTicks, nil)
}

// RunAt calls callback on the default scheduler's goroutine once c reaches
// whenTicks.
func RunAt(c clock.Clock, whenTicks float64, callback func()) *Task {
	return Default().Schedule(c, whenTicks, callback)
}

// SleepUntil blocks the calling goroutine until c reaches whenTicks.
func SleepUntil(c clock.Clock, whenTicks float64) {
	<-ScheduleEvent(c, whenTicks).Done()
}

// SleepFor blocks the calling goroutine until numTicks further ticks of c
// have elapsed.
func SleepFor(c clock.Clock, numTicks float64) {
	SleepUntil(c, numTicks+c.Ticks())
}

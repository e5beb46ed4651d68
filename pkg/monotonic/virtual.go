package monotonic

import "sync"

// Virtual is a test double for Source, modelled on pydvbcss's mock_time
// module: tests drive time forward explicitly instead of waiting on the
// wall clock. Sleep blocks until the virtual clock is advanced at least as
// far as the requested wake time.
type Virtual struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     float64
	waiters []virtualWaiter
}

type virtualWaiter struct {
	wake float64
	done chan struct{}
}

// NewVirtual creates a Virtual source starting at t=0.
func NewVirtual() *Virtual {
	v := &Virtual{}
	v.cond = sync.NewCond(&v.mu)
	return v
}

// Now returns the current virtual time in seconds.
func (v *Virtual) Now() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Sleep blocks until the virtual clock has been advanced by at least
// `seconds` beyond the current reading.
func (v *Virtual) Sleep(seconds float64) {
	if seconds <= 0 {
		return
	}
	v.mu.Lock()
	wake := v.now + seconds
	done := make(chan struct{})
	v.waiters = append(v.waiters, virtualWaiter{wake: wake, done: done})
	v.mu.Unlock()
	<-done
}

// Advance moves the virtual clock forward by `seconds`, waking any
// Sleep calls whose target time has now been reached.
func (v *Virtual) Advance(seconds float64) {
	v.mu.Lock()
	v.now += seconds
	v.wakeLocked()
	v.mu.Unlock()
}

// Set moves the virtual clock to an absolute reading. It must not move
// backwards.
func (v *Virtual) Set(t float64) {
	v.mu.Lock()
	if t > v.now {
		v.now = t
	}
	v.wakeLocked()
	v.mu.Unlock()
}

func (v *Virtual) wakeLocked() {
	remaining := v.waiters[:0]
	for _, w := range v.waiters {
		if v.now >= w.wake {
			close(w.done)
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining
}

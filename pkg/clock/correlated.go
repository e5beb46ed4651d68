package clock

import (
	"math"
	"sync"
)

// CorrelatedClock is a fixed-tick-rate clock whose relationship to its
// parent is defined by a single Correlation point, a tick rate, and a
// speed multiplier. Mutating tickRate, speed, correlation or parent stores
// the new value and, if it actually changed, fires a notification.
type CorrelatedClock struct {
	base
	mu          sync.RWMutex
	parent      Clock
	tickRate    float64
	speed       float64
	correlation Correlation
}

func NewCorrelatedClock(parent Clock, tickRate float64, correlation Correlation) *CorrelatedClock {
	c := &CorrelatedClock{
		base:        newBase(),
		parent:      parent,
		tickRate:    tickRate,
		speed:       1.0,
		correlation: correlation,
	}
	c.initSelf(c)
	parent.Bind(c)
	return c
}

func (c *CorrelatedClock) snapshot() (parent Clock, rate, speed float64, corr Correlation) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent, c.tickRate, c.speed, c.correlation
}

func (c *CorrelatedClock) Ticks() float64 {
	parent, rate, speed, corr := c.snapshot()
	return corr.ChildTicks + (parent.Ticks()-corr.ParentTicks)*rate*speed/parent.TickRate()
}

func (c *CorrelatedClock) TickRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickRate
}

// SetTickRate changes the tick rate. This does not shift the point of
// correlation, so the clock's reported tick value will jump unless the
// caller rebases the correlation first (see RebaseCorrelationAtTicks).
func (c *CorrelatedClock) SetTickRate(v float64) {
	c.mu.Lock()
	changed := c.tickRate != v
	c.tickRate = v
	c.mu.Unlock()
	if changed {
		c.Notify(c)
	}
}

func (c *CorrelatedClock) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

func (c *CorrelatedClock) SetSpeed(v float64) {
	c.mu.Lock()
	changed := c.speed != v
	c.speed = v
	c.mu.Unlock()
	if changed {
		c.Notify(c)
	}
}

func (c *CorrelatedClock) Parent() Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// SetParent re-parents this clock. The stored correlation is not
// reinterpreted; callers typically rebase first.
func (c *CorrelatedClock) SetParent(p Clock) {
	c.mu.Lock()
	old := c.parent
	c.parent = p
	c.mu.Unlock()
	if old != p {
		if old != nil {
			old.Unbind(c)
		}
		p.Bind(c)
		c.Notify(c)
	}
}

func (c *CorrelatedClock) Correlation() Correlation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.correlation
}

func (c *CorrelatedClock) SetCorrelation(v Correlation) {
	c.mu.Lock()
	changed := c.correlation != v
	c.correlation = v
	c.mu.Unlock()
	if changed {
		c.Notify(c)
	}
}

// RebaseCorrelationAtTicks replaces the correlation with an equivalent one
// whose ChildTicks is tickValue, preserving the timing relationship to the
// parent so that a subsequent speed or rate change will not cause a jump at
// this point. The accumulated initial error is carried forward: the new
// InitialError equals the old InitialError plus the elapsed parent ticks
// since the old correlation times the old ErrorGrowthRate. No notification
// is fired, since the timing relationship itself is unchanged.
func (c *CorrelatedClock) RebaseCorrelationAtTicks(tickValue float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parentTickValue := c.toParentTicksLocked(tickValue)
	elapsedParentTicks := math.Abs(parentTickValue - c.correlation.ParentTicks)
	additionalError := elapsedParentTicks / c.parent.TickRate() * c.correlation.ErrorGrowthRate
	c.correlation = Correlation{
		ParentTicks:     parentTickValue,
		ChildTicks:      tickValue,
		InitialError:    c.correlation.InitialError + additionalError,
		ErrorGrowthRate: c.correlation.ErrorGrowthRate,
	}
}

func (c *CorrelatedClock) toParentTicksLocked(ticks float64) float64 {
	if c.speed == 0 {
		return c.correlation.ParentTicks
	}
	return c.correlation.ParentTicks + (ticks-c.correlation.ChildTicks)*c.parent.TickRate()/c.tickRate/c.speed
}

func (c *CorrelatedClock) ToParentTicks(ticks float64) float64 {
	parent, rate, speed, corr := c.snapshot()
	if speed == 0 {
		if ticks == corr.ChildTicks {
			return corr.ParentTicks
		}
		return math.NaN()
	}
	return corr.ParentTicks + (ticks-corr.ChildTicks)*parent.TickRate()/rate/speed
}

func (c *CorrelatedClock) FromParentTicks(ticks float64) float64 {
	parent, rate, speed, corr := c.snapshot()
	return corr.ChildTicks + (ticks-corr.ParentTicks)*rate*speed/parent.TickRate()
}

func (c *CorrelatedClock) CalcWhen(ticksWhen float64) float64 {
	parent, rate, speed, corr := c.snapshot()
	var refTicks float64
	if speed == 0 {
		if ticksWhen != corr.ChildTicks {
			return math.NaN()
		}
		refTicks = corr.ParentTicks
	} else {
		refTicks = corr.ParentTicks + (ticksWhen-corr.ChildTicks)*parent.TickRate()/rate/speed
	}
	return parent.CalcWhen(refTicks)
}

// Dispersion returns the accumulated error envelope at tick value t: the
// own-error contribution (InitialError plus ErrorGrowthRate scaled by the
// elapsed parent ticks since the correlation point) plus the parent's
// dispersion at the equivalent parent time.
func (c *CorrelatedClock) Dispersion(t float64) float64 {
	parent, _, _, corr := c.snapshot()
	parentTicksAtT := c.ToParentTicks(t)
	if math.IsNaN(parentTicksAtT) {
		parentTicksAtT = corr.ParentTicks
	}
	ownError := corr.InitialError + math.Abs(parentTicksAtT-corr.ParentTicks)/parent.TickRate()*corr.ErrorGrowthRate
	return ownError + parent.Dispersion(parentTicksAtT)
}

func (c *CorrelatedClock) Available() bool {
	return c.ownAvailable()
}

func (c *CorrelatedClock) SetAvailability(v bool) error {
	before := Available(c)
	c.setOwnAvailable(v)
	after := Available(c)
	if before != after {
		c.Notify(c)
	}
	return nil
}

// IsChangeSignificant implements the spec's significant-change test for
// deciding whether a new correlation/speed pair is worth adopting given the
// clock's current state. Returns true unconditionally if the new speed
// differs at all from the clock's current speed. Otherwise it compares,
// at the clock's current own tick value, the parent-tick position the new
// correlation would imply against the position the existing correlation
// implies, converts that difference to seconds via the parent tick rate,
// and reports whether it exceeds thresholdSecs.
func (c *CorrelatedClock) IsChangeSignificant(newCorrelation Correlation, newSpeed, thresholdSecs float64) bool {
	parent, rate, speed, corr := c.snapshot()
	if newSpeed != speed {
		return true
	}
	now := parent.Ticks()
	currentChildTicks := corr.ChildTicks + (now-corr.ParentTicks)*rate*speed/parent.TickRate()
	oldParentAt := corr.ParentTicks + (currentChildTicks-corr.ChildTicks)*parent.TickRate()/rate/nonZero(speed)
	newParentAt := newCorrelation.ParentTicks + (currentChildTicks-newCorrelation.ChildTicks)*parent.TickRate()/rate/nonZero(newSpeed)
	diffSecs := math.Abs(newParentAt-oldParentAt) / parent.TickRate()
	return diffSecs > thresholdSecs
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

package clock

import (
	"math"
	"sync"
)

// RangeCorrelatedClock defines its relationship to its parent via two
// correlation points, forming a linear segment; the tick rate it reports
// is purely advisory. Speed is fixed at 1.0.
type RangeCorrelatedClock struct {
	base
	mu           sync.RWMutex
	parent       Clock
	tickRate     float64
	correlation1 Correlation
	correlation2 Correlation
}

func NewRangeCorrelatedClock(parent Clock, tickRate float64, c1, c2 Correlation) *RangeCorrelatedClock {
	c := &RangeCorrelatedClock{
		base:         newBase(),
		parent:       parent,
		tickRate:     tickRate,
		correlation1: c1,
		correlation2: c2,
	}
	c.initSelf(c)
	parent.Bind(c)
	return c
}

func (c *RangeCorrelatedClock) snapshot() (parent Clock, c1, c2 Correlation) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent, c.correlation1, c.correlation2
}

func (c *RangeCorrelatedClock) Ticks() float64 {
	parent, c1, c2 := c.snapshot()
	return (parent.Ticks()-c1.ParentTicks)*(c2.ChildTicks-c1.ChildTicks)/(c2.ParentTicks-c1.ParentTicks) + c1.ChildTicks
}

func (c *RangeCorrelatedClock) TickRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickRate
}

func (c *RangeCorrelatedClock) Speed() float64 { return 1.0 }

func (c *RangeCorrelatedClock) Parent() Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

func (c *RangeCorrelatedClock) Correlation1() Correlation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.correlation1
}

func (c *RangeCorrelatedClock) Correlation2() Correlation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.correlation2
}

func (c *RangeCorrelatedClock) SetCorrelation1(v Correlation) {
	c.mu.Lock()
	changed := c.correlation1 != v
	c.correlation1 = v
	c.mu.Unlock()
	if changed {
		c.Notify(c)
	}
}

func (c *RangeCorrelatedClock) SetCorrelation2(v Correlation) {
	c.mu.Lock()
	changed := c.correlation2 != v
	c.correlation2 = v
	c.mu.Unlock()
	if changed {
		c.Notify(c)
	}
}

func (c *RangeCorrelatedClock) ToParentTicks(ticks float64) float64 {
	_, c1, c2 := c.snapshot()
	return (ticks-c1.ChildTicks)/(c2.ChildTicks-c1.ChildTicks)*(c2.ParentTicks-c1.ParentTicks) + c1.ParentTicks
}

func (c *RangeCorrelatedClock) FromParentTicks(ticks float64) float64 {
	_, c1, c2 := c.snapshot()
	return (ticks-c1.ParentTicks)/(c2.ParentTicks-c1.ParentTicks)*(c2.ChildTicks-c1.ChildTicks) + c1.ChildTicks
}

func (c *RangeCorrelatedClock) CalcWhen(ticksWhen float64) float64 {
	parent, _, _ := c.snapshot()
	return parent.CalcWhen(c.ToParentTicks(ticksWhen))
}

// Dispersion takes the minimum of the per-correlation errors the two
// defining points would each produce at the current parent time, treating
// each as an independent simple correlation for error-accumulation
// purposes.
func (c *RangeCorrelatedClock) Dispersion(t float64) float64 {
	parent, c1, c2 := c.snapshot()
	parentTicksAtT := c.ToParentTicks(t)
	err1 := c1.InitialError + math.Abs(parentTicksAtT-c1.ParentTicks)/parent.TickRate()*c1.ErrorGrowthRate
	err2 := c2.InitialError + math.Abs(parentTicksAtT-c2.ParentTicks)/parent.TickRate()*c2.ErrorGrowthRate
	own := math.Min(err1, err2)
	return own + parent.Dispersion(parentTicksAtT)
}

func (c *RangeCorrelatedClock) Available() bool {
	return c.ownAvailable()
}

func (c *RangeCorrelatedClock) SetAvailability(v bool) error {
	before := Available(c)
	c.setOwnAvailable(v)
	after := Available(c)
	if before != after {
		c.Notify(c)
	}
	return nil
}

package clock

import "sync"

// OffsetClock reports the same tick rate and tick value as its parent,
// shifted by a fixed amount of time: ticks = parent.Ticks() + offset *
// EffectiveSpeed(parent) * TickRate. Its own speed is always 1; it is used
// to report a time a fixed amount of wall time ahead of or behind another
// clock.
type OffsetClock struct {
	base
	mu         sync.RWMutex
	parent     Clock
	offsetSecs float64
}

func NewOffsetClock(parent Clock, offsetSecs float64) *OffsetClock {
	c := &OffsetClock{base: newBase(), parent: parent, offsetSecs: offsetSecs}
	c.initSelf(c)
	parent.Bind(c)
	return c
}

func (c *OffsetClock) snapshot() (parent Clock, offset float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent, c.offsetSecs
}

func (c *OffsetClock) offsetTicks() float64 {
	parent, offset := c.snapshot()
	return offset * EffectiveSpeed(parent) * parent.TickRate()
}

func (c *OffsetClock) Ticks() float64 {
	parent, _ := c.snapshot()
	return parent.Ticks() + c.offsetTicks()
}

func (c *OffsetClock) TickRate() float64 {
	parent, _ := c.snapshot()
	return parent.TickRate()
}

func (c *OffsetClock) Speed() float64 { return 1.0 }

func (c *OffsetClock) Parent() Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

func (c *OffsetClock) Offset() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offsetSecs
}

func (c *OffsetClock) SetOffset(v float64) {
	c.mu.Lock()
	changed := c.offsetSecs != v
	c.offsetSecs = v
	c.mu.Unlock()
	if changed {
		c.Notify(c)
	}
}

func (c *OffsetClock) ToParentTicks(ticks float64) float64 {
	return ticks - c.offsetTicks()
}

func (c *OffsetClock) FromParentTicks(ticks float64) float64 {
	return ticks + c.offsetTicks()
}

func (c *OffsetClock) CalcWhen(ticksWhen float64) float64 {
	parent, _ := c.snapshot()
	return parent.CalcWhen(c.ToParentTicks(ticksWhen))
}

func (c *OffsetClock) Dispersion(t float64) float64 {
	parent, _ := c.snapshot()
	return parent.Dispersion(c.ToParentTicks(t))
}

func (c *OffsetClock) Available() bool {
	return c.ownAvailable()
}

func (c *OffsetClock) SetAvailability(v bool) error {
	before := Available(c)
	c.setOwnAvailable(v)
	after := Available(c)
	if before != after {
		c.Notify(c)
	}
	return nil
}

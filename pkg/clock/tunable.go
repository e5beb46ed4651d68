package clock

// TunableClock is a CorrelatedClock that rebases its correlation to the
// current tick value before any speed or tick-rate change, so such changes
// take effect going forward without causing the clock's current value to
// jump (the discontinuity a plain CorrelatedClock would otherwise suffer,
// per spec.md §3.1).
type TunableClock struct {
	*CorrelatedClock
}

func NewTunableClock(parent Clock, tickRate float64, correlation Correlation) *TunableClock {
	c := &TunableClock{CorrelatedClock: NewCorrelatedClock(parent, tickRate, correlation)}
	// NewCorrelatedClock pointed base.self at the embedded *CorrelatedClock.
	// Re-point it at c so Notify reports the identity callers actually bind
	// and schedule tasks against.
	c.initSelf(c)
	return c
}

// SetSpeed rebases at the current tick value, then applies the new speed.
func (c *TunableClock) SetSpeed(v float64) {
	c.RebaseCorrelationAtTicks(c.Ticks())
	c.CorrelatedClock.SetSpeed(v)
}

// SetTickRate rebases at the current tick value, then applies the new
// tick rate.
func (c *TunableClock) SetTickRate(v float64) {
	c.RebaseCorrelationAtTicks(c.Ticks())
	c.CorrelatedClock.SetTickRate(v)
}

// AdjustTicks shifts this clock's reported tick value by the given amount,
// taking effect immediately (a deliberate discontinuity, unlike
// RebaseCorrelationAtTicks), and notifies dependents.
func (c *TunableClock) AdjustTicks(offset float64) {
	current := c.Ticks()
	c.RebaseCorrelationAtTicks(current)
	corr := c.Correlation()
	corr.ChildTicks += offset
	c.SetCorrelation(corr)
}

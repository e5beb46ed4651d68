package clock

// Correlation ties a child clock's tick value to its parent's tick value at
// one instant, plus the error-bound parameters needed to compute dispersion
// from that point onwards: an initial error (seconds) and a linear error
// growth rate (seconds of error per second of elapsed parent time).
type Correlation struct {
	ParentTicks     float64
	ChildTicks      float64
	InitialError    float64
	ErrorGrowthRate float64
}

// CorrelationOption mutates a copy of a Correlation. Used with With to
// produce a modified copy without touching the original (the "but-with"
// constructor named in the spec).
type CorrelationOption func(*Correlation)

// WithParentTicks overrides ParentTicks.
func WithParentTicks(v float64) CorrelationOption { return func(c *Correlation) { c.ParentTicks = v } }

// WithChildTicks overrides ChildTicks.
func WithChildTicks(v float64) CorrelationOption { return func(c *Correlation) { c.ChildTicks = v } }

// WithInitialError overrides InitialError.
func WithInitialError(v float64) CorrelationOption { return func(c *Correlation) { c.InitialError = v } }

// WithErrorGrowthRate overrides ErrorGrowthRate.
func WithErrorGrowthRate(v float64) CorrelationOption {
	return func(c *Correlation) { c.ErrorGrowthRate = v }
}

// With returns a copy of c with the given options applied.
func (c Correlation) With(opts ...CorrelationOption) Correlation {
	out := c
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// Equal reports whether all four fields match.
func (c Correlation) Equal(other Correlation) bool {
	return c.ParentTicks == other.ParentTicks &&
		c.ChildTicks == other.ChildTicks &&
		c.InitialError == other.InitialError &&
		c.ErrorGrowthRate == other.ErrorGrowthRate
}

// EqualPoint reports whether the correlation's (parentTicks, childTicks)
// pair matches the given pair, ignoring the error fields. This mirrors the
// spec's "a correlation is equal to a 2-tuple iff the first two fields
// match" rule.
func (c Correlation) EqualPoint(parentTicks, childTicks float64) bool {
	return c.ParentTicks == parentTicks && c.ChildTicks == childTicks
}

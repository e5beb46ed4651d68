package clock

import (
	"math"

	"github.com/Dash-Industry-Forum/css-sync/pkg/monotonic"
)

// SysClock is a root clock based directly on an injected monotonic.Source.
// Its ticks are tickRate * monotonicSeconds. It is always available, and
// its speed is fixed at 1.0: spec.md requires that changing availability,
// speed or tickRate of a system clock fail with an "unsupported operation"
// error rather than silently succeeding.
type SysClock struct {
	base
	source      monotonic.Source
	tickRate    float64
	precision   float64 // seconds; as passed to NewSysClock, not measured by the clock
	maxFreqErr  float64 // ppm
}

// NewSysClock creates a root clock ticking at tickRate ticks/sec from the
// given monotonic source. precision is the measured/assumed precision of
// the source in seconds (see MeasurePrecision); maxFreqErrorPpm is the
// clock's own maximum frequency error, used as the root value returned by
// RootMaxFreqError.
func NewSysClock(source monotonic.Source, tickRate float64, precision float64, maxFreqErrorPpm float64) *SysClock {
	c := &SysClock{
		base:       newBase(),
		source:     source,
		tickRate:   tickRate,
		precision:  precision,
		maxFreqErr: maxFreqErrorPpm,
	}
	c.initSelf(c)
	return c
}

// MeasurePrecision does a rough empirical measurement of a monotonic
// source's precision: the smallest observable positive difference between
// consecutive Now() readings, sampled sampleSize times, expressed as a
// fraction of a second.
func MeasurePrecision(source monotonic.Source, sampleSize int) float64 {
	if sampleSize <= 0 {
		sampleSize = 10000
	}
	min := math.Inf(1)
	found := false
	for i := 0; i < sampleSize; i++ {
		a := source.Now()
		b := source.Now()
		if d := b - a; d > 0 {
			found = true
			if d < min {
				min = d
			}
		}
	}
	if !found {
		return 0
	}
	return min
}

func (c *SysClock) Ticks() float64 {
	return math.Floor(c.source.Now() * c.tickRate)
}

func (c *SysClock) TickRate() float64 { return c.tickRate }

func (c *SysClock) Speed() float64 { return 1.0 }

func (c *SysClock) Parent() Clock { return nil }

func (c *SysClock) ToParentTicks(float64) float64 { return math.NaN() }

func (c *SysClock) FromParentTicks(float64) float64 { return math.NaN() }

func (c *SysClock) CalcWhen(ticksWhen float64) float64 {
	return ticksWhen / c.tickRate
}

// Dispersion for a root clock is simply its measured precision,
// independent of t.
func (c *SysClock) Dispersion(float64) float64 {
	return c.precision
}

func (c *SysClock) Available() bool { return true }

// SetAvailability always fails: a system clock's availability cannot be
// changed.
func (c *SysClock) SetAvailability(bool) error {
	return newUnsupported("SysClock", "SetAvailability")
}

// MaxFreqError returns this clock's configured maximum frequency error, in
// ppm, used by RootMaxFreqError.
func (c *SysClock) MaxFreqError() float64 { return c.maxFreqErr }

// Precision returns the measured precision in seconds.
func (c *SysClock) Precision() float64 { return c.precision }

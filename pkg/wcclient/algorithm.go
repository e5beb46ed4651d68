// Package wcclient implements the client side of the CSS-WC wall-clock
// protocol: the UDP request/response engine and the pluggable algorithms
// that turn a stream of measurement candidates into an adjustment of a
// clock.Clock modelling the server's wall clock.
package wcclient

import (
	"math"
	"time"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/wcproto"
)

// Algorithm drives a Client's request/response loop. Next is called once
// before the first request is sent (with candidate nil) and again after
// every subsequent exchange, whether it produced a candidate or timed out.
// It returns the timeout to allow for a response to the next request, and a
// delay to wait before sending that request (0 to send immediately).
type Algorithm interface {
	Next(candidate *wcproto.Candidate) (timeout, delay time.Duration)
}

// MostRecentAlgorithm is the naive algorithm: it adjusts Clock's correlation
// to match every candidate it receives, irrespective of measurement quality.
type MostRecentAlgorithm struct {
	Clock                *clock.CorrelatedClock
	RepeatInterval       time.Duration
	Timeout              time.Duration
	LocalMaxFreqErrorPpm float64
}

// NewMostRecent builds a MostRecentAlgorithm with the original library's
// defaults (1s repeat, 200ms timeout, 500ppm assumed local error).
func NewMostRecent(c *clock.CorrelatedClock) *MostRecentAlgorithm {
	return &MostRecentAlgorithm{
		Clock:                c,
		RepeatInterval:       time.Second,
		Timeout:              200 * time.Millisecond,
		LocalMaxFreqErrorPpm: 500,
	}
}

func (a *MostRecentAlgorithm) Next(candidate *wcproto.Candidate) (time.Duration, time.Duration) {
	if candidate == nil {
		return a.Timeout, 0
	}
	mfe := a.LocalMaxFreqErrorPpm
	a.Clock.SetCorrelation(candidate.CalcCorrelationFor(a.Clock, &mfe))
	return a.Timeout, a.RepeatInterval
}

// DispersionCalculator scores a candidate by the worst-case error bound its
// use would introduce right now: measurement precision at both ends, half
// the round trip time, and the frequency-error contribution accumulated
// over the intervals the candidate spans plus however long ago it was taken.
type DispersionCalculator struct {
	MeasureClock         clock.Clock
	LocalPrecisionSecs   float64
	LocalMaxFreqErrorPpm float64
}

// Calc returns the dispersion, in nanoseconds, of adopting candidate as the
// estimate of the wall clock right now (MeasureClock.Ticks() converted to
// nanoseconds against MeasureClock's own tick rate).
func (d *DispersionCalculator) Calc(candidate *wcproto.Candidate) float64 {
	nowNanos := d.MeasureClock.Ticks() / d.MeasureClock.TickRate() * 1e9
	t1, t2, t3, t4 := float64(candidate.T1), float64(candidate.T2), float64(candidate.T3), float64(candidate.T4)
	return 1e9*(candidate.Precision+d.LocalPrecisionSecs) +
		(candidate.MaxFreqError*(t3-t2)+
			d.LocalMaxFreqErrorPpm*(t4-t1)+
			(candidate.MaxFreqError+d.LocalMaxFreqErrorPpm)*(nowNanos-t4))/1e6 +
		candidate.RTT/2
}

// LowestDispersionAlgorithm is the recommended algorithm (the module's own
// docs call it out as such): it keeps whichever candidate seen so far has
// the lowest dispersion and only adopts a new one when it is at least as
// good, repeating faster after a rejection (probing for a better
// measurement sooner) than after an accepted candidate.
type LowestDispersionAlgorithm struct {
	Clock          *clock.CorrelatedClock
	RepeatInterval time.Duration
	Timeout        time.Duration
	DispCalc       *DispersionCalculator

	best *wcproto.Candidate
}

// NewLowestDispersion builds a LowestDispersionAlgorithm. measureClock is
// the clock from which request/response timestamps (t1, t4) are taken; it
// should be the same clock given to the Client that will drive this
// algorithm. localPrecisionSecs is typically clock.MeasurePrecision of the
// monotonic source underpinning measureClock.
func NewLowestDispersion(c *clock.CorrelatedClock, measureClock clock.Clock, localPrecisionSecs, localMaxFreqErrorPpm float64) *LowestDispersionAlgorithm {
	return &LowestDispersionAlgorithm{
		Clock:          c,
		RepeatInterval: time.Second,
		Timeout:        200 * time.Millisecond,
		DispCalc: &DispersionCalculator{
			MeasureClock:         measureClock,
			LocalPrecisionSecs:   localPrecisionSecs,
			LocalMaxFreqErrorPpm: localMaxFreqErrorPpm,
		},
	}
}

// CurrentDispersion returns the dispersion, in nanoseconds, of the best
// candidate adopted so far, or +Inf if none has ever been adopted.
func (a *LowestDispersionAlgorithm) CurrentDispersion() float64 {
	if a.best == nil {
		return math.Inf(1)
	}
	return a.DispCalc.Calc(a.best)
}

func (a *LowestDispersionAlgorithm) Next(candidate *wcproto.Candidate) (time.Duration, time.Duration) {
	before := a.CurrentDispersion()
	if candidate == nil {
		return a.Timeout, a.Timeout
	}
	after := a.DispCalc.Calc(candidate)
	if before >= after {
		a.best = candidate
		mfe := a.DispCalc.LocalMaxFreqErrorPpm
		a.Clock.SetCorrelation(candidate.CalcCorrelationFor(a.Clock, &mfe))
		return a.Timeout, a.RepeatInterval
	}
	return a.Timeout, a.Timeout
}

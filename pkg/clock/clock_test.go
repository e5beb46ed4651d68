package clock

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/css-sync/pkg/monotonic"
)

func TestCorrelatedClockBasic(t *testing.T) {
	// spec.md §8 scenario 1.
	v := monotonic.NewVirtual()
	sys := NewSysClock(v, 1e6, 1e-6, 0)
	c := NewCorrelatedClock(sys, 1000, Correlation{ParentTicks: 0, ChildTicks: 300})

	v.Set(5020.8)
	got := c.Ticks()
	want := 5020.8*1000 + 300
	assert.InDelta(t, want, got, 1.0)

	c.SetCorrelation(Correlation{ParentTicks: 50000, ChildTicks: 320})
	got2 := c.Ticks()
	want2 := (5020.8*1e6-50000)/1000 + 320
	assert.InDelta(t, want2, got2, 1.0)
}

func TestToParentFromParentRoundTrip(t *testing.T) {
	v := monotonic.NewVirtual()
	sys := NewSysClock(v, 1e6, 1e-6, 0)
	c := NewCorrelatedClock(sys, 1000, Correlation{ParentTicks: 0, ChildTicks: 300})

	for _, tv := range []float64{0, 300, 100000, -500} {
		parentTicks := c.ToParentTicks(tv)
		back := c.FromParentTicks(parentTicks)
		assert.InDelta(t, tv, back, 1e-6)
	}
}

func TestZeroSpeedToParentTicksUndefinedExceptAtCorrelationPoint(t *testing.T) {
	v := monotonic.NewVirtual()
	sys := NewSysClock(v, 1e6, 1e-6, 0)
	c := NewCorrelatedClock(sys, 1000, Correlation{ParentTicks: 100, ChildTicks: 300})
	c.SetSpeed(0)

	assert.Equal(t, 100.0, c.ToParentTicks(300))
	assert.True(t, math.IsNaN(c.ToParentTicks(301)))
	assert.True(t, math.IsNaN(c.CalcWhen(301)))
}

func TestToOtherClockTicksAcrossBranches(t *testing.T) {
	// root -> a1 -> a2 -> {a3 -> a4, b3 -> b4}
	v := monotonic.NewVirtual()
	v.Set(1000)
	root := NewSysClock(v, 1000, 1e-6, 0)
	a1 := NewCorrelatedClock(root, 1000, Correlation{ParentTicks: 0, ChildTicks: 0})
	a2 := NewCorrelatedClock(a1, 500, Correlation{ParentTicks: 0, ChildTicks: 0})
	a3 := NewCorrelatedClock(a2, 250, Correlation{ParentTicks: 10, ChildTicks: 5})
	a4 := NewCorrelatedClock(a3, 100, Correlation{ParentTicks: 20, ChildTicks: 2})
	b3 := NewCorrelatedClock(a2, 300, Correlation{ParentTicks: 30, ChildTicks: 9})
	b4 := NewCorrelatedClock(b3, 150, Correlation{ParentTicks: 40, ChildTicks: 4})

	got, err := ToOtherClockTicks(a4, b4, 500)
	require.NoError(t, err)

	want := b4.FromParentTicks(b3.FromParentTicks(a3.ToParentTicks(a4.ToParentTicks(500))))
	assert.Equal(t, want, got)
}

func TestToOtherClockTicksNoCommonClock(t *testing.T) {
	v := monotonic.NewVirtual()
	rootA := NewSysClock(v, 1000, 1e-6, 0)
	rootB := NewSysClock(v, 1000, 1e-6, 0)
	a := NewCorrelatedClock(rootA, 1000, Correlation{})
	b := NewCorrelatedClock(rootB, 1000, Correlation{})

	_, err := ToOtherClockTicks(a, b, 10)
	assert.ErrorIs(t, err, ErrNoCommonClock)
}

func TestAvailabilityMonotoneInAncestry(t *testing.T) {
	v := monotonic.NewVirtual()
	root := NewSysClock(v, 1000, 1e-6, 0)
	parent := NewCorrelatedClock(root, 1000, Correlation{})
	child := NewCorrelatedClock(parent, 1000, Correlation{})

	assert.True(t, Available(child))
	require.NoError(t, parent.SetAvailability(false))
	assert.False(t, Available(child))
	assert.True(t, child.Available()) // own flag unaffected

	require.NoError(t, parent.SetAvailability(true))
	assert.True(t, Available(child))
}

func TestSysClockAvailabilityNotSupported(t *testing.T) {
	v := monotonic.NewVirtual()
	root := NewSysClock(v, 1000, 1e-6, 0)
	err := root.SetAvailability(false)
	require.Error(t, err)
	var uoe *UnsupportedOperationError
	assert.ErrorAs(t, err, &uoe)
}

func TestDispersionMonotoneWithDistanceFromCorrelation(t *testing.T) {
	v := monotonic.NewVirtual()
	v.Set(0)
	root := NewSysClock(v, 1e6, 1e-6, 0)
	c := NewCorrelatedClock(root, 1000, Correlation{
		ParentTicks: 0, ChildTicks: 0, InitialError: 0.01, ErrorGrowthRate: 1e-5,
	})

	d0 := c.Dispersion(0)
	d1 := c.Dispersion(1000)  // 1 second of ticks away
	d2 := c.Dispersion(5000)  // 5 seconds away
	assert.Less(t, d0, d1)
	assert.Less(t, d1, d2)
}

func TestRebaseCorrelationPreservesTiming(t *testing.T) {
	v := monotonic.NewVirtual()
	v.Set(10)
	root := NewSysClock(v, 1000, 1e-6, 0)
	c := NewCorrelatedClock(root, 1000, Correlation{ParentTicks: 0, ChildTicks: 0})

	before := c.Ticks()
	c.RebaseCorrelationAtTicks(before)
	after := c.Ticks()
	assert.InDelta(t, before, after, 1e-9)
}

func TestIsChangeSignificant(t *testing.T) {
	v := monotonic.NewVirtual()
	v.Set(0)
	root := NewSysClock(v, 1000, 1e-6, 0)
	c := NewCorrelatedClock(root, 1000, Correlation{ParentTicks: 0, ChildTicks: 0})

	// Speed change is always significant.
	assert.True(t, c.IsChangeSignificant(c.Correlation(), 2.0, 10.0))

	// Small correlation shift under threshold is not significant;
	// large one is.
	small := Correlation{ParentTicks: 1, ChildTicks: 1}
	large := Correlation{ParentTicks: 100000, ChildTicks: 1}
	assert.False(t, c.IsChangeSignificant(small, 1.0, 1.0))
	assert.True(t, c.IsChangeSignificant(large, 1.0, 1.0))
}

func TestRangeCorrelatedClock(t *testing.T) {
	v := monotonic.NewVirtual()
	v.Set(0)
	root := NewSysClock(v, 1000, 1e-6, 0)
	rc := NewRangeCorrelatedClock(root, 100,
		Correlation{ParentTicks: 0, ChildTicks: 0},
		Correlation{ParentTicks: 1000, ChildTicks: 100},
	)
	v.Set(0.5) // 500 parent ticks elapsed
	assert.InDelta(t, 50.0, rc.Ticks(), 1e-6)

	back := rc.FromParentTicks(rc.ToParentTicks(42))
	assert.InDelta(t, 42.0, back, 1e-6)
}

func TestOffsetClock(t *testing.T) {
	v := monotonic.NewVirtual()
	v.Set(0)
	root := NewSysClock(v, 1000, 1e-6, 0)
	oc := NewOffsetClock(root, 2.0) // 2 seconds ahead
	v.Set(1.0)
	assert.InDelta(t, root.Ticks()+2000, oc.Ticks(), 1.0)
}

func TestClockDiffInfiniteWhenRatesDiffer(t *testing.T) {
	v := monotonic.NewVirtual()
	root := NewSysClock(v, 1000, 1e-6, 0)
	a := NewCorrelatedClock(root, 1000, Correlation{})
	b := NewCorrelatedClock(root, 2000, Correlation{})
	assert.True(t, math.IsInf(ClockDiff(a, b), 1))
}

func TestNotifyPropagatesToGrandchildren(t *testing.T) {
	// Each relaying clock reports itself as the cause to its own
	// dependents, not the clock further up the chain that originally
	// changed — mirroring the reference implementation's notify(self).
	v := monotonic.NewVirtual()
	root := NewSysClock(v, 1000, 1e-6, 0)
	a := NewCorrelatedClock(root, 1000, Correlation{})
	b := NewCorrelatedClock(a, 1000, Correlation{})

	rec := &recordingDependent{}
	b.Bind(rec)

	a.SetSpeed(0.5)
	require.Len(t, rec.causes, 1)
	assert.Equal(t, Clock(b), rec.causes[0])
}

type recordingDependent struct {
	causes []Clock
}

func (r *recordingDependent) Notify(cause Clock) {
	r.causes = append(r.causes, cause)
}

// Package clock implements the hierarchical software clock model: a tree of
// clocks derived from a monotonic time source, each mapping its own ticks
// to and from its parent's, with rate, speed, correlation, availability and
// dispersion (error-bound) propagation.
package clock

import (
	"math"
	"sync"
)

// Dependent is notified when a clock it has bound to changes. Clock itself
// satisfies Dependent: a child bound to its parent forwards the
// notification on to its own dependents, so a single change at any node
// propagates to every descendant.
type Dependent interface {
	Notify(cause Clock)
}

// Clock is the common interface implemented by every node in the clock
// tree: SysClock (root), CorrelatedClock, RangeCorrelatedClock, OffsetClock
// and TunableClock.
type Clock interface {
	Dependent

	// Ticks returns the current tick count.
	Ticks() float64
	// TickRate returns ticks per second for this clock, ignoring speed.
	TickRate() float64
	// Speed returns this clock's own speed multiplier (not cumulative).
	Speed() float64
	// Parent returns the parent clock, or nil if this is a root.
	Parent() Clock

	// ToParentTicks converts a tick value of this clock to the
	// equivalent tick value of its parent. Returns NaN if undefined
	// (speed is zero and ticks is not the correlation point).
	ToParentTicks(ticks float64) float64
	// FromParentTicks converts a tick value of the parent clock to the
	// equivalent tick value of this clock.
	FromParentTicks(ticks float64) float64
	// CalcWhen maps a tick value of this clock to a reading of the
	// underlying monotonic source. Returns NaN if undefined.
	CalcWhen(ticks float64) float64

	// Dispersion returns the accumulated error envelope, in seconds, for
	// this clock's tick value t.
	Dispersion(t float64) float64

	// Available reports this clock's own availability flag, ignoring
	// ancestors.
	Available() bool
	// SetAvailability sets this clock's own availability flag. Fires a
	// notification only if the clock's effective availability (this
	// clock's flag AND all ancestors') actually changes as a result.
	SetAvailability(bool) error

	// Bind registers a dependent for notification when this clock
	// changes. Unbind removes it. Both are keyed by identity.
	Bind(d Dependent)
	Unbind(d Dependent)
}

// base provides the dependent-set bookkeeping and availability flag shared
// by every concrete clock kind. It is not itself a Clock.
type base struct {
	mu         sync.RWMutex
	dependents map[Dependent]struct{}
	available  bool
	self       Clock
}

func newBase() base {
	return base{dependents: make(map[Dependent]struct{}), available: true}
}

// initSelf records the concrete clock value that embeds this base, so that
// Notify can report it (rather than whatever cause it was itself notified
// with) to its own dependents. Every constructor must call this once, right
// after allocating the concrete clock.
func (b *base) initSelf(self Clock) {
	b.self = self
}

func (b *base) Bind(d Dependent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dependents[d] = struct{}{}
}

func (b *base) Unbind(d Dependent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dependents, d)
}

// Notify forwards the notification to every bound dependent, reporting this
// clock itself as the cause regardless of what cause it was given: a clock
// that relays a change from its own parent always tells its dependents that
// it is the one that changed, since from their perspective it is (its own
// effective ticks/availability have shifted as a result). It takes a
// snapshot under lock and calls out unlocked, so a dependent's Notify
// implementation must not assume this clock's lock is held (and must not
// re-enter it), avoiding the lock-inversion hazard called out in the spec.
func (b *base) Notify(Clock) {
	b.mu.RLock()
	deps := make([]Dependent, 0, len(b.dependents))
	for d := range b.dependents {
		deps = append(deps, d)
	}
	self := b.self
	b.mu.RUnlock()
	for _, d := range deps {
		d.Notify(self)
	}
}

func (b *base) ownAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.available
}

// setOwnAvailable sets the own flag only. It fires no notification: the
// caller compares effective availability (which depends on the parent
// chain) before and after, and notifies if it changed.
func (b *base) setOwnAvailable(v bool) {
	b.mu.Lock()
	b.available = v
	b.mu.Unlock()
}

// Available reports whether c and every ancestor of c has its own
// availability flag set.
func Available(c Clock) bool {
	for cur := c; cur != nil; cur = cur.Parent() {
		if !cur.Available() {
			return false
		}
	}
	return true
}

// NanosToTicks converts a duration in nanoseconds to a number of ticks of
// c, using only c's own tick rate (ignoring speed).
func NanosToTicks(c Clock, nanos float64) float64 {
	return nanos * c.TickRate() / 1e9
}

// EffectiveSpeed returns the product of the speed property along c's
// ancestry up to (and including) the root.
func EffectiveSpeed(c Clock) float64 {
	s := 1.0
	for cur := c; cur != nil; cur = cur.Parent() {
		s *= cur.Speed()
	}
	return s
}

// ancestry returns [c, parent(c), parent(parent(c)), ..., root].
func ancestry(c Clock) []Clock {
	chain := []Clock{c}
	for cur := c.Parent(); cur != nil; cur = cur.Parent() {
		chain = append(chain, cur)
	}
	return chain
}

// ToRootTicks converts a tick value of c all the way up to the root clock's
// timescale.
func ToRootTicks(c Clock, t float64) float64 {
	for cur := c; cur.Parent() != nil; cur = cur.Parent() {
		t = cur.ToParentTicks(t)
	}
	return t
}

// ToOtherClockTicks converts tick value t of clock a into the equivalent
// tick value of clock b, by walking up a's ancestry to the lowest common
// ancestor and back down b's. Returns ErrNoCommonClock if a and b do not
// share a root.
func ToOtherClockTicks(a, b Clock, t float64) (float64, error) {
	aChain := ancestry(a)
	bChain := ancestry(b)

	// Strip the shared ancestry suffix (from the root end).
	i, j := len(aChain)-1, len(bChain)-1
	common := false
	for i >= 0 && j >= 0 && aChain[i] == bChain[j] {
		i--
		j--
		common = true
	}
	if !common {
		return 0, ErrNoCommonClock
	}
	aPath := aChain[:i+1]
	bPath := bChain[:j+1]

	for _, c := range aPath {
		t = c.ToParentTicks(t)
	}
	for k := len(bPath) - 1; k >= 0; k-- {
		t = bPath[k].FromParentTicks(t)
	}
	return t, nil
}

// ClockDiff returns the instantaneous real-time divergence rate between a
// and b: +Inf if their tick rates or effective speeds differ (they are
// running at different rates and will diverge without bound), otherwise
// the current offset between them, in seconds.
func ClockDiff(a, b Clock) float64 {
	if a.TickRate() != b.TickRate() || EffectiveSpeed(a) != EffectiveSpeed(b) {
		return math.Inf(1)
	}
	bTicks, err := ToOtherClockTicks(a, b, a.Ticks())
	if err != nil {
		return math.Inf(1)
	}
	return (b.Ticks() - bTicks) / a.TickRate()
}

// RootMaxFreqError walks to the root of c's ancestry and returns its
// configured maximum frequency error in ppm (0 if the root does not
// report one).
func RootMaxFreqError(c Clock) float64 {
	chain := ancestry(c)
	root := chain[len(chain)-1]
	if sc, ok := root.(*SysClock); ok {
		return sc.MaxFreqError()
	}
	return 0
}

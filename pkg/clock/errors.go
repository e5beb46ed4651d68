package clock

import (
	"errors"
	"fmt"
)

// ErrNoCommonClock is returned by ToOtherClockTicks when the two clocks
// involved do not share a common ancestor.
var ErrNoCommonClock = errors.New("clock: no common ancestor clock")

// UnsupportedOperationError is returned when a mutation is attempted on a
// clock kind that does not support it (e.g. changing a SysClock's speed).
type UnsupportedOperationError struct {
	Kind string
	Op   string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("clock: %s does not support %s", e.Kind, e.Op)
}

func newUnsupported(kind, op string) error {
	return &UnsupportedOperationError{Kind: kind, Op: op}
}

// Package clock provides the time source threaded through every component
// that asks "what time is it". Production wires the real clock; the
// TEST_TIME variable pins a fake one so answers are reproducible.
package clock

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Clock = clockwork.Clock

// FromEnv returns the real clock, or a clock frozen at the RFC 3339
// instant in testTime when it is non-empty. A frozen clock never fires
// timers, so the refresh scheduler stops after its initial cycle; that is
// the point of the override.
func FromEnv(testTime string) (Clock, error) {
	if testTime == "" {
		return clockwork.NewRealClock(), nil
	}
	t, err := time.Parse(time.RFC3339, testTime)
	if err != nil {
		return nil, fmt.Errorf("TEST_TIME %q: %w", testTime, err)
	}
	return clockwork.NewFakeClockAt(t), nil
}

// Package projection derives display values from absolute server timestamps.
// Nothing here is stored or ticked. Every call recomputes from the underlying
// state, so a value is correct for the instant it is asked for no matter how
// long ago the state itself arrived.
package projection

import (
	"math"
	"time"

	"github.com/critterranch/structsync/pkg/structure"
)

// Remaining returns the time left until the egg hatches, floored at zero.
func Remaining(inc structure.Incubating, now time.Time) time.Duration {
	rem := inc.HatchDuration - now.Sub(inc.StartTime)
	if rem < 0 {
		return 0
	}
	return rem
}

// Ready reports whether the hatch timer has fully elapsed.
func Ready(inc structure.Incubating, now time.Time) bool {
	return Remaining(inc, now) == 0
}

// Progress returns hatch progress in [0, 1].
func Progress(inc structure.Incubating, now time.Time) float64 {
	if inc.HatchDuration <= 0 {
		return 1
	}
	p := float64(now.Sub(inc.StartTime)) / float64(inc.HatchDuration)
	return math.Min(1, math.Max(0, p))
}

// Accrued returns the income accumulated since the last collect,
// floor(rate * elapsed seconds), where rate is coins per second. A last
// collect timestamp in the future, which clock skew can produce, yields
// zero rather than a negative balance.
func Accrued(pen structure.Occupied, now time.Time, rate float64) int64 {
	elapsed := now.Sub(pen.LastCollectTime).Seconds()
	if elapsed <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Floor(rate * elapsed))
}

// Package resolution estimates the high-resolution limit at which merged
// signal-to-noise falls to a threshold.
package resolution

import (
	"slices"

	"github.com/xia2/xia2-sub002/internal/engine"
)

// NotReached is returned when no shell reaches the cutoff.
const NotReached = -1.0

// DefaultCutoff is the merged I/sigma threshold used when none is configured.
const DefaultCutoff = 1.0

// Estimate walks the shells from the highest resolution (smallest d) towards
// low resolution. If the highest-resolution shell already reaches cutoff its
// resolution is returned. Otherwise the first adjacent pair straddling cutoff
// is interpolated linearly in d. NotReached is returned when no shell
// reaches cutoff.
func Estimate(shells []engine.Shell, cutoff float64) float64 {
	if len(shells) == 0 {
		return NotReached
	}

	walk := slices.Clone(shells)
	slices.SortStableFunc(walk, func(a, b engine.Shell) int {
		switch {
		case a.Resolution < b.Resolution:
			return -1
		case a.Resolution > b.Resolution:
			return 1
		}
		return 0
	})

	if walk[0].SignalToNoise >= cutoff {
		return walk[0].Resolution
	}

	for i := 1; i < len(walk); i++ {
		hi, lo := walk[i-1], walk[i]
		if lo.SignalToNoise < cutoff {
			continue
		}
		// hi is below cutoff, lo at or above it.
		f := (cutoff - lo.SignalToNoise) / (hi.SignalToNoise - lo.SignalToNoise)
		return lo.Resolution + f*(hi.Resolution-lo.Resolution)
	}
	return NotReached
}

// Limit is Estimate with the sentinel reported as false.
func Limit(shells []engine.Shell, cutoff float64) (float64, bool) {
	d := Estimate(shells, cutoff)
	if d == NotReached {
		return 0, false
	}
	return d, true
}

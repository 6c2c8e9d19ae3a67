package memory

import (
	"math"
	"time"
)

// DefaultHalfLife decays recency by roughly 1% per hour.
const DefaultHalfLife = 69 * time.Hour

// Decay returns 0.5^(elapsed/halfLife). Negative elapsed counts as zero and a
// non-positive halfLife disables decay.
func Decay(elapsed, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
}

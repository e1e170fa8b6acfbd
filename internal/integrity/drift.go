package integrity

import (
	"fmt"
	"math"
	"time"
)

// DefaultThreshold is the percent variance above which a score counts as drifted.
const DefaultThreshold = 5.0

// HourKey formats t as "YYYY-MM-DD-HH" in UTC.
func HourKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d-%02d-%02d", t.Year(), int(t.Month()), t.Day(), t.Hour())
}

// NextHour returns the next top of the hour strictly after t, in UTC.
func NextHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

// PercentVariance is |current - committed| relative to |committed|, with the
// denominator floored at 1 so committed scores near zero stay comparable.
func PercentVariance(current, committed float64) float64 {
	denom := math.Max(math.Abs(committed), 1)
	return math.Abs(current-committed) / denom * 100
}

// IsViolation reports whether the variance strictly exceeds threshold percent.
func IsViolation(current, committed, threshold float64) bool {
	return PercentVariance(current, committed) > threshold
}

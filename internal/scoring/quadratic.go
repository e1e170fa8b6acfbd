// Package scoring implements quadratic, prediction-aware vote scoring.
//
// Everything here is pure: no I/O, no clocks, no persistence. The voting
// service feeds it voter reputation and the existing vote set for a claim and
// persists whatever it returns.
package scoring

import (
	"errors"
	"math"
)

const (
	MinCredits = 1
	MaxCredits = 100
)

// ErrInvalidCredits is returned for a credit spend outside [MinCredits, MaxCredits].
var ErrInvalidCredits = errors.New("credits must be between 1 and 100")

// ValidateCredits rejects spends outside the allowed range.
func ValidateCredits(credits int) error {
	if credits < MinCredits || credits > MaxCredits {
		return ErrInvalidCredits
	}
	return nil
}

// QuadraticWeight returns sqrt(credits) after clamping credits into range.
// Doubling influence costs four times the credits.
func QuadraticWeight(credits int) float64 {
	return math.Sqrt(float64(clampCredits(credits)))
}

// CreditsForWeight returns the credits needed to reach weight w, capped at MaxCredits.
func CreditsForWeight(w float64) int {
	if w <= 0 {
		return MinCredits
	}
	c := int(math.Ceil(w * w))
	return clampCredits(c)
}

// GroupInfluence sums the quadratic weight of several independent spends.
func GroupInfluence(credits []int) float64 {
	var total float64
	for _, c := range credits {
		total += QuadraticWeight(c)
	}
	return total
}

// SplitEfficiency compares the influence of total credits split evenly across
// n accounts against the same credits spent by one account. Fractional
// per-account spends are allowed here since this is a cost model, not a vote.
func SplitEfficiency(total, accounts int) float64 {
	if total <= 0 || accounts <= 0 {
		return 0
	}
	single := QuadraticWeight(total)
	per := float64(total) / float64(accounts)
	per = math.Max(MinCredits, math.Min(MaxCredits, per))
	split := float64(accounts) * math.Sqrt(per)
	return split / single
}

// Preview describes what a given spend buys.
type Preview struct {
	Credits          int     `json:"credits"`
	Weight           float64 `json:"quadratic_weight"`
	DoubleWeightCost int     `json:"double_weight_cost"`
}

// WeightPreview returns the weight for credits and the cost of doubling it.
func WeightPreview(credits int) Preview {
	w := QuadraticWeight(credits)
	return Preview{
		Credits:          clampCredits(credits),
		Weight:           w,
		DoubleWeightCost: CreditsForWeight(w * 2),
	}
}

func clampCredits(c int) int {
	if c < MinCredits {
		return MinCredits
	}
	if c > MaxCredits {
		return MaxCredits
	}
	return c
}

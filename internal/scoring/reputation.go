package scoring

const (
	DefaultReputation = 1.0
	MinReputation     = 0.1
	MaxReputation     = 5.0

	reputationDecay = 0.9
	accuracyWeight  = 0.1

	// MinSamplesForReputation is the fewest accuracy samples that move reputation.
	MinSamplesForReputation = 5
)

// AccuracySample pairs a vote with the claim's majority at resolution.
type AccuracySample struct {
	Value     bool
	Consensus bool
}

// ReputationUpdate reports one application of the reputation updater.
type ReputationUpdate struct {
	Previous      float64 `json:"previous_reputation"`
	New           float64 `json:"new_reputation"`
	Accuracy      float64 `json:"accuracy"`
	VotesAnalyzed int     `json:"votes_analyzed"`
	CorrectVotes  int     `json:"correct_votes"`
	Change        float64 `json:"change"`
}

// Accuracy returns the share of samples that matched their claim's majority.
// An empty history is neutral (0.5).
func Accuracy(samples []AccuracySample) float64 {
	if len(samples) == 0 {
		return 0.5
	}
	return float64(correct(samples)) / float64(len(samples))
}

// NewReputation applies the moving average old*0.9 + accuracy*0.1, clamped.
func NewReputation(current, accuracy float64) float64 {
	return ClampReputation(current*reputationDecay + accuracy*accuracyWeight)
}

// UpdateReputation moves reputation toward recent accuracy. Fewer than
// MinSamplesForReputation samples leave it unchanged.
func UpdateReputation(current float64, samples []AccuracySample) ReputationUpdate {
	if len(samples) < MinSamplesForReputation {
		return ReputationUpdate{
			Previous:      current,
			New:           current,
			VotesAnalyzed: len(samples),
		}
	}
	n := correct(samples)
	acc := float64(n) / float64(len(samples))
	next := NewReputation(current, acc)
	return ReputationUpdate{
		Previous:      current,
		New:           next,
		Accuracy:      acc,
		VotesAnalyzed: len(samples),
		CorrectVotes:  n,
		Change:        next - current,
	}
}

// ClampReputation bounds a reputation to [MinReputation, MaxReputation].
func ClampReputation(r float64) float64 {
	if r < MinReputation {
		return MinReputation
	}
	if r > MaxReputation {
		return MaxReputation
	}
	return r
}

// Tier buckets a reputation for display.
func Tier(r float64) string {
	switch {
	case r >= 3.0:
		return "oracle"
	case r >= 2.0:
		return "expert"
	case r >= 1.5:
		return "trusted"
	default:
		return "novice"
	}
}

func correct(samples []AccuracySample) int {
	n := 0
	for _, s := range samples {
		if s.Value == s.Consensus {
			n++
		}
	}
	return n
}

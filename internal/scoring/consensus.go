package scoring

// MinVotesForConsensus is the number of prior votes needed before a claim's
// majority counts as reached and prediction bonuses apply.
const MinVotesForConsensus = 10

// VoteSample is the slice of a persisted vote that scoring cares about.
type VoteSample struct {
	Value           bool
	FinalTrustScore float64
}

// ConsensusInfo is the majority view over a set of votes.
type ConsensusInfo struct {
	TrueVotes  int     `json:"true_votes"`
	FalseVotes int     `json:"false_votes"`
	TotalVotes int     `json:"total_votes"`
	Value      bool    `json:"consensus_value"`
	Strength   float64 `json:"consensus_strength"`
	Reached    bool    `json:"consensus_reached"`
}

// Consensus counts votes. Ties favor true; an empty set has strength 0.5.
func Consensus(votes []VoteSample) ConsensusInfo {
	var info ConsensusInfo
	for _, v := range votes {
		if v.Value {
			info.TrueVotes++
		} else {
			info.FalseVotes++
		}
	}
	info.TotalVotes = info.TrueVotes + info.FalseVotes
	info.Value = info.TrueVotes >= info.FalseVotes
	info.Strength = strength(float64(info.TrueVotes), float64(info.FalseVotes))
	info.Reached = info.TotalVotes >= MinVotesForConsensus
	return info
}

// WeightedConsensus is Consensus with each vote counted by its final trust
// score. A vote with no positive score counts as 1.
func WeightedConsensus(votes []VoteSample) ConsensusInfo {
	info := Consensus(votes)
	var trueScore, falseScore float64
	for _, v := range votes {
		s := v.FinalTrustScore
		if s <= 0 {
			s = 1
		}
		if v.Value {
			trueScore += s
		} else {
			falseScore += s
		}
	}
	info.Value = trueScore >= falseScore
	info.Strength = strength(trueScore, falseScore)
	return info
}

func strength(t, f float64) float64 {
	total := t + f
	if total == 0 {
		return 0.5
	}
	if t > f {
		return t / total
	}
	return f / total
}

// AggregateScore sums final trust scores, positive for true votes and
// negative for false votes.
func AggregateScore(votes []VoteSample) float64 {
	var sum float64
	for _, v := range votes {
		if v.Value {
			sum += v.FinalTrustScore
		} else {
			sum -= v.FinalTrustScore
		}
	}
	return sum
}

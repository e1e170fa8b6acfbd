package scoring

// TrustInput is everything needed to score one new vote.
type TrustInput struct {
	Credits    int
	Value      bool
	Predicted  *bool
	Reputation float64
	// Existing holds the claim's votes, excluding the one being scored.
	Existing []VoteSample
}

// TrustScore is the computed breakdown for one vote.
type TrustScore struct {
	QuadraticWeight    float64       `json:"quadratic_weight"`
	BayesianBonus      float64       `json:"bayesian_bonus"`
	FinalTrustScore    float64       `json:"final_trust_score"`
	EffectiveInfluence float64       `json:"effective_influence"`
	BonusKind          BonusKind     `json:"bonus_kind"`
	Consensus          ConsensusInfo `json:"consensus"`
}

// ComputeTrustScore scores a vote:
//
//	final = sqrt(credits) * reputation + bonus
//
// The bonus is judged against the raw-count consensus of the existing votes.
func ComputeTrustScore(in TrustInput) (TrustScore, error) {
	if err := ValidateCredits(in.Credits); err != nil {
		return TrustScore{}, err
	}
	rep := in.Reputation
	if rep <= 0 {
		rep = DefaultReputation
	}

	weight := QuadraticWeight(in.Credits)
	cons := Consensus(in.Existing)
	kind := ClassifyBonus(in.Value, in.Predicted, cons.Value, cons.Reached)
	bonus := BayesianBonus(in.Value, in.Predicted, cons.Value, rep, cons.Reached)
	influence := weight * rep

	return TrustScore{
		QuadraticWeight:    weight,
		BayesianBonus:      bonus,
		FinalTrustScore:    influence + bonus,
		EffectiveInfluence: influence,
		BonusKind:          kind,
		Consensus:          cons,
	}, nil
}

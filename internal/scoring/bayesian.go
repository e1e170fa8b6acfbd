package scoring

const (
	SurprisingTruthMultiplier = 0.5
	MinorityCorrectMultiplier = 0.3
)

// BonusKind names which row of the bonus table a vote landed on.
type BonusKind string

const (
	BonusNone            BonusKind = "none"
	BonusSurprisingTruth BonusKind = "surprising_truth"
	BonusMinorityCorrect BonusKind = "minority_correct"
)

// ClassifyBonus picks the bonus row for a vote. First match wins:
//
//	no prediction, or consensus not reached          -> none
//	predicted == actual && vote != predicted         -> surprising truth
//	predicted != actual && vote == predicted         -> minority correct
//	anything else                                    -> none
func ClassifyBonus(vote bool, predicted *bool, actual bool, reached bool) BonusKind {
	if predicted == nil || !reached {
		return BonusNone
	}
	p := *predicted
	switch {
	case p == actual && vote != p:
		return BonusSurprisingTruth
	case p != actual && vote == p:
		return BonusMinorityCorrect
	default:
		return BonusNone
	}
}

// BayesianBonus returns the prediction bonus for a vote, scaled by the
// voter's reputation.
func BayesianBonus(vote bool, predicted *bool, actual bool, reputation float64, reached bool) float64 {
	switch ClassifyBonus(vote, predicted, actual, reached) {
	case BonusSurprisingTruth:
		return reputation * SurprisingTruthMultiplier
	case BonusMinorityCorrect:
		return reputation * MinorityCorrectMultiplier
	default:
		return 0
	}
}

// BonusExplanation is a short human-readable label for a bonus row.
func BonusExplanation(kind BonusKind, reached bool, predicted bool) string {
	switch {
	case !predicted:
		return "make a prediction to potentially earn a bonus"
	case !reached:
		return "bonus applies once the claim has 10 votes"
	case kind == BonusSurprisingTruth:
		return "surprising truth: predicted the crowd correctly but voted against it"
	case kind == BonusMinorityCorrect:
		return "minority correct: minority prediction aligned with the vote"
	default:
		return "no bonus for this vote and prediction combination"
	}
}

package voting

import (
	"context"
	"errors"

	"github.com/MikeSquared-Agency/citadel/internal/scoring"
	"github.com/MikeSquared-Agency/citadel/internal/store"
)

const (
	maxListVotes     = 100
	maxPreviewSample = 10000
)

type VotePreview struct {
	ClaimID          string                `json:"claim_id"`
	Credits          int                   `json:"credits"`
	QuadraticWeight  float64               `json:"quadratic_weight"`
	DoubleWeightCost int                   `json:"double_weight_cost"`
	Reputation       float64               `json:"reputation"`
	ReputationTier   string                `json:"reputation_tier"`
	Influence        float64               `json:"effective_influence"`
	Consensus        scoring.ConsensusInfo `json:"consensus"`
	BonusHint        string                `json:"bonus_hint"`
}

// Preview shows what spending credits on a claim would buy without casting
// anything. An unknown or empty voter previews at the default reputation.
func (s *Service) Preview(ctx context.Context, claimID, voterID string, credits int) (*VotePreview, error) {
	if err := ValidateClaimID(claimID); err != nil {
		return nil, err
	}
	if err := scoring.ValidateCredits(credits); err != nil {
		return nil, err
	}
	if _, err := s.store.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}

	rep := scoring.DefaultReputation
	if voterID != "" {
		if err := ValidateVoterID(voterID); err != nil {
			return nil, err
		}
		v, err := s.store.GetVoter(ctx, voterID)
		switch {
		case err == nil:
			rep = v.Reputation
		case errors.Is(err, store.ErrVoterNotFound):
		default:
			return nil, err
		}
	}

	votes, err := s.store.ListVotes(ctx, store.VoteFilter{ClaimID: claimID}, maxPreviewSample)
	if err != nil {
		return nil, err
	}
	cons := scoring.Consensus(samples(votes))
	wp := scoring.WeightPreview(credits)

	hint := "prediction bonuses are active for this claim"
	if !cons.Reached {
		hint = scoring.BonusExplanation(scoring.BonusNone, false, true)
	}

	return &VotePreview{
		ClaimID:          claimID,
		Credits:          wp.Credits,
		QuadraticWeight:  wp.Weight,
		DoubleWeightCost: wp.DoubleWeightCost,
		Reputation:       rep,
		ReputationTier:   scoring.Tier(rep),
		Influence:        wp.Weight * rep,
		Consensus:        cons,
		BonusHint:        hint,
	}, nil
}

// ListVotes returns up to 100 votes for a claim, a voter, or both.
func (s *Service) ListVotes(ctx context.Context, claimID, voterID string) ([]store.Vote, error) {
	if claimID != "" {
		if err := ValidateClaimID(claimID); err != nil {
			return nil, err
		}
	}
	if voterID != "" {
		if err := ValidateVoterID(voterID); err != nil {
			return nil, err
		}
	}
	votes, err := s.store.ListVotes(ctx, store.VoteFilter{ClaimID: claimID, VoterID: voterID}, maxListVotes)
	if err != nil {
		return nil, err
	}
	if votes == nil {
		votes = []store.Vote{}
	}
	return votes, nil
}

package voting

import (
	"context"
	"errors"

	"github.com/MikeSquared-Agency/citadel/internal/store"
)

// RecomputeClaimAggregate re-derives a claim's score and tallies from its
// votes. This is the way back to the vote-derived score after a revert.
func (s *Service) RecomputeClaimAggregate(ctx context.Context, claimID string) (*store.Claim, error) {
	if err := ValidateClaimID(claimID); err != nil {
		return nil, err
	}
	var out *store.Claim
	err := s.store.InClaimTx(ctx, claimID, func(ctx context.Context, tx store.ClaimTx) error {
		votes, err := tx.ListVotes(ctx)
		if err != nil {
			return err
		}
		c, err := tx.UpdateAggregate(ctx, Aggregate(votes))
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveVote deletes a voter's vote on a claim and recomputes the claim in
// the same transaction.
func (s *Service) RemoveVote(ctx context.Context, claimID, voterID string) (*store.Claim, error) {
	if err := ValidateClaimID(claimID); err != nil {
		return nil, err
	}
	if err := ValidateVoterID(voterID); err != nil {
		return nil, err
	}
	var out *store.Claim
	err := s.store.InClaimTx(ctx, claimID, func(ctx context.Context, tx store.ClaimTx) error {
		if err := tx.DeleteVote(ctx, voterID); err != nil {
			return err
		}
		votes, err := tx.ListVotes(ctx)
		if err != nil {
			return err
		}
		c, err := tx.UpdateAggregate(ctx, Aggregate(votes))
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("vote removed", "claim_id", claimID, "voter_id", voterID, "aggregate_score", out.AggregateScore)
	return out, nil
}

// RepairChange records a claim whose stored aggregate disagreed with its votes.
type RepairChange struct {
	ClaimID     string  `json:"claim_id"`
	BeforeScore float64 `json:"before_score"`
	AfterScore  float64 `json:"after_score"`
	BeforeVotes int     `json:"before_total_votes"`
	AfterVotes  int     `json:"after_total_votes"`
}

type RepairReport struct {
	Checked int            `json:"checked"`
	Fixed   int            `json:"fixed"`
	Failed  []string       `json:"failed"`
	Changes []RepairChange `json:"changes"`
}

// RecomputeAll recomputes every claim from its votes and reports the ones
// that had drifted. A failure on one claim does not stop the sweep.
func (s *Service) RecomputeAll(ctx context.Context) (RepairReport, error) {
	report := RepairReport{Failed: []string{}, Changes: []RepairChange{}}

	ids, err := s.store.ListClaimIDs(ctx)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var change *RepairChange
		err := s.store.InClaimTx(ctx, id, func(ctx context.Context, tx store.ClaimTx) error {
			before := *tx.Claim()
			votes, err := tx.ListVotes(ctx)
			if err != nil {
				return err
			}
			agg := Aggregate(votes)
			if sameAggregate(before, agg) {
				return nil
			}
			if _, err := tx.UpdateAggregate(ctx, agg); err != nil {
				return err
			}
			change = &RepairChange{
				ClaimID:     id,
				BeforeScore: before.AggregateScore,
				AfterScore:  agg.Score,
				BeforeVotes: before.TotalVotes,
				AfterVotes:  agg.TotalVotes,
			}
			return nil
		})
		report.Checked++
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return report, err
			}
			s.logger.Error("recompute failed", "claim_id", id, "error", wrapClaim("recompute", id, err))
			report.Failed = append(report.Failed, id)
			continue
		}
		if change != nil {
			report.Fixed++
			report.Changes = append(report.Changes, *change)
		}
	}

	s.logger.Info("recompute sweep finished", "checked", report.Checked, "fixed", report.Fixed, "failed", len(report.Failed))
	return report, nil
}

package commitment

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/citadel/internal/hermes"
	"github.com/MikeSquared-Agency/citadel/internal/integrity"
	"github.com/MikeSquared-Agency/citadel/internal/metrics"
)

type RevertResult struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	ClaimID       string        `json:"claim_id"`
	Commitment    CommitmentRef `json:"commitment"`
	PreviousScore float64       `json:"previous_score"`
	RevertedScore float64       `json:"reverted_score"`
	// TotalVotes is left as it was; the reverted score no longer matches the
	// vote set until the claim is recomputed.
	TotalVotes int `json:"total_votes"`
}

// RevertToCommittedState overwrites a claim's aggregate score with the value
// committed for it. Votes and tallies are untouched. commitmentRef is a
// commitment id or an hour key.
func (s *Service) RevertToCommittedState(ctx context.Context, claimID, commitmentRef string) (*RevertResult, error) {
	res, err := s.revert(ctx, claimID, commitmentRef)
	if err != nil {
		s.metrics.Revert(metrics.ResultError)
		return nil, err
	}
	s.metrics.Revert(metrics.ResultOK)
	return res, nil
}

func (s *Service) revert(ctx context.Context, claimID, commitmentRef string) (*RevertResult, error) {
	c, err := s.lookup(ctx, commitmentRef)
	if err != nil {
		return nil, err
	}
	entry, ok := c.Entry(claimID)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrClaimNotInCommitment, claimID, c.HourKey)
	}
	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetClaimScore(ctx, claimID, entry.Score); err != nil {
		return nil, err
	}

	s.logger.Warn("claim score reverted",
		"claim_id", claimID,
		"hour_key", c.HourKey,
		"previous_score", claim.AggregateScore,
		"reverted_score", entry.Score,
		"total_votes", claim.TotalVotes,
	)
	s.publish(hermes.SubjectReverted, hermes.RevertedEvent{
		ClaimID:       claimID,
		CommitmentID:  c.ID.String(),
		HourKey:       c.HourKey,
		PreviousScore: claim.AggregateScore,
		RevertedScore: entry.Score,
		Timestamp:     s.now().UTC(),
	})

	return &RevertResult{
		Success:       true,
		Message:       fmt.Sprintf("claim %s reverted to score %g from %s", claimID, entry.Score, c.HourKey),
		ClaimID:       claimID,
		Commitment:    refOf(c),
		PreviousScore: claim.AggregateScore,
		RevertedScore: entry.Score,
		TotalVotes:    claim.TotalVotes,
	}, nil
}

type RevertOutcome struct {
	ClaimID      string `json:"claim_id"`
	CommitmentID string `json:"commitment_id"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
}

type BulkRevertReport struct {
	Reverted int             `json:"reverted"`
	Failed   int             `json:"failed"`
	Results  []RevertOutcome `json:"results"`
}

// RevertAllViolations reverts every drifted claim in the window to the most
// recent commitment it drifted from. Each claim is reverted at most once.
func (s *Service) RevertAllViolations(ctx context.Context, hoursBack int) (BulkRevertReport, error) {
	report := BulkRevertReport{Results: []RevertOutcome{}}

	res, err := s.scan(ctx, "", hoursBack)
	if err != nil {
		return report, err
	}

	done := map[string]bool{}
	for _, v := range res.violations {
		if done[v.ClaimID] {
			continue
		}
		done[v.ClaimID] = true
		if err := ctx.Err(); err != nil {
			return report, err
		}

		out := RevertOutcome{ClaimID: v.ClaimID, CommitmentID: v.Commitment.ID.String()}
		r, err := s.RevertToCommittedState(ctx, v.ClaimID, v.Commitment.ID.String())
		if err != nil {
			report.Failed++
			out.Message = err.Error()
		} else {
			report.Reverted++
			out.Success = true
			out.Message = r.Message
		}
		report.Results = append(report.Results, out)
	}

	s.logger.Info("bulk revert finished", "reverted", report.Reverted, "failed", report.Failed)
	return report, nil
}

// Verification is the outcome of checking one claim against a commitment.
type Verification struct {
	Valid          bool                  `json:"is_valid"`
	ClaimID        string                `json:"claim_id"`
	Commitment     CommitmentRef         `json:"commitment"`
	CommittedScore float64               `json:"committed_score"`
	CurrentScore   float64               `json:"current_score"`
	LeafHash       string                `json:"leaf_hash"`
	Proof          []integrity.ProofStep `json:"proof"`
	ProofValid     bool                  `json:"proof_valid"`
}

// VerifyClaim checks that the claim's live score equals its committed score
// and that the committed leaf is part of the commitment's root.
func (s *Service) VerifyClaim(ctx context.Context, claimID, commitmentRef string) (*Verification, error) {
	c, err := s.lookup(ctx, commitmentRef)
	if err != nil {
		return nil, err
	}
	entry, ok := c.Entry(claimID)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrClaimNotInCommitment, claimID, c.HourKey)
	}
	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	leaves := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		leaves[i] = e.LeafHash
	}
	proof, err := integrity.Proof(leaves, entry.LeafHash)
	if err != nil && !errors.Is(err, integrity.ErrLeafNotFound) {
		return nil, fmt.Errorf("build proof: %w", err)
	}

	recomputed := fmt.Sprintf("%x", integrity.LeafHash(claimID, entry.Score, c.Timestamp.Unix()))
	proofValid := err == nil &&
		recomputed == entry.LeafHash &&
		integrity.VerifyProof(c.RootHash, entry.LeafHash, proof)
	if proof == nil {
		proof = []integrity.ProofStep{}
	}

	return &Verification{
		Valid:          proofValid && claim.AggregateScore == entry.Score,
		ClaimID:        claimID,
		Commitment:     refOf(c),
		CommittedScore: entry.Score,
		CurrentScore:   claim.AggregateScore,
		LeafHash:       entry.LeafHash,
		Proof:          proof,
		ProofValid:     proofValid,
	}, nil
}

package voting

import (
	"context"
	"errors"

	"github.com/MikeSquared-Agency/citadel/internal/scoring"
	"github.com/MikeSquared-Agency/citadel/internal/store"
)

// RefreshReputation samples the voter's recent votes against each claim's
// current majority and applies the reputation update. Claims with fewer than
// five votes are skipped.
func (s *Service) RefreshReputation(ctx context.Context, voterID string) (scoring.ReputationUpdate, error) {
	if err := ValidateVoterID(voterID); err != nil {
		return scoring.ReputationUpdate{}, err
	}
	voter, err := s.store.GetVoter(ctx, voterID)
	if err != nil {
		return scoring.ReputationUpdate{}, err
	}
	return s.refreshVoter(ctx, voter)
}

func (s *Service) refreshVoter(ctx context.Context, voter *store.Voter) (scoring.ReputationUpdate, error) {
	outcomes, err := s.store.ListVoterOutcomes(ctx, voter.ID, reputationWindow)
	if err != nil {
		return scoring.ReputationUpdate{}, err
	}

	var accuracy []scoring.AccuracySample
	for _, o := range outcomes {
		if o.TrueVotes+o.FalseVotes < minClaimVotesForOutcome {
			continue
		}
		accuracy = append(accuracy, scoring.AccuracySample{
			Value:     o.Value,
			Consensus: o.TrueVotes >= o.FalseVotes,
		})
	}

	update := scoring.UpdateReputation(voter.Reputation, accuracy)
	if update.Change == 0 {
		return update, nil
	}
	if err := s.store.SetVoterReputation(ctx, voter.ID, update.New); err != nil {
		return scoring.ReputationUpdate{}, err
	}

	s.logger.Info("reputation updated",
		"voter_id", voter.ID,
		"previous", update.Previous,
		"new", update.New,
		"accuracy", update.Accuracy,
		"samples", update.VotesAnalyzed,
	)
	return update, nil
}

// ReputationChange is one voter whose reputation moved during a sweep.
type ReputationChange struct {
	VoterID string `json:"voter_id"`
	scoring.ReputationUpdate
}

type ReputationReport struct {
	Checked int                `json:"checked"`
	Updated int                `json:"updated"`
	Failed  []string           `json:"failed"`
	Changes []ReputationChange `json:"changes"`
}

// RefreshAllReputations runs the reputation update for every registered
// voter. A failure on one voter is logged and the sweep moves on.
func (s *Service) RefreshAllReputations(ctx context.Context) (ReputationReport, error) {
	report := ReputationReport{Failed: []string{}, Changes: []ReputationChange{}}

	ids, err := s.store.ListVoterIDs(ctx)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		update, err := s.refreshByID(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return report, err
			}
			s.logger.Error("reputation refresh failed", "voter_id", id, "error", err)
			report.Failed = append(report.Failed, id)
			continue
		}
		if update.Change != 0 {
			report.Updated++
			report.Changes = append(report.Changes, ReputationChange{VoterID: id, ReputationUpdate: update})
		}
	}

	s.logger.Info("reputation sweep finished", "checked", report.Checked, "updated", report.Updated, "failed", len(report.Failed))
	return report, nil
}

func (s *Service) refreshByID(ctx context.Context, id string) (scoring.ReputationUpdate, error) {
	voter, err := s.store.GetVoter(ctx, id)
	if err != nil {
		return scoring.ReputationUpdate{}, err
	}
	return s.refreshVoter(ctx, voter)
}

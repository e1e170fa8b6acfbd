// Package voting casts votes and keeps each claim's aggregate score in step
// with its full vote set.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/MikeSquared-Agency/citadel/internal/hermes"
	"github.com/MikeSquared-Agency/citadel/internal/metrics"
	"github.com/MikeSquared-Agency/citadel/internal/scoring"
	"github.com/MikeSquared-Agency/citadel/internal/store"
)

var (
	ErrClaimNotActive = errors.New("claim is not active")
	ErrInvalidVoterID = errors.New("voter id must be 64 lowercase hex characters")
	ErrInvalidClaimID = errors.New("claim id must be between 1 and 64 characters")
)

const (
	maxClaimIDLen = 64

	// reputationWindow is how many recent votes feed a reputation refresh.
	reputationWindow = 50
	// minClaimVotesForOutcome skips claims too thin to have a meaningful majority.
	minClaimVotesForOutcome = 5
)

var voterIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateVoterID checks the nullifier format.
func ValidateVoterID(id string) error {
	if !voterIDPattern.MatchString(id) {
		return ErrInvalidVoterID
	}
	return nil
}

func ValidateClaimID(id string) error {
	if id == "" || len(id) > maxClaimIDLen {
		return ErrInvalidClaimID
	}
	return nil
}

// Store is the persistence the service needs.
type Store interface {
	GetVoter(ctx context.Context, id string) (*store.Voter, error)
	ListVoterIDs(ctx context.Context) ([]string, error)
	TouchVoter(ctx context.Context, id string) error
	SetVoterReputation(ctx context.Context, id string, reputation float64) error
	ListVoterOutcomes(ctx context.Context, voterID string, limit int) ([]store.VoterOutcome, error)
	GetClaim(ctx context.Context, id string) (*store.Claim, error)
	ListClaimIDs(ctx context.Context) ([]string, error)
	ListVotes(ctx context.Context, f store.VoteFilter, limit int) ([]store.Vote, error)
	InClaimTx(ctx context.Context, claimID string, fn func(ctx context.Context, tx store.ClaimTx) error) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Service struct {
	store   Store
	pub     Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(s Store, pub Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if pub == nil {
		pub = hermes.Discard{}
	}
	return &Service{
		store:   s,
		pub:     pub,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

type CastVoteRequest struct {
	ClaimID   string
	VoterID   string
	Value     bool
	Credits   int
	Predicted *bool
}

type CastVoteResult struct {
	Vote  store.Vote         `json:"vote"`
	Claim store.Claim        `json:"claim"`
	Trust scoring.TrustScore `json:"trust"`
}

// CastVote scores and persists one vote, then recomputes the claim's
// aggregate from every vote it now has. Validation happens before anything
// is written; the insert and recompute share one claim-locked transaction.
func (s *Service) CastVote(ctx context.Context, req CastVoteRequest) (*CastVoteResult, error) {
	start := s.now()
	res, err := s.castVote(ctx, req)
	switch {
	case err == nil:
		s.metrics.VoteCast(metrics.ResultOK, s.now().Sub(start))
	case isRejection(err):
		s.metrics.VoteCast(metrics.ResultRejected, 0)
	default:
		s.metrics.VoteCast(metrics.ResultError, 0)
	}
	return res, err
}

func (s *Service) castVote(ctx context.Context, req CastVoteRequest) (*CastVoteResult, error) {
	if err := ValidateClaimID(req.ClaimID); err != nil {
		return nil, err
	}
	if err := ValidateVoterID(req.VoterID); err != nil {
		return nil, err
	}
	if err := scoring.ValidateCredits(req.Credits); err != nil {
		return nil, err
	}

	voter, err := s.store.GetVoter(ctx, req.VoterID)
	if err != nil {
		return nil, err
	}

	var res CastVoteResult
	err = s.store.InClaimTx(ctx, req.ClaimID, func(ctx context.Context, tx store.ClaimTx) error {
		if tx.Claim().Status != store.StatusActive {
			return ErrClaimNotActive
		}

		votes, err := tx.ListVotes(ctx)
		if err != nil {
			return err
		}
		for _, v := range votes {
			if v.VoterID == req.VoterID {
				return store.ErrAlreadyVoted
			}
		}

		trust, err := scoring.ComputeTrustScore(scoring.TrustInput{
			Credits:    req.Credits,
			Value:      req.Value,
			Predicted:  req.Predicted,
			Reputation: voter.Reputation,
			Existing:   samples(votes),
		})
		if err != nil {
			return err
		}

		vote := store.Vote{
			VoterID:            req.VoterID,
			Value:              req.Value,
			CreditsSpent:       req.Credits,
			PredictedConsensus: req.Predicted,
			QuadraticWeight:    trust.QuadraticWeight,
			BayesianBonus:      trust.BayesianBonus,
			FinalTrustScore:    trust.FinalTrustScore,
		}
		if err := tx.InsertVote(ctx, &vote); err != nil {
			return err
		}

		claim, err := tx.UpdateAggregate(ctx, Aggregate(append(votes, vote)))
		if err != nil {
			return err
		}

		res = CastVoteResult{Vote: vote, Claim: *claim, Trust: trust}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchVoter(ctx, req.VoterID); err != nil {
		s.logger.Warn("failed to touch voter", "voter_id", req.VoterID, "error", err)
	}

	s.logger.Info("vote cast",
		"claim_id", req.ClaimID,
		"voter_id", req.VoterID,
		"credits", req.Credits,
		"final_trust_score", res.Trust.FinalTrustScore,
		"bonus", res.Trust.BonusKind,
		"aggregate_score", res.Claim.AggregateScore,
	)

	s.publish(hermes.SubjectVoteCast, hermes.VoteCastEvent{
		VoteID:          res.Vote.ID.String(),
		ClaimID:         res.Claim.ID,
		VoterID:         req.VoterID,
		VoteValue:       req.Value,
		CreditsSpent:    req.Credits,
		FinalTrustScore: res.Trust.FinalTrustScore,
		AggregateScore:  res.Claim.AggregateScore,
		TotalVotes:      res.Claim.TotalVotes,
		Timestamp:       s.now().UTC(),
	})
	return &res, nil
}

// Aggregate derives a claim's score and tallies from its votes.
func Aggregate(votes []store.Vote) store.Aggregate {
	agg := store.Aggregate{TotalVotes: len(votes)}
	for _, v := range votes {
		if v.Value {
			agg.TrueVotes++
		} else {
			agg.FalseVotes++
		}
	}
	agg.Score = scoring.AggregateScore(samples(votes))
	return agg
}

func samples(votes []store.Vote) []scoring.VoteSample {
	out := make([]scoring.VoteSample, len(votes))
	for i, v := range votes {
		out[i] = scoring.VoteSample{Value: v.Value, FinalTrustScore: v.FinalTrustScore}
	}
	return out
}

func isRejection(err error) bool {
	return errors.Is(err, scoring.ErrInvalidCredits) ||
		errors.Is(err, ErrInvalidVoterID) ||
		errors.Is(err, ErrInvalidClaimID) ||
		errors.Is(err, ErrClaimNotActive) ||
		errors.Is(err, store.ErrAlreadyVoted) ||
		errors.Is(err, store.ErrClaimNotFound) ||
		errors.Is(err, store.ErrVoterNotFound)
}

func (s *Service) publish(subject string, data any) {
	if err := s.pub.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

func sameAggregate(c store.Claim, agg store.Aggregate) bool {
	return c.TotalVotes == agg.TotalVotes &&
		c.TrueVotes == agg.TrueVotes &&
		c.FalseVotes == agg.FalseVotes &&
		math.Abs(c.AggregateScore-agg.Score) < 1e-9
}

func wrapClaim(op, claimID string, err error) error {
	return fmt.Errorf("%s %s: %w", op, claimID, err)
}

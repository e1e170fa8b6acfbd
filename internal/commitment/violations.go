package commitment

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/citadel/internal/hermes"
	"github.com/MikeSquared-Agency/citadel/internal/integrity"
	"github.com/MikeSquared-Agency/citadel/internal/store"
)

// CommitmentRef identifies the commitment a score was checked against.
type CommitmentRef struct {
	ID        uuid.UUID `json:"id"`
	HourKey   string    `json:"hour_key"`
	RootHash  string    `json:"root_hash"`
	Timestamp time.Time `json:"timestamp"`
}

func refOf(c *store.Commitment) CommitmentRef {
	return CommitmentRef{ID: c.ID, HourKey: c.HourKey, RootHash: c.RootHash, Timestamp: c.Timestamp}
}

// Violation is a claim whose live score drifted from a committed score. It
// cannot tell tampering from legitimate votes cast after the commitment, so
// treat it as a hint for review.
type Violation struct {
	ClaimID         string        `json:"claim_id"`
	CurrentScore    float64       `json:"current_score"`
	CommittedScore  float64       `json:"committed_score"`
	Variance        float64       `json:"variance"`
	PercentVariance float64       `json:"percent_variance"`
	Commitment      CommitmentRef `json:"commitment"`
}

type scan struct {
	commitments int
	checked     int
	violations  []Violation
}

// CheckViolations compares live claim scores to every verified commitment in
// the last hoursBack hours. An empty claimID checks every committed claim. A
// claim is reported once per commitment it drifted from, newest first.
func (s *Service) CheckViolations(ctx context.Context, claimID string, hoursBack int) ([]Violation, error) {
	res, err := s.scan(ctx, claimID, hoursBack)
	if err != nil {
		return nil, err
	}
	s.metrics.Violations(len(res.violations))
	if len(res.violations) > 0 {
		s.logger.Warn("score drift detected",
			"claim_id", claimID,
			"hours_back", hoursBack,
			"violations", len(res.violations),
		)
	}
	for _, v := range res.violations {
		s.publish(hermes.SubjectViolation, hermes.ViolationEvent{
			ClaimID:         v.ClaimID,
			CommitmentID:    v.Commitment.ID.String(),
			HourKey:         v.Commitment.HourKey,
			CurrentScore:    v.CurrentScore,
			CommittedScore:  v.CommittedScore,
			PercentVariance: v.PercentVariance,
		})
	}
	return res.violations, nil
}

func (s *Service) scan(ctx context.Context, claimID string, hoursBack int) (scan, error) {
	res := scan{violations: []Violation{}}
	if hoursBack <= 0 {
		hoursBack = DefaultHoursBack
	}
	since := s.now().UTC().Add(-time.Duration(hoursBack) * time.Hour)

	commitments, err := s.store.ListVerifiedCommitmentsSince(ctx, since)
	if err != nil {
		return res, err
	}
	res.commitments = len(commitments)

	var ids []string
	seen := map[string]bool{}
	for _, c := range commitments {
		for _, e := range c.Entries {
			if claimID != "" && e.ClaimID != claimID {
				continue
			}
			if !seen[e.ClaimID] {
				seen[e.ClaimID] = true
				ids = append(ids, e.ClaimID)
			}
		}
	}
	if len(ids) == 0 {
		return res, nil
	}

	current, err := s.store.GetClaims(ctx, ids)
	if err != nil {
		return res, err
	}

	for _, c := range commitments {
		for _, e := range c.Entries {
			if claimID != "" && e.ClaimID != claimID {
				continue
			}
			claim, ok := current[e.ClaimID]
			if !ok {
				continue
			}
			res.checked++
			if !integrity.IsViolation(claim.AggregateScore, e.Score, s.threshold) {
				continue
			}
			res.violations = append(res.violations, Violation{
				ClaimID:         e.ClaimID,
				CurrentScore:    claim.AggregateScore,
				CommittedScore:  e.Score,
				Variance:        math.Abs(claim.AggregateScore - e.Score),
				PercentVariance: integrity.PercentVariance(claim.AggregateScore, e.Score),
				Commitment:      refOf(c),
			})
		}
	}

	return res, nil
}

type AuditReport struct {
	Commitments    int       `json:"commitments_checked"`
	EntriesChecked int       `json:"entries_checked"`
	Violations     int       `json:"violations"`
	ViolatedClaims []string  `json:"violated_claims"`
	AuditTime      time.Time `json:"audit_time"`
}

// Audit summarises drift across all claims in the window.
func (s *Service) Audit(ctx context.Context, hoursBack int) (AuditReport, error) {
	res, err := s.scan(ctx, "", hoursBack)
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{
		Commitments:    res.commitments,
		EntriesChecked: res.checked,
		Violations:     len(res.violations),
		ViolatedClaims: uniqueClaims(res.violations),
		AuditTime:      s.now().UTC(),
	}
	return report, nil
}

func uniqueClaims(vs []Violation) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, v := range vs {
		if !seen[v.ClaimID] {
			seen[v.ClaimID] = true
			out = append(out, v.ClaimID)
		}
	}
	return out
}

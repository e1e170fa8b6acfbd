package hermes

import "time"

// Outbound subjects.
const (
	SubjectVoteCast          = "citadel.vote.cast"
	SubjectCommitmentCreated = "citadel.commitment.created"
	SubjectViolation         = "citadel.integrity.violation"
	SubjectReverted          = "citadel.integrity.reverted"
	SubjectRegistered        = "swarm.agent.citadel.registered"
)

// Inbound subjects published by the identity and claim services.
const (
	SubjectVoterRegistered = "citadel.voter.registered"
	SubjectClaimSubmitted  = "citadel.claim.submitted"
	SubjectClaimStatus     = "citadel.claim.status"
)

// VoteCastEvent is emitted after a vote is persisted and the claim
// aggregate has been recomputed.
type VoteCastEvent struct {
	VoteID          string    `json:"vote_id"`
	ClaimID         string    `json:"claim_id"`
	VoterID         string    `json:"voter_id"`
	VoteValue       bool      `json:"vote_value"`
	CreditsSpent    int       `json:"credits_spent"`
	FinalTrustScore float64   `json:"final_trust_score"`
	AggregateScore  float64   `json:"aggregate_score"`
	TotalVotes      int       `json:"total_votes"`
	Timestamp       time.Time `json:"timestamp"`
}

type CommitmentCreatedEvent struct {
	CommitmentID string    `json:"commitment_id"`
	HourKey      string    `json:"hour_key"`
	RootHash     string    `json:"root_hash"`
	ClaimCount   int       `json:"claim_count"`
	Timestamp    time.Time `json:"timestamp"`
}

type ViolationEvent struct {
	ClaimID         string  `json:"claim_id"`
	CommitmentID    string  `json:"commitment_id"`
	HourKey         string  `json:"hour_key"`
	CurrentScore    float64 `json:"current_score"`
	CommittedScore  float64 `json:"committed_score"`
	PercentVariance float64 `json:"percent_variance"`
}

type RevertedEvent struct {
	ClaimID       string    `json:"claim_id"`
	CommitmentID  string    `json:"commitment_id"`
	HourKey       string    `json:"hour_key"`
	PreviousScore float64   `json:"previous_score"`
	RevertedScore float64   `json:"reverted_score"`
	Timestamp     time.Time `json:"timestamp"`
}

type VoterRegisteredEvent struct {
	VoterID string `json:"voter_id"`
}

// ClaimSubmittedEvent announces a new claim. ParentID links it to a claim it
// builds on; Weight defaults to 1 when a parent is given.
type ClaimSubmittedEvent struct {
	ClaimID  string  `json:"claim_id"`
	ParentID string  `json:"parent_claim_id,omitempty"`
	Weight   float64 `json:"influence_weight,omitempty"`
}

type ClaimStatusEvent struct {
	ClaimID string `json:"claim_id"`
	Status  string `json:"status"`
}

// Discard is a publisher that drops everything. Used when NATS is not
// configured.
type Discard struct{}

func (Discard) Publish(string, any) error { return nil }

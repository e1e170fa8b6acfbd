package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Vote struct {
	ID                 uuid.UUID `json:"id"`
	ClaimID            string    `json:"claim_id"`
	VoterID            string    `json:"voter_id"`
	Value              bool      `json:"vote_value"`
	CreditsSpent       int       `json:"credits_spent"`
	PredictedConsensus *bool     `json:"predicted_consensus,omitempty"`
	QuadraticWeight    float64   `json:"quadratic_weight"`
	BayesianBonus      float64   `json:"bayesian_bonus"`
	FinalTrustScore    float64   `json:"final_trust_score"`
	CreatedAt          time.Time `json:"created_at"`
}

// VoteFilter narrows ListVotes. Empty fields match everything.
type VoteFilter struct {
	ClaimID string
	VoterID string
}

const voteColumns = `id, claim_id, voter_id, vote_value, credits_spent, predicted_consensus,
	quadratic_weight, bayesian_bonus, final_trust_score, created_at`

func collectVotes(rows pgx.Rows) ([]Vote, error) {
	defer rows.Close()
	var out []Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ID, &v.ClaimID, &v.VoterID, &v.Value, &v.CreditsSpent, &v.PredictedConsensus,
			&v.QuadraticWeight, &v.BayesianBonus, &v.FinalTrustScore, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListVotes returns votes matching f, newest first.
func (s *Store) ListVotes(ctx context.Context, f VoteFilter, limit int) ([]Vote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+voteColumns+` FROM votes
		WHERE ($1 = '' OR claim_id = $1) AND ($2 = '' OR voter_id = $2)
		ORDER BY created_at DESC, id
		LIMIT $3`, f.ClaimID, f.VoterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return collectVotes(rows)
}

// ClaimTx is a transaction holding the row lock on one claim. Every vote
// write for that claim goes through one, so writers serialize per claim.
type ClaimTx interface {
	Claim() *Claim
	ListVotes(ctx context.Context) ([]Vote, error)
	// InsertVote returns ErrAlreadyVoted when the voter already has a vote
	// on this claim.
	InsertVote(ctx context.Context, v *Vote) error
	DeleteVote(ctx context.Context, voterID string) error
	UpdateAggregate(ctx context.Context, agg Aggregate) (*Claim, error)
}

type claimTx struct {
	tx    pgx.Tx
	claim *Claim
}

// InClaimTx locks claimID with SELECT ... FOR UPDATE and runs fn inside the
// transaction. Serialization failures and deadlocks rerun fn from scratch.
func (s *Store) InClaimTx(ctx context.Context, claimID string, fn func(ctx context.Context, tx ClaimTx) error) error {
	return withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		c, err := scanClaim(tx.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1 FOR UPDATE`, claimID))
		if err != nil {
			return err
		}

		if err := fn(ctx, &claimTx{tx: tx, claim: c}); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

func (t *claimTx) Claim() *Claim { return t.claim }

func (t *claimTx) ListVotes(ctx context.Context) ([]Vote, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+voteColumns+` FROM votes WHERE claim_id = $1 ORDER BY created_at, id`, t.claim.ID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return collectVotes(rows)
}

func (t *claimTx) InsertVote(ctx context.Context, v *Vote) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO votes (id, claim_id, voter_id, vote_value, credits_spent, predicted_consensus,
		                   quadratic_weight, bayesian_bonus, final_trust_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (claim_id, voter_id) DO NOTHING
		RETURNING created_at`,
		v.ID, t.claim.ID, v.VoterID, v.Value, v.CreditsSpent, v.PredictedConsensus,
		v.QuadraticWeight, v.BayesianBonus, v.FinalTrustScore,
	).Scan(&v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadyVoted
	}
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	v.ClaimID = t.claim.ID
	return nil
}

func (t *claimTx) DeleteVote(ctx context.Context, voterID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM votes WHERE claim_id = $1 AND voter_id = $2`, t.claim.ID, voterID)
	if err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVoteNotFound
	}
	return nil
}

func (t *claimTx) UpdateAggregate(ctx context.Context, agg Aggregate) (*Claim, error) {
	c, err := scanClaim(t.tx.QueryRow(ctx, `
		UPDATE claims
		SET aggregate_score = $2, total_votes = $3, true_votes = $4, false_votes = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+claimColumns,
		t.claim.ID, agg.Score, agg.TotalVotes, agg.TrueVotes, agg.FalseVotes,
	))
	if err != nil {
		return nil, fmt.Errorf("update aggregate: %w", err)
	}
	t.claim = c
	return c, nil
}

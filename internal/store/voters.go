package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type Voter struct {
	ID         string    `json:"id"`
	Reputation float64   `json:"reputation"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// VoterOutcome is one of a voter's votes next to the claim's current tallies.
type VoterOutcome struct {
	ClaimID    string
	Value      bool
	TrueVotes  int
	FalseVotes int
}

// UpsertVoter registers a voter. An existing voter keeps its reputation.
func (s *Store) UpsertVoter(ctx context.Context, id string) (*Voter, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO voters (id, reputation, created_at, last_active)
		VALUES ($1, 1.0, now(), now())
		ON CONFLICT (id) DO UPDATE SET last_active = now()
		RETURNING id, reputation, created_at, last_active`,
		id,
	)
	var v Voter
	if err := row.Scan(&v.ID, &v.Reputation, &v.CreatedAt, &v.LastActive); err != nil {
		return nil, fmt.Errorf("upsert voter: %w", err)
	}
	return &v, nil
}

func (s *Store) GetVoter(ctx context.Context, id string) (*Voter, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, reputation, created_at, last_active
		FROM voters WHERE id = $1`, id)

	var v Voter
	err := row.Scan(&v.ID, &v.Reputation, &v.CreatedAt, &v.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVoterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get voter: %w", err)
	}
	return &v, nil
}

// SetVoterReputation stores an already-clamped reputation.
func (s *Store) SetVoterReputation(ctx context.Context, id string, reputation float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE voters SET reputation = $2, last_active = now()
		WHERE id = $1`, id, reputation)
	if err != nil {
		return fmt.Errorf("set voter reputation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVoterNotFound
	}
	return nil
}

// ListVoterIDs returns every registered voter id.
func (s *Store) ListVoterIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM voters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list voter ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect voter ids: %w", err)
	}
	return ids, nil
}

func (s *Store) TouchVoter(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE voters SET last_active = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch voter: %w", err)
	}
	return nil
}

// ListVoterOutcomes returns the voter's most recent votes, newest first, with
// each claim's current true/false tallies.
func (s *Store) ListVoterOutcomes(ctx context.Context, voterID string, limit int) ([]VoterOutcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.claim_id, v.vote_value, c.true_votes, c.false_votes
		FROM votes v
		JOIN claims c ON c.id = v.claim_id
		WHERE v.voter_id = $1 AND c.status <> 'deleted'
		ORDER BY v.created_at DESC
		LIMIT $2`, voterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list voter outcomes: %w", err)
	}
	defer rows.Close()

	var out []VoterOutcome
	for rows.Next() {
		var o VoterOutcome
		if err := rows.Scan(&o.ClaimID, &o.Value, &o.TrueVotes, &o.FalseVotes); err != nil {
			return nil, fmt.Errorf("scan voter outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	StatusActive   = "active"
	StatusDeleted  = "deleted"
	StatusArchived = "archived"
)

// ValidStatus reports whether s is a claim status the schema accepts.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusDeleted, StatusArchived:
		return true
	}
	return false
}

type Claim struct {
	ID             string    `json:"id"`
	AggregateScore float64   `json:"aggregate_score"`
	TotalVotes     int       `json:"total_votes"`
	TrueVotes      int       `json:"true_votes"`
	FalseVotes     int       `json:"false_votes"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Aggregate is a claim's vote-derived state.
type Aggregate struct {
	Score      float64
	TotalVotes int
	TrueVotes  int
	FalseVotes int
}

const claimColumns = `id, aggregate_score, total_votes, true_votes, false_votes, status, created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.AggregateScore, &c.TotalVotes, &c.TrueVotes, &c.FalseVotes, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateClaim inserts an active claim with score 0. Creating an existing
// claim is a no-op that returns the stored row.
func (s *Store) CreateClaim(ctx context.Context, id string) (*Claim, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO claims (id, status, created_at, updated_at)
		VALUES ($1, 'active', now(), now())
		ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	return s.GetClaim(ctx, id)
}

func (s *Store) GetClaim(ctx context.Context, id string) (*Claim, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrClaimNotFound) {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, err
}

// GetClaims fetches several claims at once, keyed by id. Missing ids are absent.
func (s *Store) GetClaims(ctx context.Context, ids []string) (map[string]*Claim, error) {
	out := make(map[string]*Claim, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get claims: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// SetClaimStatus changes a claim's status. Deleting a claim zeroes the
// influence of every dependency edge touching it in the same transaction.
func (s *Store) SetClaimStatus(ctx context.Context, id, status string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE claims SET status = $2, updated_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update claim status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}

	if status == StatusDeleted {
		_, err = tx.Exec(ctx, `
			UPDATE claim_dependencies SET influence_weight = 0
			WHERE parent_claim_id = $1 OR child_claim_id = $1`, id)
		if err != nil {
			return fmt.Errorf("isolate claim dependencies: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SetClaimScore overwrites the aggregate score without touching vote counts.
func (s *Store) SetClaimScore(ctx context.Context, id string, score float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims SET aggregate_score = $2, updated_at = now()
		WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("set claim score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// AddDependency records that child builds on parent.
func (s *Store) AddDependency(ctx context.Context, parentID, childID string, weight float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO claim_dependencies (parent_claim_id, child_claim_id, influence_weight, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (parent_claim_id, child_claim_id)
		DO UPDATE SET influence_weight = $3`,
		parentID, childID, weight)
	if err != nil {
		return fmt.Errorf("add dependency: %w", err)
	}
	return nil
}

func (s *Store) ListClaimIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM claims ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list claim ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect claim ids: %w", err)
	}
	return ids, nil
}

// ListScorableClaims returns every claim that is not deleted.
func (s *Store) ListScorableClaims(ctx context.Context) ([]Claim, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+claimColumns+` FROM claims WHERE status <> 'deleted' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list scorable claims: %w", err)
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

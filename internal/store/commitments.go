package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Commitment struct {
	ID         uuid.UUID         `json:"id"`
	HourKey    string            `json:"hour_key"`
	Timestamp  time.Time         `json:"timestamp"`
	RootHash   string            `json:"root_hash"`
	ClaimCount int               `json:"claim_count"`
	Verified   bool              `json:"verified"`
	Entries    []CommitmentEntry `json:"entries,omitempty"`
}

type CommitmentEntry struct {
	ClaimID  string  `json:"claim_id"`
	Score    float64 `json:"score"`
	LeafHash string  `json:"leaf_hash"`
}

// Entry returns the committed entry for claimID.
func (c *Commitment) Entry(claimID string) (CommitmentEntry, bool) {
	for _, e := range c.Entries {
		if e.ClaimID == claimID {
			return e, true
		}
	}
	return CommitmentEntry{}, false
}

const commitmentColumns = `id, hour_key, timestamp, root_hash, claim_count, verified`

func scanCommitment(row pgx.Row) (*Commitment, error) {
	var c Commitment
	err := row.Scan(&c.ID, &c.HourKey, &c.Timestamp, &c.RootHash, &c.ClaimCount, &c.Verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCommitmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertCommitment stores c and its entries unless a commitment for the same
// hour key already exists, in which case the stored one is returned and
// created is false. Concurrent callers for one hour all get the same row.
func (s *Store) InsertCommitment(ctx context.Context, c *Commitment) (stored *Commitment, created bool, err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO commitments (`+commitmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hour_key) DO NOTHING`,
		c.ID, c.HourKey, c.Timestamp, c.RootHash, c.ClaimCount, c.Verified,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert commitment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		tx.Rollback(ctx)
		existing, err := s.GetCommitmentByHourKey(ctx, c.HourKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if len(c.Entries) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"commitment_entries"},
			[]string{"commitment_id", "claim_id", "score", "leaf_hash"},
			pgx.CopyFromSlice(len(c.Entries), func(i int) ([]any, error) {
				e := c.Entries[i]
				return []any{c.ID, e.ClaimID, e.Score, e.LeafHash}, nil
			}),
		)
		if err != nil {
			return nil, false, fmt.Errorf("copy commitment entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return c, true, nil
}

func (s *Store) GetCommitment(ctx context.Context, id uuid.UUID) (*Commitment, error) {
	c, err := scanCommitment(s.pool.QueryRow(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrCommitmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get commitment: %w", err)
	}
	if err := s.loadEntries(ctx, []*Commitment{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetCommitmentByHourKey(ctx context.Context, hourKey string) (*Commitment, error) {
	c, err := scanCommitment(s.pool.QueryRow(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE hour_key = $1`, hourKey))
	if err != nil {
		if errors.Is(err, ErrCommitmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get commitment by hour key: %w", err)
	}
	if err := s.loadEntries(ctx, []*Commitment{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCommitments returns commitment headers, newest first, without entries.
func (s *Store) ListCommitments(ctx context.Context, limit int) ([]Commitment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+commitmentColumns+` FROM commitments
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListVerifiedCommitmentsSince returns verified commitments at or after since,
// newest first, with entries.
func (s *Store) ListVerifiedCommitmentsSince(ctx context.Context, since time.Time) ([]*Commitment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+commitmentColumns+` FROM commitments
		WHERE verified AND timestamp >= $1
		ORDER BY timestamp DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("list verified commitments: %w", err)
	}

	var out []*Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list verified commitments: %w", err)
	}

	if err := s.loadEntries(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadEntries(ctx context.Context, cs []*Commitment) error {
	if len(cs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Commitment, len(cs))
	ids := make([]uuid.UUID, 0, len(cs))
	for _, c := range cs {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT commitment_id, claim_id, score, leaf_hash
		FROM commitment_entries
		WHERE commitment_id = ANY($1)
		ORDER BY commitment_id, claim_id`, ids)
	if err != nil {
		return fmt.Errorf("load commitment entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var e CommitmentEntry
		if err := rows.Scan(&id, &e.ClaimID, &e.Score, &e.LeafHash); err != nil {
			return fmt.Errorf("scan commitment entry: %w", err)
		}
		if c, ok := byID[id]; ok {
			c.Entries = append(c.Entries, e)
		}
	}
	return rows.Err()
}

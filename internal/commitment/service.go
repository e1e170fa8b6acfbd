// Package commitment records hourly Merkle commitments over claim scores and
// audits live scores against them.
package commitment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/citadel/internal/hermes"
	"github.com/MikeSquared-Agency/citadel/internal/integrity"
	"github.com/MikeSquared-Agency/citadel/internal/metrics"
	"github.com/MikeSquared-Agency/citadel/internal/store"
)

var ErrClaimNotInCommitment = errors.New("claim not in commitment")

const (
	DefaultHistoryLimit = 24
	MaxHistoryLimit     = 500
	DefaultHoursBack    = 24
)

type Store interface {
	ListScorableClaims(ctx context.Context) ([]store.Claim, error)
	GetClaim(ctx context.Context, id string) (*store.Claim, error)
	GetClaims(ctx context.Context, ids []string) (map[string]*store.Claim, error)
	SetClaimScore(ctx context.Context, id string, score float64) error
	InsertCommitment(ctx context.Context, c *store.Commitment) (*store.Commitment, bool, error)
	GetCommitment(ctx context.Context, id uuid.UUID) (*store.Commitment, error)
	GetCommitmentByHourKey(ctx context.Context, hourKey string) (*store.Commitment, error)
	ListCommitments(ctx context.Context, limit int) ([]store.Commitment, error)
	ListVerifiedCommitmentsSince(ctx context.Context, since time.Time) ([]*store.Commitment, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Service struct {
	store     Store
	pub       Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	threshold float64
	now       func() time.Time
}

// NewService builds the commitment service. A threshold <= 0 falls back to
// integrity.DefaultThreshold.
func NewService(s Store, pub Publisher, m *metrics.Metrics, logger *slog.Logger, threshold float64) *Service {
	if pub == nil {
		pub = hermes.Discard{}
	}
	if threshold <= 0 {
		threshold = integrity.DefaultThreshold
	}
	return &Service{
		store:     s,
		pub:       pub,
		metrics:   m,
		logger:    logger,
		threshold: threshold,
		now:       time.Now,
	}
}

// CreateHourlyCommitment commits the current hour's claim scores. If the hour
// already has a commitment it is returned unchanged. Any failure is logged and
// reported as nil so the next hour can try again.
func (s *Service) CreateHourlyCommitment(ctx context.Context) *store.Commitment {
	now := s.now().UTC().Truncate(time.Second)
	key := integrity.HourKey(now)

	existing, err := s.store.GetCommitmentByHourKey(ctx, key)
	switch {
	case err == nil:
		s.metrics.Commitment(metrics.ResultExisting, existing.Timestamp)
		s.logger.Debug("commitment already exists", "hour_key", key)
		return existing
	case !errors.Is(err, store.ErrCommitmentNotFound):
		return s.commitFailed(key, fmt.Errorf("lookup commitment: %w", err))
	}

	claims, err := s.store.ListScorableClaims(ctx)
	if err != nil {
		return s.commitFailed(key, err)
	}
	entries := make([]integrity.ScoreEntry, len(claims))
	for i, c := range claims {
		entries[i] = integrity.ScoreEntry{ClaimID: c.ID, Score: c.AggregateScore}
	}
	snap := integrity.BuildSnapshot(entries, now)

	c := &store.Commitment{
		HourKey:    key,
		Timestamp:  snap.Timestamp,
		RootHash:   snap.RootHash,
		ClaimCount: len(snap.Leaves),
		Verified:   true,
		Entries:    make([]store.CommitmentEntry, len(snap.Leaves)),
	}
	for i, l := range snap.Leaves {
		c.Entries[i] = store.CommitmentEntry{ClaimID: l.ClaimID, Score: l.Score, LeafHash: l.LeafHash}
	}

	stored, created, err := s.store.InsertCommitment(ctx, c)
	if err != nil {
		return s.commitFailed(key, err)
	}
	if !created {
		s.metrics.Commitment(metrics.ResultExisting, stored.Timestamp)
		return stored
	}

	s.metrics.Commitment(metrics.ResultOK, stored.Timestamp)
	s.logger.Info("commitment created",
		"hour_key", stored.HourKey,
		"root_hash", stored.RootHash,
		"claims", stored.ClaimCount,
	)
	s.publish(hermes.SubjectCommitmentCreated, hermes.CommitmentCreatedEvent{
		CommitmentID: stored.ID.String(),
		HourKey:      stored.HourKey,
		RootHash:     stored.RootHash,
		ClaimCount:   stored.ClaimCount,
		Timestamp:    stored.Timestamp,
	})
	return stored
}

func (s *Service) commitFailed(key string, err error) *store.Commitment {
	s.metrics.Commitment(metrics.ResultError, time.Time{})
	s.logger.Error("failed to create commitment", "hour_key", key, "error", err)
	return nil
}

// GetCommitmentHistory lists commitment headers, newest first.
func (s *Service) GetCommitmentHistory(ctx context.Context, limit int) ([]store.Commitment, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	out, err := s.store.ListCommitments(ctx, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Commitment{}
	}
	return out, nil
}

// lookup accepts either a commitment id or an hour key.
func (s *Service) lookup(ctx context.Context, ref string) (*store.Commitment, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetCommitment(ctx, id)
	}
	if ref == "" {
		return nil, store.ErrCommitmentNotFound
	}
	return s.store.GetCommitmentByHourKey(ctx, ref)
}

func (s *Service) publish(subject string, data any) {
	if err := s.pub.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

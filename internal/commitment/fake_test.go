package commitment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/citadel/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	claims      map[string]*store.Claim
	commitments []*store.Commitment
	inserts     int
	failList    error
	failInsert  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{claims: map[string]*store.Claim{}}
}

func (f *fakeStore) setClaim(id string, score float64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[id] = &store.Claim{ID: id, AggregateScore: score, Status: status}
}

func (f *fakeStore) score(id string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[id].AggregateScore
}

func (f *fakeStore) ListScorableClaims(context.Context) ([]store.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	var out []store.Claim
	for _, c := range f.claims {
		if c.Status != store.StatusDeleted {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetClaim(_ context.Context, id string) (*store.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return nil, store.ErrClaimNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetClaims(_ context.Context, ids []string) (map[string]*store.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]*store.Claim{}
	for _, id := range ids {
		if c, ok := f.claims[id]; ok {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeStore) SetClaimScore(_ context.Context, id string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return store.ErrClaimNotFound
	}
	c.AggregateScore = score
	return nil
}

func (f *fakeStore) InsertCommitment(_ context.Context, c *store.Commitment) (*store.Commitment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert != nil {
		return nil, false, f.failInsert
	}
	for _, existing := range f.commitments {
		if existing.HourKey == c.HourKey {
			return existing, false, nil
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.commitments = append(f.commitments, c)
	f.inserts++
	return c, true, nil
}

func (f *fakeStore) GetCommitment(_ context.Context, id uuid.UUID) (*store.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commitments {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, store.ErrCommitmentNotFound
}

func (f *fakeStore) GetCommitmentByHourKey(_ context.Context, key string) (*store.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commitments {
		if c.HourKey == key {
			return c, nil
		}
	}
	return nil, store.ErrCommitmentNotFound
}

func (f *fakeStore) ListCommitments(_ context.Context, limit int) ([]store.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Commitment
	for i := len(f.commitments) - 1; i >= 0 && len(out) < limit; i-- {
		h := *f.commitments[i]
		h.Entries = nil
		out = append(out, h)
	}
	return out, nil
}

func (f *fakeStore) ListVerifiedCommitmentsSince(_ context.Context, since time.Time) ([]*store.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Commitment
	for i := len(f.commitments) - 1; i >= 0; i-- {
		c := f.commitments[i]
		if c.Verified && !c.Timestamp.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

var errBoom = errors.New("boom")

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

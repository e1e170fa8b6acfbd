package voting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/citadel/internal/store"
)

// fakeStore mimics the Postgres store: a per-claim lock stands in for
// SELECT ... FOR UPDATE and writes staged in a tx only land on success.
type fakeStore struct {
	mu       sync.Mutex
	voters   map[string]*store.Voter
	claims   map[string]*store.Claim
	votes    map[string][]store.Vote
	locks    map[string]*sync.Mutex
	outcomes map[string][]store.VoterOutcome
	clock    time.Time
	txCount  int
	// failRep makes SetVoterReputation fail for these voters.
	failRep  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		voters:   map[string]*store.Voter{},
		claims:   map[string]*store.Claim{},
		votes:    map[string][]store.Vote{},
		locks:    map[string]*sync.Mutex{},
		outcomes: map[string][]store.VoterOutcome{},
		failRep:  map[string]bool{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var errBoom = errors.New("boom")

func voterID(n int) string { return fmt.Sprintf("%064x", n) }

func (f *fakeStore) addVoter(id string, rep float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voters[id] = &store.Voter{ID: id, Reputation: rep}
}

func (f *fakeStore) addClaim(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[id] = &store.Claim{ID: id, Status: status}
}

func (f *fakeStore) claim(id string) store.Claim {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.claims[id]
}

func (f *fakeStore) GetVoter(_ context.Context, id string) (*store.Voter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.voters[id]
	if !ok {
		return nil, store.ErrVoterNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) ListVoterIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.voters))
	for id := range f.voters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) TouchVoter(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.voters[id]; ok {
		v.LastActive = f.clock
	}
	return nil
}

func (f *fakeStore) SetVoterReputation(_ context.Context, id string, rep float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRep[id] {
		return errBoom
	}
	v, ok := f.voters[id]
	if !ok {
		return store.ErrVoterNotFound
	}
	v.Reputation = rep
	return nil
}

func (f *fakeStore) ListVoterOutcomes(_ context.Context, id string, limit int) ([]store.VoterOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.outcomes[id]
	if len(out) > limit {
		out = out[:limit]
	}
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

func (f *fakeStore) ListClaimIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.claims))
	for id := range f.claims {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) ListVotes(_ context.Context, filter store.VoteFilter, limit int) ([]store.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Vote
	for claimID, vs := range f.votes {
		if filter.ClaimID != "" && claimID != filter.ClaimID {
			continue
		}
		for _, v := range vs {
			if filter.VoterID != "" && v.VoterID != filter.VoterID {
				continue
			}
			out = append(out, v)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) InClaimTx(ctx context.Context, claimID string, fn func(ctx context.Context, tx store.ClaimTx) error) error {
	f.mu.Lock()
	c, ok := f.claims[claimID]
	if !ok {
		f.mu.Unlock()
		return store.ErrClaimNotFound
	}
	lock, ok := f.locks[claimID]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[claimID] = lock
	}
	f.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	f.mu.Lock()
	cc := *c
	tx := &fakeTx{store: f, claim: &cc, votes: append([]store.Vote(nil), f.votes[claimID]...)}
	f.txCount++
	f.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[claimID] = tx.votes
	*f.claims[claimID] = *tx.claim
	return nil
}

type fakeTx struct {
	store *fakeStore
	claim *store.Claim
	votes []store.Vote
}

func (t *fakeTx) Claim() *store.Claim { return t.claim }

func (t *fakeTx) ListVotes(context.Context) ([]store.Vote, error) {
	return append([]store.Vote(nil), t.votes...), nil
}

func (t *fakeTx) InsertVote(_ context.Context, v *store.Vote) error {
	for _, existing := range t.votes {
		if existing.VoterID == v.VoterID {
			return store.ErrAlreadyVoted
		}
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.ClaimID = t.claim.ID
	t.store.mu.Lock()
	t.store.clock = t.store.clock.Add(time.Second)
	v.CreatedAt = t.store.clock
	t.store.mu.Unlock()
	t.votes = append(t.votes, *v)
	return nil
}

func (t *fakeTx) DeleteVote(_ context.Context, voterID string) error {
	for i, v := range t.votes {
		if v.VoterID == voterID {
			t.votes = append(t.votes[:i:i], t.votes[i+1:]...)
			return nil
		}
	}
	return store.ErrVoteNotFound
}

func (t *fakeTx) UpdateAggregate(_ context.Context, agg store.Aggregate) (*store.Claim, error) {
	t.claim.AggregateScore = agg.Score
	t.claim.TotalVotes = agg.TotalVotes
	t.claim.TrueVotes = agg.TrueVotes
	t.claim.FalseVotes = agg.FalseVotes
	cp := *t.claim
	return &cp, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []any
}

func (p *recordingPublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, data)
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

// Package scheduler fires the hourly commitment at the top of every UTC hour.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/citadel/internal/integrity"
	"github.com/MikeSquared-Agency/citadel/internal/store"
)

// Committer creates the commitment for the current hour, returning nil on
// failure.
type Committer interface {
	CreateHourlyCommitment(ctx context.Context) *store.Commitment
}

type Status struct {
	Running          bool       `json:"running"`
	LastRun          *time.Time `json:"last_run,omitempty"`
	LastHourKey      string     `json:"last_hour_key,omitempty"`
	LastSucceeded    bool       `json:"last_succeeded"`
	NextRun          time.Time  `json:"next_run"`
	SecondsUntilNext int        `json:"seconds_until_next"`
}

type Scheduler struct {
	committer Committer
	logger    *slog.Logger
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) bool
	flight    singleflight.Group

	mu          sync.Mutex
	running     bool
	lastRun     time.Time
	lastHourKey string
	lastOK      bool
	nextRun     time.Time
}

func New(c Committer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		committer: c,
		logger:    logger,
		now:       time.Now,
		wait:      sleep,
	}
}

// sleep blocks for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run commits at every top of the hour until ctx is cancelled. Only one
// timer is ever pending. Calling Run while it is already running returns
// immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduler already running")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.nextRun = time.Time{}
		s.mu.Unlock()
	}()

	s.logger.Info("commitment scheduler started")
	for {
		now := s.now()
		next := integrity.NextHour(now)
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		s.logger.Debug("next commitment scheduled", "at", next)
		if !s.wait(ctx, next.Sub(now)) {
			s.logger.Info("commitment scheduler stopped")
			return nil
		}
		s.Trigger(ctx)
	}
}

// Trigger creates the current hour's commitment now. Concurrent calls share
// one underlying attempt.
func (s *Scheduler) Trigger(ctx context.Context) *store.Commitment {
	// Waiters share this attempt, so one caller's cancellation must not end it.
	shared := context.WithoutCancel(ctx)
	v, _, _ := s.flight.Do("commit", func() (any, error) {
		c := s.committer.CreateHourlyCommitment(shared)

		s.mu.Lock()
		s.lastRun = s.now().UTC()
		s.lastOK = c != nil
		if c != nil {
			s.lastHourKey = c.HourKey
		}
		s.mu.Unlock()

		if c == nil {
			s.logger.Warn("scheduled commitment failed, will retry next hour")
		}
		return c, nil
	})
	return v.(*store.Commitment)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	st := Status{
		Running:       s.running,
		LastHourKey:   s.lastHourKey,
		LastSucceeded: s.lastOK,
		NextRun:       s.nextRun,
	}
	if st.NextRun.IsZero() {
		st.NextRun = integrity.NextHour(now)
	}
	st.SecondsUntilNext = int(st.NextRun.Sub(now) / time.Second)
	if !s.lastRun.IsZero() {
		t := s.lastRun
		st.LastRun = &t
	}
	return st
}

// Package ratelimit keeps one token bucket per caller key.
package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/citadel/internal/metrics"
)

const (
	defaultIdle = 10 * time.Minute

	// maxPeek bounds how much of a request body a key function will read.
	maxPeek = 1 << 20
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Store struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// New allows perMinute events per key with the given burst. perMinute <= 0
// disables limiting.
func New(perMinute, burst int) *Store {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	return &Store{
		limiters: make(map[string]*entry),
		limit:    limit,
		burst:    burst,
		idle:     defaultIdle,
		now:      time.Now,
	}
}

// Allow takes a token for key. When none is available it returns false and
// how long until one will be.
func (s *Store) Allow(key string) (bool, time.Duration) {
	now := s.now()

	s.mu.Lock()
	e, ok := s.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	s.mu.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep drops keys idle for longer than the idle window and returns how many
// were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(s.limiters, k)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// Run sweeps idle keys every interval until ctx ends.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// KeyFunc picks the bucket for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys by remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// VoterFromBody keys by the voter_id field of a JSON body when valid accepts
// it, else by client IP. The body is restored for the next handler.
func VoterFromBody(valid func(string) error) KeyFunc {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ClientIP(r)
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeek))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return ClientIP(r)
		}
		var body struct {
			VoterID string `json:"voter_id"`
		}
		if json.Unmarshal(raw, &body) != nil || valid(body.VoterID) != nil {
			return ClientIP(r)
		}
		return "voter:" + body.VoterID
	}
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func Middleware(s *Store, key KeyFunc, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := s.Allow(key(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			m.RateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "RATE_LIMITED",
					"message": "rate limit exceeded",
				},
			})
		})
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/citadel/internal/commitment"
	"github.com/MikeSquared-Agency/citadel/internal/metrics"
	"github.com/MikeSquared-Agency/citadel/internal/ratelimit"
	"github.com/MikeSquared-Agency/citadel/internal/scheduler"
	"github.com/MikeSquared-Agency/citadel/internal/scoring"
	"github.com/MikeSquared-Agency/citadel/internal/store"
	"github.com/MikeSquared-Agency/citadel/internal/voting"
)

const adminToken = "s3cret"

type fakeVotes struct {
	castErr  error
	lastCast voting.CastVoteRequest
}

func (f *fakeVotes) CastVote(_ context.Context, req voting.CastVoteRequest) (*voting.CastVoteResult, error) {
	f.lastCast = req
	if f.castErr != nil {
		return nil, f.castErr
	}
	return &voting.CastVoteResult{
		Vote:  store.Vote{ID: uuid.New(), ClaimID: req.ClaimID, VoterID: req.VoterID},
		Claim: store.Claim{ID: req.ClaimID, AggregateScore: 5, TotalVotes: 1, TrueVotes: 1},
		Trust: scoring.TrustScore{QuadraticWeight: 5, FinalTrustScore: 5, EffectiveInfluence: 5, BonusKind: scoring.BonusNone},
	}, nil
}

func (f *fakeVotes) Preview(_ context.Context, claimID, _ string, credits int) (*voting.VotePreview, error) {
	if err := scoring.ValidateCredits(credits); err != nil {
		return nil, err
	}
	return &voting.VotePreview{ClaimID: claimID, Credits: credits, QuadraticWeight: scoring.QuadraticWeight(credits)}, nil
}

func (f *fakeVotes) ListVotes(context.Context, string, string) ([]store.Vote, error) {
	return []store.Vote{}, nil
}

func (f *fakeVotes) RecomputeClaimAggregate(_ context.Context, id string) (*store.Claim, error) {
	return &store.Claim{ID: id}, nil
}

func (f *fakeVotes) RemoveVote(_ context.Context, claimID, _ string) (*store.Claim, error) {
	if claimID == "missing" {
		return nil, store.ErrVoteNotFound
	}
	return &store.Claim{ID: claimID}, nil
}

func (f *fakeVotes) RecomputeAll(context.Context) (voting.RepairReport, error) {
	return voting.RepairReport{Checked: 3}, nil
}

func (f *fakeVotes) RefreshReputation(context.Context, string) (scoring.ReputationUpdate, error) {
	return scoring.ReputationUpdate{Previous: 1, New: 1}, nil
}

func (f *fakeVotes) RefreshAllReputations(context.Context) (voting.ReputationReport, error) {
	return voting.ReputationReport{Checked: 2, Failed: []string{}, Changes: []voting.ReputationChange{}}, nil
}

type fakeIntegrity struct {
	revertErr error
	hours     int
}

func (f *fakeIntegrity) GetCommitmentHistory(_ context.Context, limit int) ([]store.Commitment, error) {
	return []store.Commitment{{HourKey: "2026-01-01-00"}}, nil
}

func (f *fakeIntegrity) CheckViolations(_ context.Context, claimID string, hoursBack int) ([]commitment.Violation, error) {
	f.hours = hoursBack
	return []commitment.Violation{{ClaimID: "c1", CurrentScore: 20, CommittedScore: 10}}, nil
}

func (f *fakeIntegrity) RevertToCommittedState(_ context.Context, claimID, _ string) (*commitment.RevertResult, error) {
	if f.revertErr != nil {
		return nil, f.revertErr
	}
	return &commitment.RevertResult{Success: true, ClaimID: claimID, RevertedScore: 10}, nil
}

func (f *fakeIntegrity) VerifyClaim(_ context.Context, claimID, _ string) (*commitment.Verification, error) {
	return &commitment.Verification{Valid: true, ProofValid: true, ClaimID: claimID}, nil
}

func (f *fakeIntegrity) Audit(_ context.Context, hoursBack int) (commitment.AuditReport, error) {
	f.hours = hoursBack
	return commitment.AuditReport{ViolatedClaims: []string{}}, nil
}

func (f *fakeIntegrity) RevertAllViolations(context.Context, int) (commitment.BulkRevertReport, error) {
	return commitment.BulkRevertReport{Results: []commitment.RevertOutcome{}}, nil
}

type fakeScheduler struct {
	fail bool
}

func (f *fakeScheduler) Trigger(context.Context) *store.Commitment {
	if f.fail {
		return nil
	}
	return &store.Commitment{ID: uuid.New(), HourKey: "2026-01-01-10", RootHash: "0xabc", Verified: true}
}

func (f *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: true, NextRun: time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)}
}

type harness struct {
	srv       *Server
	votes     *fakeVotes
	integrity *fakeIntegrity
	sched     *fakeScheduler
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := &harness{votes: &fakeVotes{}, integrity: &fakeIntegrity{}, sched: &fakeScheduler{}}
	h.srv = NewServer(8760, Deps{
		Votes:      h.votes,
		Integrity:  h.integrity,
		Scheduler:  h.sched,
		Limiter:    ratelimit.New(60, 3),
		Metrics:    metrics.New(reg),
		Gatherer:   reg,
		AdminToken: token,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error.Code
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, "")
	w := h.do("GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	h.srv.deps.Ping = func(context.Context) error { return errors.New("db down") }
	if w := h.do("GET", "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when ping fails, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, "")
	w := h.do("GET", "/api/v1/citadel/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Agent     string           `json:"agent"`
		Scheduler scheduler.Status `json:"scheduler"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Agent != "citadel" || !body.Scheduler.Running {
		t.Errorf("unexpected status %+v", body)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	h := newHarness(t, "")
	if w := h.do("GET", "/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, "")
	h.srv.deps.Metrics.VoteCast(metrics.ResultOK, time.Millisecond)
	w := h.do("GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "citadel_votes_cast_total") {
		t.Error("metrics output missing citadel_votes_cast_total")
	}
}

func TestCastVote(t *testing.T) {
	h := newHarness(t, "")
	w := h.do("POST", "/api/v1/votes", `{"claim_id":"c1","voter_id":"v","vote_value":true,"credits_spent":25,"predicted_consensus":false}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var body castVoteResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FinalTrustScore != 5 || body.Claim.NewAggregateScore != 5 || body.Claim.NewTotalVotes != 1 {
		t.Errorf("unexpected body %+v", body)
	}
	if got := h.votes.lastCast; !got.Value || got.Credits != 25 || got.Predicted == nil || *got.Predicted {
		t.Errorf("request not passed through: %+v", got)
	}
}

func TestCastVote_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid credits", scoring.ErrInvalidCredits, http.StatusBadRequest, codeInvalidCredits},
		{"bad voter", voting.ErrInvalidVoterID, http.StatusBadRequest, codeInvalidInput},
		{"no claim", store.ErrClaimNotFound, http.StatusNotFound, codeClaimNotFound},
		{"no voter", store.ErrVoterNotFound, http.StatusNotFound, codeVoterNotFound},
		{"duplicate", store.ErrAlreadyVoted, http.StatusConflict, codeAlreadyVoted},
		{"inactive", voting.ErrClaimNotActive, http.StatusConflict, codeClaimNotActive},
		{"wrapped", errors.Join(errors.New("ctx"), store.ErrAlreadyVoted), http.StatusConflict, codeAlreadyVoted},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			h.votes.castErr = tt.err
			w := h.do("POST", "/api/v1/votes", `{"claim_id":"c1","voter_id":"v","vote_value":false,"credits_spent":4}`)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if code := errorCode(t, w); code != tt.code {
				t.Errorf("code = %s, want %s", code, tt.code)
			}
			if tt.status == http.StatusInternalServerError && strings.Contains(w.Body.String(), "connection reset") {
				t.Error("internal error detail leaked")
			}
		})
	}
}

func TestCastVote_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing value", `{"claim_id":"c1","voter_id":"v","credits_spent":4}`},
		{"missing claim", `{"voter_id":"v","vote_value":true,"credits_spent":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			w := h.do("POST", "/api/v1/votes", tt.body)
			if w.Code != http.StatusBadRequest || errorCode(t, w) != codeInvalidInput {
				t.Errorf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCastVote_RateLimited(t *testing.T) {
	h := newHarness(t, "")
	voter := strings.Repeat("a", 64)
	body := `{"claim_id":"c1","voter_id":"` + voter + `","vote_value":true,"credits_spent":1}`
	for i := 0; i < 3; i++ {
		// A fresh header value each time must not buy a fresh bucket.
		if w := h.do("POST", "/api/v1/votes", body, "X-Voter-ID", fmt.Sprint(i)); w.Code != http.StatusCreated {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	w := h.do("POST", "/api/v1/votes", body, "X-Voter-ID", "fresh")
	if w.Code != http.StatusTooManyRequests || errorCode(t, w) != "RATE_LIMITED" {
		t.Errorf("expected 429 RATE_LIMITED, got %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	other := strings.Replace(body, voter, strings.Repeat("b", 64), 1)
	if w := h.do("POST", "/api/v1/votes", other); w.Code != http.StatusCreated {
		t.Errorf("other voter limited: %d", w.Code)
	}
	if h.votes.lastCast.VoterID != strings.Repeat("b", 64) {
		t.Errorf("handler saw voter %q, body was not passed through", h.votes.lastCast.VoterID)
	}
}

func TestPreviewAndList(t *testing.T) {
	h := newHarness(t, "")
	if w := h.do("GET", "/api/v1/votes/preview?claim_id=c1&credits=16", ""); w.Code != http.StatusOK {
		t.Errorf("preview = %d", w.Code)
	}
	w := h.do("GET", "/api/v1/votes/preview?claim_id=c1&credits=abc", "")
	if w.Code != http.StatusBadRequest || errorCode(t, w) != codeInvalidCredits {
		t.Errorf("bad credits preview = %d %s", w.Code, w.Body.String())
	}
	if w := h.do("GET", "/api/v1/votes/preview?claim_id=c1&credits=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("zero credits preview = %d", w.Code)
	}

	if w := h.do("GET", "/api/v1/votes?claim_id=c1", ""); w.Code != http.StatusOK {
		t.Errorf("list = %d", w.Code)
	}
	if w := h.do("GET", "/api/v1/votes", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unfiltered list = %d, want 400", w.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	routes := []struct {
		method, path, body string
	}{
		{"POST", "/api/v1/integrity/commitments", ""},
		{"POST", "/api/v1/integrity/revert", `{"claim_id":"c1","commitment_id":"2026-01-01-00"}`},
		{"POST", "/api/v1/integrity/revert-all", `{"hours_back":24}`},
		{"POST", "/api/v1/claims/c1/recompute", ""},
		{"DELETE", "/api/v1/claims/c1/votes/v1", ""},
		{"POST", "/api/v1/maintenance/recompute", ""},
		{"POST", "/api/v1/maintenance/reputation", ""},
		{"POST", "/api/v1/voters/v1/reputation", ""},
	}

	disabled := newHarness(t, "")
	enabled := newHarness(t, adminToken)
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			if w := disabled.do(rt.method, rt.path, rt.body, "Authorization", "Bearer "+adminToken); w.Code != http.StatusForbidden {
				t.Errorf("without configured token = %d, want 403", w.Code)
			}
			if w := enabled.do(rt.method, rt.path, rt.body); w.Code != http.StatusUnauthorized {
				t.Errorf("without header = %d, want 401", w.Code)
			}
			if w := enabled.do(rt.method, rt.path, rt.body, "Authorization", "Bearer nope"); w.Code != http.StatusUnauthorized {
				t.Errorf("wrong token = %d, want 401", w.Code)
			}
			if w := enabled.do(rt.method, rt.path, rt.body, "Authorization", "Bearer "+adminToken); w.Code != http.StatusOK {
				t.Errorf("with token = %d, want 200: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestTriggerCommitmentFailure(t *testing.T) {
	h := newHarness(t, adminToken)
	h.sched.fail = true
	w := h.do("POST", "/api/v1/integrity/commitments", "", "Authorization", "Bearer "+adminToken)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestRevertErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrCommitmentNotFound, http.StatusNotFound, codeCommitmentNotFound},
		{commitment.ErrClaimNotInCommitment, http.StatusNotFound, codeClaimNotInCommitment},
	}
	for _, tt := range tests {
		h := newHarness(t, adminToken)
		h.integrity.revertErr = tt.err
		w := h.do("POST", "/api/v1/integrity/revert", `{"claim_id":"c1","commitment_id":"x"}`, "Authorization", "Bearer "+adminToken)
		if w.Code != tt.status || errorCode(t, w) != tt.code {
			t.Errorf("%v: got %d %s", tt.err, w.Code, w.Body.String())
		}
	}
}

func TestIntegrityReads(t *testing.T) {
	h := newHarness(t, "")

	w := h.do("POST", "/api/v1/integrity/violations", `{"hours_back":6}`)
	if w.Code != http.StatusOK {
		t.Fatalf("violations = %d", w.Code)
	}
	if h.integrity.hours != 6 {
		t.Errorf("hours_back passed as %d", h.integrity.hours)
	}
	var vb struct {
		Count int    `json:"count"`
		Note  string `json:"note"`
	}
	json.NewDecoder(w.Body).Decode(&vb)
	if vb.Count != 1 || vb.Note == "" {
		t.Errorf("unexpected violations body %+v", vb)
	}

	if w := h.do("POST", "/api/v1/integrity/violations", `{"hours_back":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative hours_back = %d, want 400", w.Code)
	}

	w = h.do("POST", "/api/v1/integrity/verify", `{"claim_id":"c1","commitment_id":"2026-01-01-00"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"integrity_verified"`) {
		t.Errorf("verify = %d %s", w.Code, w.Body.String())
	}
	if w := h.do("POST", "/api/v1/integrity/verify", `{"claim_id":"c1"}`); w.Code != http.StatusBadRequest {
		t.Errorf("verify without commitment = %d", w.Code)
	}

	if w := h.do("GET", "/api/v1/integrity/commitments?limit=5", ""); w.Code != http.StatusOK {
		t.Errorf("commitments = %d", w.Code)
	}
	if w := h.do("GET", "/api/v1/integrity/commitments?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
	if w := h.do("GET", "/api/v1/integrity/audit?hours_back=12", ""); w.Code != http.StatusOK || h.integrity.hours != 12 {
		t.Errorf("audit = %d hours %d", w.Code, h.integrity.hours)
	}
}

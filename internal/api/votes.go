package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/citadel/internal/scoring"
	"github.com/MikeSquared-Agency/citadel/internal/store"
	"github.com/MikeSquared-Agency/citadel/internal/voting"
)

// Credits are checked by the scoring package so the caller gets
// INVALID_CREDITS rather than a generic validation error.
type castVoteRequest struct {
	ClaimID   string `json:"claim_id" validate:"required"`
	VoterID   string `json:"voter_id" validate:"required"`
	Value     *bool  `json:"vote_value" validate:"required"`
	Credits   int    `json:"credits_spent"`
	Predicted *bool  `json:"predicted_consensus"`
}

type claimSummary struct {
	ID                string  `json:"id"`
	NewAggregateScore float64 `json:"new_aggregate_score"`
	NewTotalVotes     int     `json:"new_total_votes"`
	TrueVotes         int     `json:"true_votes"`
	FalseVotes        int     `json:"false_votes"`
}

type castVoteResponse struct {
	VoteID             string            `json:"vote_id"`
	QuadraticWeight    float64           `json:"quadratic_weight"`
	BayesianBonus      float64           `json:"bayesian_bonus"`
	FinalTrustScore    float64           `json:"final_trust_score"`
	EffectiveInfluence float64           `json:"effective_influence"`
	BonusKind          scoring.BonusKind `json:"bonus_kind"`
	Claim              claimSummary      `json:"claim"`
}

func summarize(c *store.Claim) claimSummary {
	return claimSummary{
		ID:                c.ID,
		NewAggregateScore: c.AggregateScore,
		NewTotalVotes:     c.TotalVotes,
		TrueVotes:         c.TrueVotes,
		FalseVotes:        c.FalseVotes,
	}
}

// castVote handles POST /api/v1/votes.
func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.Votes.CastVote(r.Context(), voting.CastVoteRequest{
		ClaimID:   req.ClaimID,
		VoterID:   req.VoterID,
		Value:     *req.Value,
		Credits:   req.Credits,
		Predicted: req.Predicted,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, castVoteResponse{
		VoteID:             res.Vote.ID.String(),
		QuadraticWeight:    res.Trust.QuadraticWeight,
		BayesianBonus:      res.Trust.BayesianBonus,
		FinalTrustScore:    res.Trust.FinalTrustScore,
		EffectiveInfluence: res.Trust.EffectiveInfluence,
		BonusKind:          res.Trust.BonusKind,
		Claim:              summarize(&res.Claim),
	})
}

// previewVote handles GET /api/v1/votes/preview?claim_id&voter_id&credits.
func (s *Server) previewVote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	credits, err := strconv.Atoi(q.Get("credits"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidCredits, scoring.ErrInvalidCredits.Error())
		return
	}
	p, err := s.deps.Votes.Preview(r.Context(), q.Get("claim_id"), q.Get("voter_id"), credits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// listVotes handles GET /api/v1/votes?claim_id&voter_id.
func (s *Server) listVotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	claimID, voterID := q.Get("claim_id"), q.Get("voter_id")
	if claimID == "" && voterID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "claim_id or voter_id is required")
		return
	}
	votes, err := s.deps.Votes.ListVotes(r.Context(), claimID, voterID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": votes, "count": len(votes)})
}

func (s *Server) recomputeClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Votes.RecomputeClaimAggregate(r.Context(), chi.URLParam(r, "claimID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(c))
}

func (s *Server) removeVote(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Votes.RemoveVote(r.Context(), chi.URLParam(r, "claimID"), chi.URLParam(r, "voterID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(c))
}

func (s *Server) recomputeAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Votes.RecomputeAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) refreshAllReputations(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Votes.RefreshAllReputations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) refreshReputation(w http.ResponseWriter, r *http.Request) {
	update, err := s.deps.Votes.RefreshReputation(r.Context(), chi.URLParam(r, "voterID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

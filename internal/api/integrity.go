package api

import (
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/citadel/internal/commitment"
)

const violationNote = "violations are audit hints: votes cast after a commitment also move scores"

type violationsRequest struct {
	ClaimID   string `json:"claim_id" validate:"omitempty,max=64"`
	HoursBack int    `json:"hours_back" validate:"gte=0,lte=720"`
}

type commitmentRefRequest struct {
	ClaimID      string `json:"claim_id" validate:"required,max=64"`
	CommitmentID string `json:"commitment_id" validate:"required"`
}

type windowRequest struct {
	HoursBack int `json:"hours_back" validate:"gte=0,lte=720"`
}

// triggerCommitment handles POST /api/v1/integrity/commitments.
func (s *Server) triggerCommitment(w http.ResponseWriter, r *http.Request) {
	c := s.deps.Scheduler.Trigger(r.Context())
	if c == nil {
		writeError(w, http.StatusInternalServerError, codeCommitmentUnavailable, "commitment could not be created, see logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          c.ID,
		"hour_key":    c.HourKey,
		"root_hash":   c.RootHash,
		"claim_count": c.ClaimCount,
		"verified":    c.Verified,
		"timestamp":   c.Timestamp,
	})
}

// listCommitments handles GET /api/v1/integrity/commitments?limit.
func (s *Server) listCommitments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "limit must be an integer")
			return
		}
		limit = n
	}
	cs, err := s.deps.Integrity.GetCommitmentHistory(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitments": cs, "count": len(cs)})
}

// checkViolations handles POST /api/v1/integrity/violations.
func (s *Server) checkViolations(w http.ResponseWriter, r *http.Request) {
	var req violationsRequest
	if !s.decode(w, r, &req) {
		return
	}
	vs, err := s.deps.Integrity.CheckViolations(r.Context(), req.ClaimID, req.HoursBack)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"violations": vs,
		"count":      len(vs),
		"note":       violationNote,
	})
}

// revert handles POST /api/v1/integrity/revert.
func (s *Server) revert(w http.ResponseWriter, r *http.Request) {
	var req commitmentRefRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Integrity.RevertToCommittedState(r.Context(), req.ClaimID, req.CommitmentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// verifyClaim handles POST /api/v1/integrity/verify.
func (s *Server) verifyClaim(w http.ResponseWriter, r *http.Request) {
	var req commitmentRefRequest
	if !s.decode(w, r, &req) {
		return
	}
	v, err := s.deps.Integrity.VerifyClaim(r.Context(), req.ClaimID, req.CommitmentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := "integrity_violation"
	if v.Valid {
		status = "integrity_verified"
	}
	writeJSON(w, http.StatusOK, struct {
		*commitment.Verification
		Status string `json:"status"`
	}{v, status})
}

// audit handles GET /api/v1/integrity/audit?hours_back.
func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	hours := 0
	if raw := r.URL.Query().Get("hours_back"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "hours_back must be a non-negative integer")
			return
		}
		hours = n
	}
	report, err := s.deps.Integrity.Audit(r.Context(), hours)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// revertAll handles POST /api/v1/integrity/revert-all.
func (s *Server) revertAll(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !s.decode(w, r, &req) {
		return
	}
	report, err := s.deps.Integrity.RevertAllViolations(r.Context(), req.HoursBack)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

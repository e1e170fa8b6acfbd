package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MikeSquared-Agency/citadel/internal/commitment"
	"github.com/MikeSquared-Agency/citadel/internal/scoring"
	"github.com/MikeSquared-Agency/citadel/internal/store"
	"github.com/MikeSquared-Agency/citadel/internal/voting"
)

const (
	codeInvalidCredits        = "INVALID_CREDITS"
	codeInvalidInput          = "INVALID_INPUT"
	codeClaimNotFound         = "CLAIM_NOT_FOUND"
	codeClaimNotActive        = "CLAIM_NOT_ACTIVE"
	codeVoterNotFound         = "VOTER_NOT_FOUND"
	codeVoteNotFound          = "VOTE_NOT_FOUND"
	codeAlreadyVoted          = "ALREADY_VOTED"
	codeCommitmentNotFound    = "COMMITMENT_NOT_FOUND"
	codeClaimNotInCommitment  = "CLAIM_NOT_IN_COMMITMENT"
	codeUnauthorized          = "UNAUTHORIZED"
	codeForbidden             = "FORBIDDEN"
	codeInternal              = "INTERNAL"
	codeCommitmentUnavailable = "COMMITMENT_FAILED"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// classify maps a service error to a status and code. Unknown errors are 500.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, scoring.ErrInvalidCredits):
		return http.StatusBadRequest, codeInvalidCredits
	case errors.Is(err, voting.ErrInvalidVoterID), errors.Is(err, voting.ErrInvalidClaimID):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, store.ErrClaimNotFound):
		return http.StatusNotFound, codeClaimNotFound
	case errors.Is(err, store.ErrVoterNotFound):
		return http.StatusNotFound, codeVoterNotFound
	case errors.Is(err, store.ErrVoteNotFound):
		return http.StatusNotFound, codeVoteNotFound
	case errors.Is(err, store.ErrCommitmentNotFound):
		return http.StatusNotFound, codeCommitmentNotFound
	case errors.Is(err, commitment.ErrClaimNotInCommitment):
		return http.StatusNotFound, codeClaimNotInCommitment
	case errors.Is(err, store.ErrAlreadyVoted):
		return http.StatusConflict, codeAlreadyVoted
	case errors.Is(err, voting.ErrClaimNotActive):
		return http.StatusConflict, codeClaimNotActive
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

// decode reads a JSON body into v and runs its validate tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, describe(err))
		return false
	}
	return true
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Package ingest applies voter and claim lifecycle events published by the
// identity and claim services.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/citadel/internal/hermes"
	"github.com/MikeSquared-Agency/citadel/internal/store"
	"github.com/MikeSquared-Agency/citadel/internal/voting"
)

const (
	defaultDependencyWeight = 1.0
	handlerTimeout          = 10 * time.Second
)

type Store interface {
	UpsertVoter(ctx context.Context, id string) (*store.Voter, error)
	CreateClaim(ctx context.Context, id string) (*store.Claim, error)
	GetClaim(ctx context.Context, id string) (*store.Claim, error)
	AddDependency(ctx context.Context, parentID, childID string, weight float64) error
	SetClaimStatus(ctx context.Context, id, status string) error
}

type Subscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func New(s Store, logger *slog.Logger) *Handler {
	return &Handler{store: s, logger: logger}
}

// Register subscribes every handler on sub.
func (h *Handler) Register(sub Subscriber) error {
	routes := []struct {
		subject string
		fn      func(string, []byte)
	}{
		{hermes.SubjectVoterRegistered, h.HandleVoterRegistered},
		{hermes.SubjectClaimSubmitted, h.HandleClaimSubmitted},
		{hermes.SubjectClaimStatus, h.HandleClaimStatus},
	}
	for _, r := range routes {
		if err := sub.Subscribe(r.subject, r.fn); err != nil {
			return err
		}
	}
	return nil
}

// HandleVoterRegistered creates the voter at default reputation. A repeat
// registration keeps the existing reputation.
func (h *Handler) HandleVoterRegistered(subject string, data []byte) {
	var evt hermes.VoterRegisteredEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		h.logger.Error("failed to parse voter event", "subject", subject, "error", err)
		return
	}
	if err := voting.ValidateVoterID(evt.VoterID); err != nil {
		h.logger.Warn("dropping voter event", "voter_id", evt.VoterID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	v, err := h.store.UpsertVoter(ctx, evt.VoterID)
	if err != nil {
		h.logger.Error("failed to register voter", "voter_id", evt.VoterID, "error", err)
		return
	}
	h.logger.Info("voter registered", "voter_id", v.ID, "reputation", v.Reputation)
}

// HandleClaimSubmitted creates the claim and, when a live parent is named,
// records the dependency edge.
func (h *Handler) HandleClaimSubmitted(subject string, data []byte) {
	var evt hermes.ClaimSubmittedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		h.logger.Error("failed to parse claim event", "subject", subject, "error", err)
		return
	}
	if err := voting.ValidateClaimID(evt.ClaimID); err != nil {
		h.logger.Warn("dropping claim event", "claim_id", evt.ClaimID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if _, err := h.store.CreateClaim(ctx, evt.ClaimID); err != nil {
		h.logger.Error("failed to create claim", "claim_id", evt.ClaimID, "error", err)
		return
	}
	h.logger.Info("claim submitted", "claim_id", evt.ClaimID, "parent_claim_id", evt.ParentID)

	if evt.ParentID == "" {
		return
	}
	if err := h.link(ctx, evt); err != nil {
		h.logger.Warn("dependency not recorded",
			"claim_id", evt.ClaimID,
			"parent_claim_id", evt.ParentID,
			"error", err,
		)
	}
}

func (h *Handler) link(ctx context.Context, evt hermes.ClaimSubmittedEvent) error {
	if evt.ParentID == evt.ClaimID {
		return errors.New("claim cannot depend on itself")
	}
	parent, err := h.store.GetClaim(ctx, evt.ParentID)
	if err != nil {
		return err
	}
	if parent.Status == store.StatusDeleted {
		return fmt.Errorf("parent %s is deleted", parent.ID)
	}
	weight := evt.Weight
	if weight <= 0 {
		weight = defaultDependencyWeight
	}
	return h.store.AddDependency(ctx, evt.ParentID, evt.ClaimID, weight)
}

// HandleClaimStatus moves a claim between active, archived and deleted.
func (h *Handler) HandleClaimStatus(subject string, data []byte) {
	var evt hermes.ClaimStatusEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		h.logger.Error("failed to parse claim status event", "subject", subject, "error", err)
		return
	}
	if !store.ValidStatus(evt.Status) {
		h.logger.Warn("dropping claim status event", "claim_id", evt.ClaimID, "status", evt.Status)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := h.store.SetClaimStatus(ctx, evt.ClaimID, evt.Status); err != nil {
		h.logger.Error("failed to set claim status", "claim_id", evt.ClaimID, "status", evt.Status, "error", err)
		return
	}
	h.logger.Info("claim status changed", "claim_id", evt.ClaimID, "status", evt.Status)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/citadel/internal/commitment"
	"github.com/MikeSquared-Agency/citadel/internal/metrics"
	"github.com/MikeSquared-Agency/citadel/internal/ratelimit"
	"github.com/MikeSquared-Agency/citadel/internal/scheduler"
	"github.com/MikeSquared-Agency/citadel/internal/scoring"
	"github.com/MikeSquared-Agency/citadel/internal/store"
	"github.com/MikeSquared-Agency/citadel/internal/voting"
)

type VotingService interface {
	CastVote(ctx context.Context, req voting.CastVoteRequest) (*voting.CastVoteResult, error)
	Preview(ctx context.Context, claimID, voterID string, credits int) (*voting.VotePreview, error)
	ListVotes(ctx context.Context, claimID, voterID string) ([]store.Vote, error)
	RecomputeClaimAggregate(ctx context.Context, claimID string) (*store.Claim, error)
	RemoveVote(ctx context.Context, claimID, voterID string) (*store.Claim, error)
	RecomputeAll(ctx context.Context) (voting.RepairReport, error)
	RefreshReputation(ctx context.Context, voterID string) (scoring.ReputationUpdate, error)
	RefreshAllReputations(ctx context.Context) (voting.ReputationReport, error)
}

type IntegrityService interface {
	GetCommitmentHistory(ctx context.Context, limit int) ([]store.Commitment, error)
	CheckViolations(ctx context.Context, claimID string, hoursBack int) ([]commitment.Violation, error)
	RevertToCommittedState(ctx context.Context, claimID, commitmentRef string) (*commitment.RevertResult, error)
	VerifyClaim(ctx context.Context, claimID, commitmentRef string) (*commitment.Verification, error)
	Audit(ctx context.Context, hoursBack int) (commitment.AuditReport, error)
	RevertAllViolations(ctx context.Context, hoursBack int) (commitment.BulkRevertReport, error)
}

type Scheduler interface {
	Trigger(ctx context.Context) *store.Commitment
	Status() scheduler.Status
}

// Deps are the services behind the routes. Ping and Gatherer are optional.
type Deps struct {
	Votes      VotingService
	Integrity  IntegrityService
	Scheduler  Scheduler
	Limiter    *ratelimit.Store
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	AdminToken string
	Ping       func(ctx context.Context) error
}

type Server struct {
	router   *chi.Mux
	port     int
	deps     Deps
	validate *validator.Validate
	logger   *slog.Logger
	http     *http.Server
}

func NewServer(port int, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/citadel/status", s.status)
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	admin := BearerAuthMiddleware(deps.AdminToken)

	router.Route("/api/v1/votes", func(r chi.Router) {
		r.Get("/", s.listVotes)
		r.Get("/preview", s.previewVote)
		r.With(s.rateLimit()).Post("/", s.castVote)
	})

	router.Route("/api/v1/claims/{claimID}", func(r chi.Router) {
		r.Use(admin)
		r.Post("/recompute", s.recomputeClaim)
		r.Delete("/votes/{voterID}", s.removeVote)
	})
	router.With(admin).Post("/api/v1/maintenance/recompute", s.recomputeAll)
	router.With(admin).Post("/api/v1/maintenance/reputation", s.refreshAllReputations)
	router.With(admin).Post("/api/v1/voters/{voterID}/reputation", s.refreshReputation)

	router.Route("/api/v1/integrity", func(r chi.Router) {
		r.Get("/commitments", s.listCommitments)
		r.Post("/violations", s.checkViolations)
		r.Post("/verify", s.verifyClaim)
		r.Get("/audit", s.audit)
		r.With(admin).Post("/commitments", s.triggerCommitment)
		r.With(admin).Post("/revert", s.revert)
		r.With(admin).Post("/revert-all", s.revertAll)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(s.deps.Limiter, ratelimit.VoterFromBody(voting.ValidateVoterID), s.deps.Metrics)
}

// Start serves until Shutdown is called, then returns nil.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"agent":  "citadel",
		"status": "ok",
	}
	if s.deps.Scheduler != nil {
		body["scheduler"] = s.deps.Scheduler.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

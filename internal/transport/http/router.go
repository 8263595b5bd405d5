// Package httptransport is the console's HTTP API.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ballotdesk/internal/audit"
	"ballotdesk/internal/cache/redismirror"
	"ballotdesk/internal/console"
	"ballotdesk/internal/domain"
	"ballotdesk/internal/session"
	"ballotdesk/pkg/platform/middleware"
)

// Console is the service behind the API.
type Console interface {
	LoginRequired() bool
	Login(ctx context.Context) (console.Operator, bool, error)
	Logout(ctx context.Context)
	Operator() (console.Operator, bool)
	Enroll(ctx context.Context) ([]byte, error)

	Voters(ctx context.Context) ([]domain.Voter, error)
	Candidates(ctx context.Context, category string) ([]domain.Candidate, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Fraud(ctx context.Context) ([]domain.FraudRecord, error)
	Dashboard(ctx context.Context) (console.DashboardUpdate, error)

	RegisterVoter(ctx context.Context, r domain.Registration) error
	RegisterAdmin(ctx context.Context, r domain.Registration) error
	UpdateVoter(ctx context.Context, idNumber, name, surname string) error
	DeleteVoter(ctx context.Context, idNumber string) error
	ResetVotingStatus(ctx context.Context, idNumber string) error

	AddCandidate(ctx context.Context, c domain.NewCandidate) error
	UpdateCandidate(ctx context.Context, key domain.CandidateKey, upd domain.CandidateUpdate) error
	DeleteCandidate(ctx context.Context, key domain.CandidateKey) error

	ResolveFraud(ctx context.Context, id int64) (bool, error)
}

// SessionStatus reports the backend session for health checks.
type SessionStatus interface {
	Status() session.Status
}

// DashboardFeed streams dashboard refreshes.
type DashboardFeed interface {
	Subscribe() (<-chan console.DashboardUpdate, func())
}

// AuditLog lists recent audit events.
type AuditLog interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// SnapshotReader reads the mirrored statistics snapshot.
type SnapshotReader interface {
	Latest(ctx context.Context) (redismirror.Snapshot, error)
}

// Handler is the thin HTTP layer over Console.
type Handler struct {
	console   Console
	sessions  SessionStatus
	feed      DashboardFeed
	audit     AuditLog
	snapshots SnapshotReader
	gatherer  prometheus.Gatherer
	log       zerolog.Logger
}

type Option func(*Handler)

func WithDashboardFeed(f DashboardFeed) Option {
	return func(h *Handler) { h.feed = f }
}

func WithAuditLog(a AuditLog) Option {
	return func(h *Handler) { h.audit = a }
}

// WithSnapshots exposes the mirrored statistics without a login.
func WithSnapshots(s SnapshotReader) Option {
	return func(h *Handler) { h.snapshots = s }
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

func NewHandler(c Console, sessions SessionStatus, log zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		console:  c,
		sessions: sessions,
		gatherer: prometheus.DefaultGatherer,
		log:      log.With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires every endpoint. Data routes sit behind the login gate.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(h.log))
	r.Use(middleware.Logger(h.log))

	r.Get("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/public/stats", h.handlePublicStats)

		// Fingerprint capture can take as long as the operator needs to
		// present a finger; it is bounded by the server's write timeout.
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireLogin(h.console))
			r.Use(chimw.Timeout(30 * time.Second))

			r.Get("/session", h.handleSession)
			r.Get("/voters", h.handleListVoters)
			r.Post("/voters", h.handleRegisterVoter)
			r.Put("/voters/{id}", h.handleUpdateVoter)
			r.Delete("/voters/{id}", h.handleDeleteVoter)
			r.Post("/voters/{id}/reset", h.handleResetVoter)

			r.Post("/admins", h.handleRegisterAdmin)

			r.Get("/candidates/{category}", h.handleListCandidates)
			r.Post("/candidates", h.handleAddCandidate)
			r.Put("/candidates/{category}", h.handleUpdateCandidate)
			r.Delete("/candidates/{category}", h.handleDeleteCandidate)

			r.Get("/stats", h.handleStats)
			r.Get("/fraud", h.handleListFraud)
			r.Post("/fraud/{id}/resolve", h.handleResolveFraud)
			r.Get("/dashboard", h.handleDashboard)
			r.Get("/audit", h.handleAudit)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireLogin(h.console))
			r.Post("/enroll", h.handleEnroll)
			r.Get("/dashboard/events", h.handleDashboardEvents)
		})
	})
	return r
}

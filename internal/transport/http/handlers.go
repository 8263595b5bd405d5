package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ballotdesk/internal/domain"
	dErrors "ballotdesk/pkg/domain-errors"
	"ballotdesk/pkg/platform/httputil"
	"ballotdesk/pkg/platform/sentinel"
)

const (
	maxBodyBytes     = 8 << 20
	defaultAuditPage = 100
	sseKeepAlive     = 15 * time.Second
)

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request body")
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	event := h.log.Warn()
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("op", op).
		Str("code", string(dErrors.CodeOf(err))).
		Msg("request failed")
	httputil.WriteError(w, err)
}

// =============================================================================
// Session
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := h.sessions.Status()
	resp := HealthResponse{Status: "ok", Session: st}
	status := http.StatusOK
	if st.Lost {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	op, ok, err := h.console.Login(r.Context())
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, LoginResponse{Matched: false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{Matched: true, Operator: &op})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.console.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSession(w http.ResponseWriter, _ *http.Request) {
	op, _ := h.console.Operator()
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{Matched: true, Operator: &op})
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.console.Enroll(r.Context())
	if err != nil {
		h.fail(w, r, "enroll", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EnrollResponse{Fingerprint: tmpl})
}

// =============================================================================
// Voters and administrators
// =============================================================================

func (h *Handler) handleListVoters(w http.ResponseWriter, r *http.Request) {
	voters, err := h.console.Voters(r.Context())
	if err != nil {
		h.fail(w, r, "list_voters", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVoterResponses(voters))
}

func (h *Handler) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, "register_voter", err)
		return
	}
	if err := h.console.RegisterVoter(r.Context(), req.toDomain()); err != nil {
		h.fail(w, r, "register_voter", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleRegisterAdmin(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, "register_admin", err)
		return
	}
	if err := h.console.RegisterAdmin(r.Context(), req.toDomain()); err != nil {
		h.fail(w, r, "register_admin", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleUpdateVoter(w http.ResponseWriter, r *http.Request) {
	var req UpdateVoterRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, "update_voter", err)
		return
	}
	if err := h.console.UpdateVoter(r.Context(), chi.URLParam(r, "id"), req.Name, req.Surname); err != nil {
		h.fail(w, r, "update_voter", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteVoter(w http.ResponseWriter, r *http.Request) {
	if err := h.console.DeleteVoter(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete_voter", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetVoter(w http.ResponseWriter, r *http.Request) {
	if err := h.console.ResetVotingStatus(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "reset_voter", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Candidates
// =============================================================================

func (h *Handler) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.console.Candidates(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.fail(w, r, "list_candidates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, candidates)
}

func (h *Handler) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	var req AddCandidateRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, "add_candidate", err)
		return
	}
	if err := h.console.AddCandidate(r.Context(), req.toDomain()); err != nil {
		h.fail(w, r, "add_candidate", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleUpdateCandidate(w http.ResponseWriter, r *http.Request) {
	var req CandidateRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, "update_candidate", err)
		return
	}
	upd := domain.CandidateUpdate{PartyName: req.NewPartyName, CandidateName: req.NewCandidateName}
	if err := h.console.UpdateCandidate(r.Context(), req.key(chi.URLParam(r, "category")), upd); err != nil {
		h.fail(w, r, "update_candidate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	var req CandidateRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, "delete_candidate", err)
		return
	}
	if err := h.console.DeleteCandidate(r.Context(), req.key(chi.URLParam(r, "category"))); err != nil {
		h.fail(w, r, "delete_candidate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Statistics, fraud and dashboard
// =============================================================================

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.console.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleListFraud(w http.ResponseWriter, r *http.Request) {
	records, err := h.console.Fraud(r.Context())
	if err != nil {
		h.fail(w, r, "list_fraud", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleResolveFraud(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.fail(w, r, "resolve_fraud", dErrors.Wrap(err, dErrors.CodeValidation, "invalid fraud attempt id"))
		return
	}
	resolved, err := h.console.ResolveFraud(r.Context(), id)
	if err != nil {
		h.fail(w, r, "resolve_fraud", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ResolveResponse{Resolved: resolved})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	update, err := h.console.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, "dashboard", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, update)
}

// handleDashboardEvents streams monitor refreshes as server-sent events until
// the client disconnects or the monitor is disposed.
func (h *Handler) handleDashboardEvents(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: string(dErrors.CodeNotFound)})
		return
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Debug().Err(err).Msg("clear write deadline")
	}

	updates, cancel := h.feed.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				h.log.Error().Err(err).Msg("encode dashboard update")
				return
			}
			if _, err := fmt.Fprintf(w, "event: dashboard\ndata: %s\n\n", payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httputil.WriteJSON(w, http.StatusOK, AuditResponse{Events: nil})
		return
	}
	limit := defaultAuditPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, "audit", dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	events, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "audit", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AuditResponse{Events: events})
}

// handlePublicStats serves the mirrored snapshot without a login, for wall
// displays.
func (h *Handler) handlePublicStats(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: string(dErrors.CodeNotFound)})
		return
	}
	snap, err := h.snapshots.Latest(r.Context())
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		h.fail(w, r, "public_stats", dErrors.Wrap(err, dErrors.CodeNotFound, "no statistics published yet"))
		return
	case err != nil:
		h.fail(w, r, "public_stats", dErrors.Wrap(err, dErrors.CodeUnavailable, "snapshot store unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

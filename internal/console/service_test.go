package console

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"ballotdesk/internal/audit"
	"ballotdesk/internal/auth"
	"ballotdesk/internal/cache"
	"ballotdesk/internal/domain"
	"ballotdesk/internal/ledger"
	"ballotdesk/internal/platform/workers"
	"ballotdesk/internal/store"
	dErrors "ballotdesk/pkg/domain-errors"
	"ballotdesk/pkg/testutil"
)

const (
	thandi = "8001015009087"
	sipho  = "8505125009084"
	anele  = "7505120123089"
)

var refNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type dbHandles struct{ db *sql.DB }

func (h dbHandles) GetConnection(context.Context) (*sql.DB, error) { return h.db, nil }

type fakeSessions struct {
	lost   atomic.Bool
	forced atomic.Int32
}

func (f *fakeSessions) ShouldRedirectToLogin() bool { return f.lost.Load() }

func (f *fakeSessions) ForceReconnection(context.Context) error {
	f.forced.Add(1)
	f.lost.Store(false)
	return nil
}

type fakeVerifier struct {
	res auth.Result
	err error
}

func (f fakeVerifier) Verify(context.Context) (auth.Result, error) { return f.res, f.err }

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Emit(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAuditor) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Action
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

// untouchableStore panics on any call; used to prove an operation never
// reached the store.
type untouchableStore struct{ Store }

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	db       *sql.DB
	store    *store.Store
	sessions *fakeSessions
	cache    *cache.Cache
	auditor  *recordingAuditor
	svc      *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	dsn := testutil.NewSQLiteDSN(s.T(), store.Schema(store.DialectSQLite)...)
	db, err := sql.Open("sqlite", dsn)
	s.Require().NoError(err)
	db.SetMaxOpenConns(1)
	s.T().Cleanup(func() { _ = db.Close() })
	s.db = db

	pool := workers.New(2, zerolog.Nop())
	s.T().Cleanup(pool.Close)

	s.store = store.New(dbHandles{db: db}, store.DialectSQLite)
	led := ledger.New(s.store)
	s.sessions = &fakeSessions{}
	s.cache = cache.New(NewSource(s.store, led), s.sessions, pool, zerolog.Nop(), cache.WithTTL(time.Hour))
	s.auditor = &recordingAuditor{}
	s.svc = New(s.store, led, s.sessions, s.cache, s.auditor, zerolog.Nop(),
		WithClock(func() time.Time { return refNow }),
		WithVerifier(fakeVerifier{res: auth.Result{Matched: true, Admin: domain.AdminTemplate{IDNumber: sipho, Name: "Sipho", Surname: "Dlamini"}}}),
	)
}

func (s *ServiceSuite) register(id, name, surname string) {
	s.Require().NoError(s.svc.RegisterVoter(s.ctx, domain.Registration{
		IDNumber: id, Name: name, Surname: surname, Fingerprint: []byte{1, 2, 3},
	}))
}

func (s *ServiceSuite) exec(query string, args ...any) {
	_, err := s.db.ExecContext(s.ctx, query, args...)
	s.Require().NoError(err)
}

func (s *ServiceSuite) assertCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "error: %v", err)
}

// =============================================================================
// Registration
// =============================================================================

func (s *ServiceSuite) TestRegisterVoter_ValidationNeverReachesStore() {
	svc := New(untouchableStore{}, nil, s.sessions, s.cache, s.auditor, zerolog.Nop(),
		WithClock(func() time.Time { return refNow }))

	cases := map[string]domain.Registration{
		"bad checksum":   {IDNumber: "8001015009088", Name: "A", Surname: "B", Fingerprint: []byte{1}},
		"short id":       {IDNumber: "800101", Name: "A", Surname: "B", Fingerprint: []byte{1}},
		"missing name":   {IDNumber: thandi, Name: "  ", Surname: "B", Fingerprint: []byte{1}},
		"no fingerprint": {IDNumber: thandi, Name: "A", Surname: "B"},
	}
	for name, r := range cases {
		s.Run(name, func() {
			s.assertCode(svc.RegisterVoter(s.ctx, r), dErrors.CodeValidation)
		})
	}
	s.Empty(s.auditor.actions())
}

func (s *ServiceSuite) TestRegisterVoter_InvalidatesVoters() {
	voters, err := s.svc.Voters(s.ctx)
	s.Require().NoError(err)
	s.Empty(voters)

	s.register(thandi, "Thandi", "Mokoena")

	voters, err = s.svc.Voters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(voters, 1)
	s.Equal("Thandi", voters[0].Name)
	s.Equal([]audit.Action{audit.ActionVoterRegistered}, s.auditor.actions())
}

func (s *ServiceSuite) TestRegisterVoter_DuplicateIsConflict() {
	s.register(thandi, "Thandi", "Mokoena")

	err := s.svc.RegisterVoter(s.ctx, domain.Registration{IDNumber: thandi, Name: "X", Surname: "Y", Fingerprint: []byte{9}})
	s.assertCode(err, dErrors.CodeConflict)
}

func (s *ServiceSuite) TestRegisterAdmin() {
	r := domain.Registration{IDNumber: sipho, Name: "Sipho", Surname: "Dlamini", Fingerprint: []byte{7, 7}}
	s.Require().NoError(s.svc.RegisterAdmin(s.ctx, r))
	s.assertCode(s.svc.RegisterAdmin(s.ctx, r), dErrors.CodeConflict)

	admins, err := s.store.ListAdminTemplates(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(admins, 1)
	s.Equal([]byte{7, 7}, admins[0].Template)
}

// =============================================================================
// Voter maintenance
// =============================================================================

func (s *ServiceSuite) TestFailedWriteLeavesCacheIntact() {
	s.register(thandi, "Thandi", "Mokoena")
	_, err := s.svc.Voters(s.ctx)
	s.Require().NoError(err)

	// Written behind the cache's back: only an invalidation would reveal it.
	s.exec(`INSERT INTO Voters (id_number, name, surname, has_voted) VALUES (?, ?, ?, FALSE)`, sipho, "Sipho", "Dlamini")

	s.assertCode(s.svc.DeleteVoter(s.ctx, anele), dErrors.CodeNotFound)
	s.assertCode(s.svc.UpdateVoter(s.ctx, anele, "A", "B"), dErrors.CodeNotFound)

	voters, err := s.svc.Voters(s.ctx)
	s.Require().NoError(err)
	s.Len(voters, 1)
}

func (s *ServiceSuite) TestDeleteVoter_InvalidatesStatsAndFraud() {
	s.register(thandi, "Thandi", "Mokoena")
	now := time.Now().UTC()
	s.exec(`INSERT INTO Votes (voter_id_number, party_name, category, vote_timestamp) VALUES (?, ?, ?, ?)`, thandi, "Party A", "National", now)
	s.exec(`INSERT INTO FraudAttempts (voter_id_number, attempt_type, timestamp, details, resolved, attempt_count) VALUES (?, ?, ?, ?, FALSE, 1)`, thandi, "double_vote", now, "")

	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.Summary.TotalVotes)
	fraud, err := s.svc.Fraud(s.ctx)
	s.Require().NoError(err)
	s.Len(fraud, 1)

	s.Require().NoError(s.svc.DeleteVoter(s.ctx, thandi))

	stats, err = s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.Summary{}, stats.Summary)
	fraud, err = s.svc.Fraud(s.ctx)
	s.Require().NoError(err)
	s.Empty(fraud)
}

func (s *ServiceSuite) TestResetVotingStatus() {
	s.register(thandi, "Thandi", "Mokoena")
	s.exec(`UPDATE Voters SET has_voted = TRUE WHERE id_number = ?`, thandi)
	s.exec(`INSERT INTO Votes (voter_id_number, party_name, category, vote_timestamp) VALUES (?, ?, ?, ?)`, thandi, "Party A", "National", time.Now().UTC())

	s.Require().NoError(s.svc.ResetVotingStatus(s.ctx, thandi))

	voters, err := s.svc.Voters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(voters, 1)
	s.False(voters[0].HasVoted)
	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.Summary.TotalVotes)
}

func (s *ServiceSuite) TestVoteWipingWritesRefreshCandidateTallies() {
	s.Require().NoError(s.svc.AddCandidate(s.ctx, domain.NewCandidate{
		PartyName: "Party A", CandidateName: "Cyril", Categories: []domain.BallotCategory{domain.BallotNational},
	}))
	castAndWarm := func(id string) {
		s.exec(`INSERT INTO Votes (voter_id_number, party_name, category, vote_timestamp) VALUES (?, ?, ?, ?)`, id, "Party A", "National", time.Now().UTC())
		s.cache.Invalidate(cache.CandidatesKey(domain.BallotNational))
		candidates, err := s.svc.Candidates(s.ctx, "National")
		s.Require().NoError(err)
		s.Require().Len(candidates, 1)
		s.Equal(1, candidates[0].Votes)
	}
	nationalVotes := func() int {
		candidates, err := s.svc.Candidates(s.ctx, "National")
		s.Require().NoError(err)
		s.Require().Len(candidates, 1)
		return candidates[0].Votes
	}

	s.register(thandi, "Thandi", "Mokoena")
	castAndWarm(thandi)
	s.Require().NoError(s.svc.ResetVotingStatus(s.ctx, thandi))
	s.Zero(nationalVotes(), "reset removes the voter's ballots")

	castAndWarm(thandi)
	s.Require().NoError(s.svc.DeleteVoter(s.ctx, thandi))
	s.Zero(nationalVotes(), "delete removes the voter's ballots")
}

func (s *ServiceSuite) TestUpdateVoter() {
	s.register(thandi, "Thandi", "Mokoena")
	s.Require().NoError(s.svc.UpdateVoter(s.ctx, thandi, "Thandiwe", "Mokoena-Khumalo"))

	voters, err := s.svc.Voters(s.ctx)
	s.Require().NoError(err)
	s.Equal("Thandiwe", voters[0].Name)
	s.assertCode(s.svc.UpdateVoter(s.ctx, thandi, "", "x"), dErrors.CodeValidation)
}

// =============================================================================
// Candidates
// =============================================================================

func (s *ServiceSuite) TestAddCandidate_IndependentAcrossBallots() {
	err := s.svc.AddCandidate(s.ctx, domain.NewCandidate{
		PartyName:     "ignored",
		CandidateName: "Naledi Pandor",
		PartyLogo:     []byte{1},
		Independent:   true,
		Categories:    []domain.BallotCategory{domain.BallotNational, domain.BallotRegional, domain.BallotNational},
		Region:        "Gauteng",
	})
	s.Require().NoError(err)

	for _, cat := range []string{"National", "Regional"} {
		candidates, err := s.svc.Candidates(s.ctx, cat)
		s.Require().NoError(err)
		s.Require().Len(candidates, 1, cat)
		s.Equal(domain.IndependentParty, candidates[0].PartyName)
	}
	provincial, err := s.svc.Candidates(s.ctx, "Provincial")
	s.Require().NoError(err)
	s.Empty(provincial)
}

func (s *ServiceSuite) TestAddCandidate_RefreshesPartyTallies() {
	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Empty(stats.Parties)

	s.Require().NoError(s.svc.AddCandidate(s.ctx, domain.NewCandidate{
		PartyName: "Party B", CandidateName: "Julius", Categories: []domain.BallotCategory{domain.BallotNational},
	}))

	stats, err = s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(stats.Parties, 1)
	s.Equal("Party B", stats.Parties[0].PartyName)
	s.Zero(stats.Parties[0].TotalVotes)
}

func (s *ServiceSuite) TestAddCandidate_Validation() {
	base := domain.NewCandidate{PartyName: "Party A", CandidateName: "C", Categories: []domain.BallotCategory{domain.BallotProvincial}}
	s.assertCode(s.svc.AddCandidate(s.ctx, base), dErrors.CodeValidation)

	base.Categories = nil
	s.assertCode(s.svc.AddCandidate(s.ctx, base), dErrors.CodeValidation)

	base.Categories = []domain.BallotCategory{"Municipal"}
	s.assertCode(s.svc.AddCandidate(s.ctx, base), dErrors.CodeValidation)

	_, err := s.svc.Candidates(s.ctx, "municipal")
	s.assertCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestDeleteCandidate_InvalidatesBallotAndStats() {
	s.Require().NoError(s.svc.AddCandidate(s.ctx, domain.NewCandidate{
		PartyName: "Party A", CandidateName: "Cyril", Categories: []domain.BallotCategory{domain.BallotNational},
	}))
	s.register(thandi, "Thandi", "Mokoena")
	s.exec(`INSERT INTO Votes (voter_id_number, party_name, category, vote_timestamp) VALUES (?, ?, ?, ?)`, thandi, "Party A", "National", time.Now().UTC())

	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.Summary.TotalVotes)

	key := domain.CandidateKey{Category: domain.BallotNational, PartyName: "Party A", CandidateName: "Cyril"}
	s.Require().NoError(s.svc.DeleteCandidate(s.ctx, key))
	s.assertCode(s.svc.DeleteCandidate(s.ctx, key), dErrors.CodeNotFound)

	candidates, err := s.svc.Candidates(s.ctx, "National")
	s.Require().NoError(err)
	s.Empty(candidates)
	stats, err = s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.Summary.TotalVotes)
}

// =============================================================================
// Fraud
// =============================================================================

func (s *ServiceSuite) TestResolveFraud() {
	s.register(thandi, "Thandi", "Mokoena")
	s.exec(`INSERT INTO FraudAttempts (voter_id_number, attempt_type, timestamp, details, resolved, attempt_count) VALUES (?, ?, ?, ?, FALSE, 1)`, thandi, "double_vote", time.Now().UTC(), "")
	fraud, err := s.svc.Fraud(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(fraud, 1)

	resolved, err := s.svc.ResolveFraud(s.ctx, fraud[0].ID)
	s.Require().NoError(err)
	s.True(resolved)

	resolved, err = s.svc.ResolveFraud(s.ctx, fraud[0].ID)
	s.Require().NoError(err)
	s.False(resolved)

	fraud, err = s.svc.Fraud(s.ctx)
	s.Require().NoError(err)
	s.True(fraud[0].Resolved)
	s.assertCode(func() error { _, err := s.svc.ResolveFraud(s.ctx, 0); return err }(), dErrors.CodeValidation)
}

// =============================================================================
// Session guard and login
// =============================================================================

func (s *ServiceSuite) TestLostSessionShortCircuitsEveryOperation() {
	s.sessions.lost.Store(true)
	svc := New(untouchableStore{}, nil, s.sessions, s.cache, s.auditor, zerolog.Nop())

	ops := map[string]func() error{
		"register voter": func() error {
			return svc.RegisterVoter(s.ctx, domain.Registration{IDNumber: thandi, Name: "A", Surname: "B", Fingerprint: []byte{1}})
		},
		"delete voter":   func() error { return svc.DeleteVoter(s.ctx, thandi) },
		"reset":          func() error { return svc.ResetVotingStatus(s.ctx, thandi) },
		"add candidate":  func() error { return svc.AddCandidate(s.ctx, domain.NewCandidate{}) },
		"resolve fraud":  func() error { _, err := svc.ResolveFraud(s.ctx, 1); return err },
		"voters":         func() error { _, err := svc.Voters(s.ctx); return err },
		"dashboard":      func() error { _, err := svc.Dashboard(s.ctx); return err },
		"enroll":         func() error { _, err := svc.Enroll(s.ctx); return err },
		"delete ballot":  func() error { return svc.DeleteCandidate(s.ctx, domain.CandidateKey{}) },
		"update voter":   func() error { return svc.UpdateVoter(s.ctx, thandi, "a", "b") },
		"register admin": func() error { return svc.RegisterAdmin(s.ctx, domain.Registration{}) },
	}
	for name, op := range ops {
		s.Run(name, func() {
			s.assertCode(op(), dErrors.CodeLoginRequired)
		})
	}
	s.True(svc.LoginRequired())
}

func (s *ServiceSuite) TestLoginAndLogout() {
	s.sessions.lost.Store(true)
	s.True(s.svc.LoginRequired())

	op, ok, err := s.svc.Login(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("Sipho", op.Name)
	s.Equal(refNow, op.SignedInAt)
	s.EqualValues(1, s.sessions.forced.Load())
	s.False(s.svc.LoginRequired())

	s.register(thandi, "Thandi", "Mokoena")
	s.svc.Logout(s.ctx)
	s.True(s.svc.LoginRequired())

	s.Require().NotEmpty(s.auditor.events)
	s.Equal(audit.HashSubjectID(sipho), s.auditor.events[0].ActorID)
	s.Equal([]audit.Action{audit.ActionVoterRegistered, audit.ActionLogout}, s.auditor.actions())
}

func (s *ServiceSuite) TestDashboardStopsRefreshingAfterLogout() {
	m := NewMonitor(s.cache, s.svc, inlineRunner{}, time.Hour, zerolog.Nop())
	updates, cancel := m.Subscribe()
	defer cancel()

	s.ErrorIs(m.Refresh(s.ctx), errLoginRequired, "nobody signed in yet")
	s.Empty(updates)

	_, ok, err := s.svc.Login(s.ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Require().NoError(m.Refresh(s.ctx))
	<-updates

	s.svc.Logout(s.ctx)
	s.ErrorIs(m.Refresh(s.ctx), errLoginRequired)
	s.Empty(updates)
}

func (s *ServiceSuite) TestLogin_RejectedFingerprint() {
	svc := New(s.store, nil, s.sessions, s.cache, s.auditor, zerolog.Nop(), WithVerifier(fakeVerifier{}))

	_, ok, err := svc.Login(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
	s.True(svc.LoginRequired())
}

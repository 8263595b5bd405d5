// Package console is the administrative surface of the voting backend: voter
// and candidate maintenance, fraud handling, the dashboard and operator login.
package console

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ballotdesk/internal/audit"
	"ballotdesk/internal/auth"
	"ballotdesk/internal/cache"
	"ballotdesk/internal/domain"
	"ballotdesk/internal/identity"
	dErrors "ballotdesk/pkg/domain-errors"
	strutil "ballotdesk/pkg/platform/strings"
)

// Store is the write side of the backend.
type Store interface {
	VoterExists(ctx context.Context, idNumber string) (bool, error)
	InsertVoter(ctx context.Context, r domain.Registration) error
	UpdateVoter(ctx context.Context, idNumber, name, surname string) error
	DeleteVoter(ctx context.Context, idNumber string) error
	ResetVotingStatus(ctx context.Context, idNumber string) error

	AdminExists(ctx context.Context, idNumber string) (bool, error)
	InsertAdmin(ctx context.Context, r domain.Registration) error

	InsertCandidate(ctx context.Context, c domain.NewCandidate) error
	UpdateCandidate(ctx context.Context, key domain.CandidateKey, upd domain.CandidateUpdate) error
	DeleteCandidate(ctx context.Context, key domain.CandidateKey) error
}

// FraudResolver resolves fraud attempts.
type FraudResolver interface {
	Resolve(ctx context.Context, id int64) (int64, error)
}

// Sessions is the backend session as seen by the console.
type Sessions interface {
	ShouldRedirectToLogin() bool
	ForceReconnection(ctx context.Context) error
}

// Reader serves cached reads.
type Reader interface {
	Candidates(ctx context.Context, category domain.BallotCategory) ([]domain.Candidate, error)
	Voters(ctx context.Context) ([]domain.Voter, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Fraud(ctx context.Context) ([]domain.FraudRecord, error)
}

// Cache is a Reader whose entries can be dropped after writes.
type Cache interface {
	Reader
	Invalidate(keys ...string)
	InvalidateAll()
}

// Verifier authenticates an operator by fingerprint.
type Verifier interface {
	Verify(ctx context.Context) (auth.Result, error)
}

// Enroller captures a fingerprint template for registration.
type Enroller interface {
	Enroll(ctx context.Context) ([]byte, error)
}

// AuditPublisher records completed operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Operator is the administrator signed in to the console.
type Operator struct {
	IDNumber   string    `json:"-"`
	Name       string    `json:"name"`
	Surname    string    `json:"surname"`
	SignedInAt time.Time `json:"signed_in_at"`
}

// Service runs every console operation. Each one checks the session guard
// first; writes invalidate the cache only after the store has acknowledged.
type Service struct {
	store    Store
	fraud    FraudResolver
	sessions Sessions
	cache    Cache
	verifier Verifier
	enroller Enroller
	auditor  AuditPublisher
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	operator *Operator
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithVerifier(v Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

func WithEnroller(e Enroller) Option {
	return func(s *Service) { s.enroller = e }
}

func New(store Store, fraud FraudResolver, sessions Sessions, c Cache, auditor AuditPublisher, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		fraud:    fraud,
		sessions: sessions,
		cache:    c,
		auditor:  auditor,
		log:      log.With().Str("component", "console").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) checkSession() error {
	if s.sessions.ShouldRedirectToLogin() {
		return errLoginRequired
	}
	return nil
}

// LoginRequired reports whether data operations should send the operator back
// to the login screen: the session is lost or nobody is signed in.
func (s *Service) LoginRequired() bool {
	if s.sessions.ShouldRedirectToLogin() {
		return true
	}
	_, ok := s.Operator()
	return !ok
}

// =============================================================================
// Operator session
// =============================================================================

// Login re-establishes the backend session and verifies the operator's
// fingerprint. A rejected fingerprint returns ok=false and no error.
func (s *Service) Login(ctx context.Context) (Operator, bool, error) {
	if s.verifier == nil {
		return Operator{}, false, dErrors.New(dErrors.CodeHardware, "fingerprint verification is not configured")
	}
	if err := s.sessions.ForceReconnection(ctx); err != nil {
		return Operator{}, false, translate(err, dErrors.CodeUnavailable, "database unavailable")
	}
	res, err := s.verifier.Verify(ctx)
	if err != nil {
		return Operator{}, false, translate(err, dErrors.CodeInternal, "verification failed")
	}
	if !res.Matched {
		return Operator{}, false, nil
	}

	op := Operator{
		IDNumber:   res.Admin.IDNumber,
		Name:       res.Admin.Name,
		Surname:    res.Admin.Surname,
		SignedInAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.operator = &op
	s.mu.Unlock()

	s.cache.InvalidateAll()
	s.log.Info().Str("operator", op.Name+" "+op.Surname).Msg("operator signed in")
	return op, true, nil
}

// Logout clears the signed-in operator.
func (s *Service) Logout(ctx context.Context) {
	s.mu.Lock()
	op := s.operator
	s.operator = nil
	s.mu.Unlock()
	if op != nil {
		s.emit(ctx, audit.Event{Action: audit.ActionLogout, SubjectIDHash: audit.HashSubjectID(op.IDNumber)})
	}
}

// Operator returns the signed-in operator, if any.
func (s *Service) Operator() (Operator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.operator == nil {
		return Operator{}, false
	}
	return *s.operator, true
}

// Enroll captures a template for a new voter or administrator.
func (s *Service) Enroll(ctx context.Context) ([]byte, error) {
	if err := s.checkSession(); err != nil {
		return nil, err
	}
	if s.enroller == nil {
		return nil, dErrors.New(dErrors.CodeHardware, "fingerprint enrollment is not configured")
	}
	tmpl, err := s.enroller.Enroll(ctx)
	if err != nil {
		return nil, translate(err, dErrors.CodeHardware, "enrollment failed")
	}
	return tmpl, nil
}

// =============================================================================
// Reads
// =============================================================================

func (s *Service) Voters(ctx context.Context) ([]domain.Voter, error) {
	if err := s.checkSession(); err != nil {
		return nil, err
	}
	voters, err := s.cache.Voters(ctx)
	return voters, translate(err, dErrors.CodeInternal, "failed to load voters")
}

func (s *Service) Candidates(ctx context.Context, category string) ([]domain.Candidate, error) {
	if err := s.checkSession(); err != nil {
		return nil, err
	}
	cat, err := domain.ParseBallotCategory(category)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "unknown ballot category")
	}
	candidates, err := s.cache.Candidates(ctx, cat)
	return candidates, translate(err, dErrors.CodeInternal, "failed to load candidates")
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	if err := s.checkSession(); err != nil {
		return domain.Stats{}, err
	}
	stats, err := s.cache.Stats(ctx)
	return stats, translate(err, dErrors.CodeInternal, "failed to load statistics")
}

func (s *Service) Fraud(ctx context.Context) ([]domain.FraudRecord, error) {
	if err := s.checkSession(); err != nil {
		return nil, err
	}
	records, err := s.cache.Fraud(ctx)
	return records, translate(err, dErrors.CodeInternal, "failed to load fraud attempts")
}

// Dashboard returns statistics and recent fraud together.
func (s *Service) Dashboard(ctx context.Context) (DashboardUpdate, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return DashboardUpdate{}, err
	}
	fraud, err := s.Fraud(ctx)
	if err != nil {
		return DashboardUpdate{}, err
	}
	return DashboardUpdate{Stats: stats, Fraud: fraud, RefreshedAt: s.now().UTC()}, nil
}

// =============================================================================
// Voters and administrators
// =============================================================================

// RegisterVoter validates and stores a new voter. Invalid input never reaches
// the store.
func (s *Service) RegisterVoter(ctx context.Context, r domain.Registration) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	r, err := s.validateRegistration(r)
	if err != nil {
		return err
	}
	exists, err := s.store.VoterExists(ctx, r.IDNumber)
	if err != nil {
		return translate(err, dErrors.CodeInternal, "failed to check voter")
	}
	if exists {
		return dErrors.New(dErrors.CodeConflict, "a voter with this ID number is already registered")
	}
	if err := s.store.InsertVoter(ctx, r); err != nil {
		return translate(err, dErrors.CodeIntegrity, "a voter with this ID number is already registered")
	}

	s.cache.Invalidate(cache.KeyVoters, cache.KeyStats)
	s.emit(ctx, audit.Event{Action: audit.ActionVoterRegistered, SubjectIDHash: audit.HashSubjectID(r.IDNumber)})
	return nil
}

// RegisterAdmin validates and stores a new administrator.
func (s *Service) RegisterAdmin(ctx context.Context, r domain.Registration) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	r, err := s.validateRegistration(r)
	if err != nil {
		return err
	}
	exists, err := s.store.AdminExists(ctx, r.IDNumber)
	if err != nil {
		return translate(err, dErrors.CodeInternal, "failed to check administrator")
	}
	if exists {
		return dErrors.New(dErrors.CodeConflict, "an administrator with this ID number is already registered")
	}
	if err := s.store.InsertAdmin(ctx, r); err != nil {
		return translate(err, dErrors.CodeIntegrity, "an administrator with this ID number is already registered")
	}
	s.emit(ctx, audit.Event{Action: audit.ActionAdminRegistered, SubjectIDHash: audit.HashSubjectID(r.IDNumber)})
	return nil
}

func (s *Service) UpdateVoter(ctx context.Context, idNumber, name, surname string) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	name, surname = strutil.CollapseSpace(name), strutil.CollapseSpace(surname)
	if idNumber == "" || name == "" || surname == "" {
		return dErrors.New(dErrors.CodeValidation, "ID number, name and surname are required")
	}
	if err := s.store.UpdateVoter(ctx, idNumber, name, surname); err != nil {
		return translate(err, dErrors.CodeIntegrity, "voter not found")
	}
	s.cache.Invalidate(cache.KeyVoters)
	s.emit(ctx, audit.Event{Action: audit.ActionVoterUpdated, SubjectIDHash: audit.HashSubjectID(idNumber)})
	return nil
}

// DeleteVoter removes the voter with their votes and fraud attempts.
func (s *Service) DeleteVoter(ctx context.Context, idNumber string) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	if idNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "ID number is required")
	}
	if err := s.store.DeleteVoter(ctx, idNumber); err != nil {
		return translate(err, dErrors.CodeIntegrity, "voter not found")
	}
	s.cache.Invalidate(append(ballotKeys(), cache.KeyVoters, cache.KeyStats, cache.KeyFraud)...)
	s.emit(ctx, audit.Event{Action: audit.ActionVoterDeleted, SubjectIDHash: audit.HashSubjectID(idNumber)})
	return nil
}

// ResetVotingStatus deletes the voter's votes and lets them vote again.
func (s *Service) ResetVotingStatus(ctx context.Context, idNumber string) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	if idNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "ID number is required")
	}
	if err := s.store.ResetVotingStatus(ctx, idNumber); err != nil {
		return translate(err, dErrors.CodeIntegrity, "voter not found")
	}
	s.cache.Invalidate(append(ballotKeys(), cache.KeyVoters, cache.KeyStats)...)
	s.emit(ctx, audit.Event{Action: audit.ActionVotingReset, SubjectIDHash: audit.HashSubjectID(idNumber)})
	return nil
}

// ballotKeys lists every candidate key; candidate rows carry live vote tallies,
// so any write to Votes makes all of them stale.
func ballotKeys() []string {
	cats := domain.BallotCategories()
	keys := make([]string, 0, len(cats)+3)
	for _, c := range cats {
		keys = append(keys, cache.CandidatesKey(c))
	}
	return keys
}

func (s *Service) validateRegistration(r domain.Registration) (domain.Registration, error) {
	r.IDNumber = strings.TrimSpace(r.IDNumber)
	r.Name = strutil.CollapseSpace(r.Name)
	r.Surname = strutil.CollapseSpace(r.Surname)
	if r.IDNumber == "" || r.Name == "" || r.Surname == "" || len(r.Fingerprint) == 0 {
		return r, dErrors.New(dErrors.CodeValidation, "all fields are required, including a fingerprint")
	}
	if err := identity.Check(r.IDNumber, s.now()); err != nil {
		s.log.Debug().Err(err).Msg("identity number rejected")
		return r, dErrors.New(dErrors.CodeValidation, "invalid ID number")
	}
	return r, nil
}

// =============================================================================
// Candidates
// =============================================================================

// AddCandidate adds the candidate to every selected ballot in one transaction.
// Independents are stored under the Independent party without a logo.
func (s *Service) AddCandidate(ctx context.Context, c domain.NewCandidate) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	c, err := validateCandidate(c)
	if err != nil {
		return err
	}
	if err := s.store.InsertCandidate(ctx, c); err != nil {
		return translate(err, dErrors.CodeIntegrity, "candidate already on the ballot")
	}

	keys := make([]string, 0, len(c.Categories)+1)
	for _, cat := range c.Categories {
		keys = append(keys, cache.CandidatesKey(cat))
	}
	s.cache.Invalidate(append(keys, cache.KeyStats)...)
	s.emit(ctx, audit.Event{Action: audit.ActionCandidateAdded, Subject: c.PartyName + "/" + c.CandidateName})
	return nil
}

func (s *Service) UpdateCandidate(ctx context.Context, key domain.CandidateKey, upd domain.CandidateUpdate) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	upd.PartyName = strutil.CollapseSpace(upd.PartyName)
	upd.CandidateName = strutil.CollapseSpace(upd.CandidateName)
	if upd.PartyName == "" || upd.CandidateName == "" {
		return dErrors.New(dErrors.CodeValidation, "party and candidate name are required")
	}
	if err := s.store.UpdateCandidate(ctx, key, upd); err != nil {
		return translate(err, dErrors.CodeIntegrity, "candidate not found")
	}
	s.cache.Invalidate(cache.CandidatesKey(key.Category), cache.KeyStats)
	s.emit(ctx, audit.Event{Action: audit.ActionCandidateUpdated, Subject: candidateSubject(key)})
	return nil
}

// DeleteCandidate removes the ballot row and the party's votes on that ballot.
func (s *Service) DeleteCandidate(ctx context.Context, key domain.CandidateKey) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.store.DeleteCandidate(ctx, key); err != nil {
		return translate(err, dErrors.CodeIntegrity, "candidate not found")
	}
	s.cache.Invalidate(cache.CandidatesKey(key.Category), cache.KeyStats)
	s.emit(ctx, audit.Event{Action: audit.ActionCandidateDeleted, Subject: candidateSubject(key)})
	return nil
}

func validateCandidate(c domain.NewCandidate) (domain.NewCandidate, error) {
	c.CandidateName = strutil.CollapseSpace(c.CandidateName)
	c.PartyName = strutil.CollapseSpace(c.PartyName)
	c.Region = strutil.CollapseSpace(c.Region)
	if c.Independent {
		c.PartyName = domain.IndependentParty
		c.PartyLogo = nil
	}
	if c.CandidateName == "" || c.PartyName == "" {
		return c, dErrors.New(dErrors.CodeValidation, "party and candidate name are required")
	}
	if len(c.Categories) == 0 {
		return c, dErrors.New(dErrors.CodeValidation, "select at least one ballot")
	}

	seen := make(map[domain.BallotCategory]bool, len(c.Categories))
	cats := make([]domain.BallotCategory, 0, len(c.Categories))
	for _, cat := range c.Categories {
		if _, err := domain.ParseBallotCategory(string(cat)); err != nil {
			return c, dErrors.Wrap(err, dErrors.CodeValidation, "unknown ballot category")
		}
		if seen[cat] {
			continue
		}
		seen[cat] = true
		if cat.RequiresRegion() && c.Region == "" {
			return c, dErrors.New(dErrors.CodeValidation, "region or province is required for "+cat.String()+" ballot")
		}
		cats = append(cats, cat)
	}
	c.Categories = cats
	return c, nil
}

func validateKey(key domain.CandidateKey) error {
	if _, err := domain.ParseBallotCategory(string(key.Category)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "unknown ballot category")
	}
	if key.PartyName == "" || key.CandidateName == "" {
		return dErrors.New(dErrors.CodeValidation, "party and candidate name are required")
	}
	if key.Category.RequiresRegion() && key.Region == "" {
		return dErrors.New(dErrors.CodeValidation, "region or province is required")
	}
	return nil
}

func candidateSubject(key domain.CandidateKey) string {
	return key.Category.String() + "/" + key.PartyName + "/" + key.CandidateName
}

// =============================================================================
// Fraud
// =============================================================================

// ResolveFraud marks an attempt resolved. resolved is false when the attempt
// was already resolved or does not exist.
func (s *Service) ResolveFraud(ctx context.Context, id int64) (bool, error) {
	if err := s.checkSession(); err != nil {
		return false, err
	}
	if id <= 0 {
		return false, dErrors.New(dErrors.CodeValidation, "invalid fraud attempt id")
	}
	n, err := s.fraud.Resolve(ctx, id)
	if err != nil {
		return false, translate(err, dErrors.CodeIntegrity, "failed to resolve fraud attempt")
	}
	if n == 0 {
		return false, nil
	}
	s.cache.Invalidate(cache.KeyFraud, cache.KeyStats)
	s.emit(ctx, audit.Event{Action: audit.ActionFraudResolved, Subject: "fraud_attempt/" + strconv.FormatInt(id, 10)})
	return true, nil
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	if op, ok := s.Operator(); ok && e.ActorID == "" {
		e.ActorID = audit.HashSubjectID(op.IDNumber)
	}
	if err := s.auditor.Emit(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn().Err(err).Str("action", string(e.Action)).Msg("audit emit failed")
	}
}

// Package auth verifies administrators by fingerprint and enrolls new
// templates for registration.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ballotdesk/internal/audit"
	"ballotdesk/internal/biometric"
	"ballotdesk/internal/domain"
	"ballotdesk/internal/platform/metrics"
)

// State is the authenticator's position in the verification protocol.
type State int32

const (
	StateIdle State = iota
	StateReaderOpening
	StateCapturing
	StateMatching
	StateAccepted
	StateRejected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReaderOpening:
		return "reader_opening"
	case StateCapturing:
		return "capturing"
	case StateMatching:
		return "matching"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	outcomeAccepted  = "accepted"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

var errVerificationPanicked = errors.New("verification panicked")

// TemplateSource lists enrolled administrators.
type TemplateSource interface {
	ListAdminTemplates(ctx context.Context) ([]domain.AdminTemplate, error)
}

// AuditPublisher records verification outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Submitter runs background work; satisfied by workers.Pool.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context)) error
}

// Result is the outcome of one verification. Admin is set only when Matched;
// its Template is never populated.
type Result struct {
	Matched bool
	Admin   domain.AdminTemplate
}

// Authenticator runs the capture-and-match protocol against enrolled admins.
// Verifications are serialized: the reader is opened by at most one at a time.
type Authenticator struct {
	device    biometric.Device
	matcher   biometric.Matcher
	templates TemplateSource
	auditor   AuditPublisher
	pool      Submitter
	metrics   *metrics.Metrics
	log       zerolog.Logger

	joinTimeout time.Duration
	observer    func(State)

	verifyMu sync.Mutex
	state    atomic.Int32

	genMu  sync.Mutex
	gen    uint64
	active *Verification
}

type Option func(*Authenticator)

// WithStateObserver is called synchronously on every state change.
func WithStateObserver(fn func(State)) Option {
	return func(a *Authenticator) {
		a.observer = fn
	}
}

func WithJoinTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.joinTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) {
		if m != nil {
			a.metrics = m
		}
	}
}

func New(device biometric.Device, matcher biometric.Matcher, templates TemplateSource, auditor AuditPublisher, pool Submitter, log zerolog.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		device:      device,
		matcher:     matcher,
		templates:   templates,
		auditor:     auditor,
		pool:        pool,
		metrics:     metrics.NewNop(),
		log:         log.With().Str("component", "admin_auth").Logger(),
		joinTimeout: DefaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current protocol state.
func (a *Authenticator) State() State {
	return State(a.state.Load())
}

// Verify captures one good sample and compares it against every enrolled
// admin. A rejection is not an error. The reader is released on every path.
func (a *Authenticator) Verify(ctx context.Context) (Result, error) {
	a.verifyMu.Lock()
	defer a.verifyMu.Unlock()

	start := time.Now()
	res, err := a.verify(ctx)

	outcome := outcomeRejected
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		outcome = outcomeCancelled
		a.setState(StateError)
	case err != nil:
		outcome = outcomeError
		a.setState(StateError)
	case res.Matched:
		outcome = outcomeAccepted
		a.setState(StateAccepted)
	default:
		a.setState(StateRejected)
	}
	a.metrics.ObserveVerification(outcome)
	a.record(ctx, res, err)

	a.log.Info().
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("admin verification finished")

	a.setState(StateIdle)
	return res, err
}

func (a *Authenticator) verify(ctx context.Context) (res Result, err error) {
	a.setState(StateReaderOpening)
	sess, err := openCapture(ctx, a.device, a.joinTimeout, a.log)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: %v", errVerificationPanicked, r)
		}
		if cerr := sess.close(); cerr != nil {
			a.log.Warn().Err(cerr).Msg("reader cleanup failed")
		}
	}()

	a.setState(StateCapturing)
	sample, err := sess.next(ctx)
	if err != nil {
		return Result{}, err
	}

	a.setState(StateMatching)
	if cerr := sess.close(); cerr != nil {
		a.log.Warn().Err(cerr).Msg("reader cleanup failed")
	}

	probe, err := a.matcher.Template(sample)
	if err != nil {
		return Result{}, fmt.Errorf("template sample: %w", err)
	}
	admins, err := a.templates.ListAdminTemplates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list admin templates: %w", err)
	}

	for _, admin := range admins {
		if len(admin.Template) == 0 {
			continue
		}
		score, err := a.matcher.Compare(probe, biometric.Template(admin.Template))
		if err != nil {
			return Result{}, fmt.Errorf("compare admin template: %w", err)
		}
		if biometric.Matches(score) {
			admin.Template = nil
			return Result{Matched: true, Admin: admin}, nil
		}
	}
	return Result{}, nil
}

func (a *Authenticator) record(ctx context.Context, res Result, err error) {
	if a.auditor == nil {
		return
	}
	event := audit.Event{Action: audit.ActionAdminRejected, Decision: outcomeRejected}
	switch {
	case err != nil:
		event.Action = audit.ActionVerificationFailed
		event.Decision = outcomeError
		event.Reason = err.Error()
	case res.Matched:
		event.Action = audit.ActionAdminVerified
		event.Decision = outcomeAccepted
		event.ActorID = audit.HashSubjectID(res.Admin.IDNumber)
		event.SubjectIDHash = event.ActorID
	}
	if aerr := a.auditor.Emit(context.WithoutCancel(ctx), event); aerr != nil {
		a.log.Warn().Err(aerr).Msg("audit emit failed")
	}
}

func (a *Authenticator) setState(s State) {
	a.state.Store(int32(s))
	if a.observer != nil {
		a.observer(s)
	}
}

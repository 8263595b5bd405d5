package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ballotdesk/internal/audit"
	"ballotdesk/internal/biometric"
	"ballotdesk/internal/biometric/mocks"
	"ballotdesk/internal/domain"
	"ballotdesk/pkg/platform/sentinel"
)

type fakeTemplates struct {
	admins []domain.AdminTemplate
	err    error
}

func (f *fakeTemplates) ListAdminTemplates(context.Context) ([]domain.AdminTemplate, error) {
	return f.admins, f.err
}

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
	out := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type goSubmitter struct{}

func (goSubmitter) Submit(_ string, fn func(ctx context.Context)) error {
	go fn(context.Background())
	return nil
}

// stream feeds samples one at a time, then holds the channel open until the
// capture context is cancelled, like a real reader.
func stream(samples ...biometric.Sample) func(context.Context) (<-chan biometric.CaptureEvent, error) {
	return func(ctx context.Context) (<-chan biometric.CaptureEvent, error) {
		ch := make(chan biometric.CaptureEvent)
		go func() {
			defer close(ch)
			for _, s := range samples {
				select {
				case ch <- biometric.CaptureEvent{Sample: s}:
				case <-ctx.Done():
					return
				}
			}
			<-ctx.Done()
		}()
		return ch, nil
	}
}

var (
	good    = biometric.Sample{Data: []byte("good-sample-0000"), Quality: biometric.QualityGood}
	poor    = biometric.Sample{Data: []byte("poor-sample-0000"), Quality: biometric.QualityPoor}
	partial = biometric.Sample{Data: []byte("part-sample-0000"), Quality: biometric.QualityPartial}
	probe   = biometric.Template("probe")
)

type AuthenticatorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	device    *mocks.MockDevice
	matcher   *mocks.MockMatcher
	templates *fakeTemplates
	auditor   *recordingAuditor
	auth      *Authenticator

	stateMu sync.Mutex
	states  []State
}

func TestAuthenticatorSuite(t *testing.T) {
	suite.Run(t, new(AuthenticatorSuite))
}

func (s *AuthenticatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.device = mocks.NewMockDevice(s.ctrl)
	s.matcher = mocks.NewMockMatcher(s.ctrl)
	s.templates = &fakeTemplates{admins: []domain.AdminTemplate{
		{IDNumber: "8001015009087", Name: "Empty", Surname: "Admin"},
		{IDNumber: "9202204720082", Name: "Lerato", Surname: "Mokoena", Template: []byte("lerato")},
		{IDNumber: "8501015800084", Name: "Pieter", Surname: "van Wyk", Template: []byte("pieter")},
	}}
	s.auditor = &recordingAuditor{}
	s.states = nil
	s.auth = New(s.device, s.matcher, s.templates, s.auditor, goSubmitter{}, zerolog.Nop(),
		WithJoinTimeout(200*time.Millisecond),
		WithStateObserver(func(st State) {
			s.stateMu.Lock()
			s.states = append(s.states, st)
			s.stateMu.Unlock()
		}),
	)
}

func (s *AuthenticatorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *AuthenticatorSuite) observed() []State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]State(nil), s.states...)
}

func (s *AuthenticatorSuite) expectReader(samples ...biometric.Sample) {
	s.device.EXPECT().Open(gomock.Any(), biometric.PriorityCooperative).Return(nil)
	s.device.EXPECT().Capture(gomock.Any()).DoAndReturn(stream(samples...))
	s.device.EXPECT().Close().Return(nil).Times(1)
}

// =============================================================================
// Verify
// =============================================================================

func (s *AuthenticatorSuite) TestVerify_FirstMatchingAdminWins() {
	s.expectReader(good)
	s.matcher.EXPECT().Template(good).Return(probe, nil)
	s.matcher.EXPECT().Compare(probe, biometric.Template("lerato")).Return(biometric.ProbabilityOne, nil)
	s.matcher.EXPECT().Compare(probe, biometric.Template("pieter")).Return(biometric.AcceptThreshold-1, nil)

	res, err := s.auth.Verify(context.Background())
	s.Require().NoError(err)

	s.True(res.Matched)
	s.Equal("Pieter", res.Admin.Name)
	s.Equal("van Wyk", res.Admin.Surname)
	s.Nil(res.Admin.Template)
	s.Equal([]State{StateReaderOpening, StateCapturing, StateMatching, StateAccepted, StateIdle}, s.observed())
	s.Equal([]audit.Action{audit.ActionAdminVerified}, s.auditor.actions())
}

func (s *AuthenticatorSuite) TestVerify_ThresholdIsExclusive() {
	s.expectReader(good)
	s.matcher.EXPECT().Template(good).Return(probe, nil)
	s.matcher.EXPECT().Compare(probe, gomock.Any()).Return(biometric.AcceptThreshold, nil).Times(2)

	res, err := s.auth.Verify(context.Background())
	s.Require().NoError(err)
	s.False(res.Matched)
}

func (s *AuthenticatorSuite) TestVerify_RejectedAfterFullScan() {
	s.expectReader(good)
	s.matcher.EXPECT().Template(good).Return(probe, nil)
	s.matcher.EXPECT().Compare(probe, gomock.Any()).Return(biometric.ProbabilityOne, nil).Times(2)

	res, err := s.auth.Verify(context.Background())
	s.Require().NoError(err)

	s.False(res.Matched)
	s.Empty(res.Admin.Name)
	s.Equal([]State{StateReaderOpening, StateCapturing, StateMatching, StateRejected, StateIdle}, s.observed())
	s.Equal([]audit.Action{audit.ActionAdminRejected}, s.auditor.actions())
}

func (s *AuthenticatorSuite) TestVerify_IgnoresLowQualitySamples() {
	s.expectReader(poor, partial, good)
	s.matcher.EXPECT().Template(good).Return(probe, nil).Times(1)
	s.matcher.EXPECT().Compare(probe, gomock.Any()).Return(biometric.ProbabilityOne, nil).Times(2)

	_, err := s.auth.Verify(context.Background())
	s.Require().NoError(err)
}

func (s *AuthenticatorSuite) TestVerify_OpenFailureIsError() {
	s.device.EXPECT().Open(gomock.Any(), biometric.PriorityCooperative).Return(errors.New("reader busy"))

	_, err := s.auth.Verify(context.Background())
	s.Require().ErrorIs(err, sentinel.ErrDevice)
	s.Equal([]State{StateReaderOpening, StateError, StateIdle}, s.observed())
	s.Equal([]audit.Action{audit.ActionVerificationFailed}, s.auditor.actions())
}

func (s *AuthenticatorSuite) TestVerify_CompareErrorCleansUpOnce() {
	s.expectReader(good)
	s.matcher.EXPECT().Template(good).Return(probe, nil)
	s.matcher.EXPECT().Compare(probe, biometric.Template("lerato")).Return(0, biometric.ErrEmptyTemplate)

	_, err := s.auth.Verify(context.Background())
	s.Require().ErrorIs(err, biometric.ErrEmptyTemplate)
	s.Equal(StateIdle, s.auth.State())
}

func (s *AuthenticatorSuite) TestVerify_PanicCleansUpOnce() {
	s.expectReader(good)
	s.matcher.EXPECT().Template(good).DoAndReturn(func(biometric.Sample) (biometric.Template, error) {
		panic("driver fault")
	})

	_, err := s.auth.Verify(context.Background())
	s.Require().ErrorIs(err, errVerificationPanicked)
	s.Contains(s.observed(), StateError)
}

func (s *AuthenticatorSuite) TestVerify_TemplateSourceFailure() {
	s.expectReader(good)
	s.matcher.EXPECT().Template(good).Return(probe, nil)
	s.templates.err = sentinel.ErrLoginRequired

	_, err := s.auth.Verify(context.Background())
	s.Require().ErrorIs(err, sentinel.ErrLoginRequired)
}

func (s *AuthenticatorSuite) TestVerify_CaptureErrorEvent() {
	s.device.EXPECT().Open(gomock.Any(), gomock.Any()).Return(nil)
	s.device.EXPECT().Capture(gomock.Any()).DoAndReturn(func(context.Context) (<-chan biometric.CaptureEvent, error) {
		ch := make(chan biometric.CaptureEvent, 1)
		ch <- biometric.CaptureEvent{Err: errors.New("sensor unplugged")}
		close(ch)
		return ch, nil
	})
	s.device.EXPECT().Close().Return(nil).Times(1)

	_, err := s.auth.Verify(context.Background())
	s.Require().ErrorIs(err, sentinel.ErrDevice)
}

// =============================================================================
// StartVerification
// =============================================================================

type callResult struct {
	matched       bool
	name, surname string
}

func collect() (Callback, <-chan callResult) {
	ch := make(chan callResult, 4)
	return CallbackFunc(func(matched bool, name, surname string) {
		ch <- callResult{matched, name, surname}
	}), ch
}

func (s *AuthenticatorSuite) TestStartVerification_OpenFailureReportsNoMatch() {
	s.device.EXPECT().Open(gomock.Any(), gomock.Any()).Return(errors.New("no reader"))
	cb, results := collect()

	v, err := s.auth.StartVerification(context.Background(), cb)
	s.Require().NoError(err)

	select {
	case got := <-results:
		s.Equal(callResult{}, got)
	case <-time.After(2 * time.Second):
		s.FailNow("callback not invoked")
	}
	<-v.Done()
	_, verr := v.Result()
	s.ErrorIs(verr, sentinel.ErrDevice)
}

func (s *AuthenticatorSuite) TestStartVerification_SupersededResultDiscarded() {
	gomock.InOrder(
		s.device.EXPECT().Open(gomock.Any(), gomock.Any()).Return(nil),
		s.device.EXPECT().Capture(gomock.Any()).DoAndReturn(stream()),
		s.device.EXPECT().Close().Return(nil),
		s.device.EXPECT().Open(gomock.Any(), gomock.Any()).Return(nil),
		s.device.EXPECT().Capture(gomock.Any()).DoAndReturn(stream(good)),
		s.device.EXPECT().Close().Return(nil),
	)
	s.matcher.EXPECT().Template(good).Return(probe, nil)
	s.matcher.EXPECT().Compare(probe, biometric.Template("lerato")).Return(0, nil)

	cb, results := collect()
	first, err := s.auth.StartVerification(context.Background(), cb)
	s.Require().NoError(err)
	s.Require().Eventually(func() bool { return s.auth.State() == StateCapturing }, 2*time.Second, 5*time.Millisecond)

	second, err := s.auth.StartVerification(context.Background(), cb)
	s.Require().NoError(err)

	<-first.Done()
	<-second.Done()

	_, ferr := first.Result()
	s.ErrorIs(ferr, context.Canceled)

	s.Require().Len(results, 1)
	got := <-results
	s.Equal(callResult{matched: true, name: "Lerato", surname: "Mokoena"}, got)
}

func (s *AuthenticatorSuite) TestStartVerification_CancelSuppressesCallback() {
	s.device.EXPECT().Open(gomock.Any(), gomock.Any()).Return(nil)
	s.device.EXPECT().Capture(gomock.Any()).DoAndReturn(stream())
	s.device.EXPECT().Close().Return(nil).Times(1)

	cb, results := collect()
	v, err := s.auth.StartVerification(context.Background(), cb)
	s.Require().NoError(err)
	s.Require().Eventually(func() bool { return s.auth.State() == StateCapturing }, 2*time.Second, 5*time.Millisecond)

	v.Cancel()
	<-v.Done()
	s.Empty(results)
}

// =============================================================================
// Enroll
// =============================================================================

func TestEnroller_ReturnsFirstGoodTemplate(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	matcher := mocks.NewMockMatcher(ctrl)

	device.EXPECT().Open(gomock.Any(), biometric.PriorityCooperative).Return(nil)
	device.EXPECT().Capture(gomock.Any()).DoAndReturn(stream(poor, good))
	device.EXPECT().Close().Return(nil).Times(1)
	matcher.EXPECT().Template(good).Return(biometric.Template("enrolled"), nil)

	tmpl, err := NewEnroller(device, matcher, zerolog.Nop()).Enroll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("enrolled"), tmpl)
}

func TestEnroller_ContextCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	matcher := mocks.NewMockMatcher(ctrl)

	device.EXPECT().Open(gomock.Any(), gomock.Any()).Return(nil)
	device.EXPECT().Capture(gomock.Any()).DoAndReturn(stream())
	device.EXPECT().Close().Return(nil).Times(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewEnroller(device, matcher, zerolog.Nop()).Enroll(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

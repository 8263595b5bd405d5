package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ballotdesk/internal/domain"
	"ballotdesk/pkg/platform/sentinel"
)

type fakeSource struct {
	mu         sync.Mutex
	calls      map[string]int
	gate       chan struct{}
	voters     []domain.Voter
	votersErr  error
	statsValue domain.Stats
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}}
}

func (f *fakeSource) hit(key string) {
	f.mu.Lock()
	f.calls[key]++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeSource) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeSource) ListCandidates(_ context.Context, category domain.BallotCategory) ([]domain.Candidate, error) {
	f.hit(CandidatesKey(category))
	return []domain.Candidate{{PartyName: "Party A", Category: category}}, nil
}

func (f *fakeSource) ListVoters(context.Context) ([]domain.Voter, error) {
	f.mu.Lock()
	voters, err := f.voters, f.votersErr
	f.mu.Unlock()
	f.hit(KeyVoters)
	return voters, err
}

func (f *fakeSource) Stats(context.Context) (domain.Stats, error) {
	f.hit(KeyStats)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsValue, nil
}

func (f *fakeSource) ListRecentFraud(context.Context) ([]domain.FraudRecord, error) {
	f.hit(KeyFraud)
	return []domain.FraudRecord{}, nil
}

type fakeGuard struct{ lost atomic.Bool }

func (g *fakeGuard) ShouldRedirectToLogin() bool { return g.lost.Load() }

// syncPool runs submitted work on its own goroutine and lets tests wait for it.
type syncPool struct{ wg sync.WaitGroup }

func (p *syncPool) Submit(_ string, fn func(ctx context.Context)) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(context.Background())
	}()
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	stats []domain.Stats
	err   error
}

func (r *recordingPublisher) PublishStats(_ context.Context, s domain.Stats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
	return r.err
}

type CacheSuite struct {
	suite.Suite
	src   *fakeSource
	guard *fakeGuard
	pool  *syncPool
	now   time.Time
	cache *Cache
	ctx   context.Context
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.src = newFakeSource()
	s.guard = &fakeGuard{}
	s.pool = &syncPool{}
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = context.Background()
	s.cache = New(s.src, s.guard, s.pool, zerolog.Nop(),
		WithTTL(30*time.Second),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *CacheSuite) TestFreshEntryServedWithoutFetch() {
	_, err := s.cache.Candidates(s.ctx, domain.BallotNational)
	s.Require().NoError(err)
	s.now = s.now.Add(29 * time.Second)
	_, err = s.cache.Candidates(s.ctx, domain.BallotNational)
	s.Require().NoError(err)

	s.Equal(1, s.src.count(CandidatesKey(domain.BallotNational)))
}

func (s *CacheSuite) TestStaleEntryRefetched() {
	_, err := s.cache.Voters(s.ctx)
	s.Require().NoError(err)
	s.now = s.now.Add(30 * time.Second)
	_, err = s.cache.Voters(s.ctx)
	s.Require().NoError(err)

	s.Equal(2, s.src.count(KeyVoters))
}

func (s *CacheSuite) TestEmptyResultIsCached() {
	s.src.voters = []domain.Voter{}

	for i := 0; i < 3; i++ {
		voters, err := s.cache.Voters(s.ctx)
		s.Require().NoError(err)
		s.Empty(voters)
	}
	s.Equal(1, s.src.count(KeyVoters))
}

func (s *CacheSuite) TestFetchErrorIsNotCached() {
	s.src.votersErr = errors.New("backend gone")
	_, err := s.cache.Voters(s.ctx)
	s.Require().Error(err)

	s.src.mu.Lock()
	s.src.votersErr = nil
	s.src.mu.Unlock()
	_, err = s.cache.Voters(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, s.src.count(KeyVoters))
}

func (s *CacheSuite) TestConcurrentReadsShareOneFetch() {
	s.src.gate = make(chan struct{})

	const readers = 20
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.cache.Fraud(s.ctx)
			s.NoError(err)
		}()
	}

	s.Eventually(func() bool { return s.src.count(KeyFraud) == 1 }, time.Second, time.Millisecond)
	// Give stragglers time to join the flight before it completes.
	time.Sleep(20 * time.Millisecond)
	close(s.src.gate)
	wg.Wait()

	s.Equal(1, s.src.count(KeyFraud))
}

func (s *CacheSuite) TestInvalidateCausesExactlyOneFetch() {
	_, err := s.cache.Voters(s.ctx)
	s.Require().NoError(err)

	s.cache.Invalidate(KeyVoters)
	for i := 0; i < 3; i++ {
		_, err = s.cache.Voters(s.ctx)
		s.Require().NoError(err)
	}

	s.Equal(2, s.src.count(KeyVoters))
}

func (s *CacheSuite) TestInvalidateLeavesOtherKeys() {
	_, err := s.cache.Voters(s.ctx)
	s.Require().NoError(err)
	_, err = s.cache.Fraud(s.ctx)
	s.Require().NoError(err)

	s.cache.Invalidate(KeyFraud)
	_, _ = s.cache.Voters(s.ctx)
	_, _ = s.cache.Fraud(s.ctx)

	s.Equal(1, s.src.count(KeyVoters))
	s.Equal(2, s.src.count(KeyFraud))
}

func (s *CacheSuite) TestFlightStartedBeforeInvalidateDoesNotStore() {
	gate := make(chan struct{})
	s.src.gate = gate
	s.src.voters = []domain.Voter{{IDNumber: "old"}}

	done := make(chan []domain.Voter)
	go func() {
		v, _ := s.cache.Voters(s.ctx)
		done <- v
	}()
	s.Eventually(func() bool { return s.src.count(KeyVoters) == 1 }, time.Second, time.Millisecond)

	// A write commits and invalidates while the old fetch is still running.
	s.cache.Invalidate(KeyVoters)
	s.src.mu.Lock()
	s.src.voters = []domain.Voter{{IDNumber: "new"}}
	s.src.gate = nil
	s.src.mu.Unlock()

	fresh, err := s.cache.Voters(s.ctx)
	s.Require().NoError(err)
	s.Equal("new", fresh[0].IDNumber)

	// Release the stale flight; it must not overwrite the newer entry.
	close(gate)
	stale := <-done
	s.Equal("old", stale[0].IDNumber)
	again, err := s.cache.Voters(s.ctx)
	s.Require().NoError(err)
	s.Equal("new", again[0].IDNumber)
	s.Equal(2, s.src.count(KeyVoters))
}

func (s *CacheSuite) TestLostSessionShortCircuits() {
	s.guard.lost.Store(true)

	voters, err := s.cache.Voters(s.ctx)
	s.ErrorIs(err, sentinel.ErrLoginRequired)
	s.Nil(voters)

	stats, err := s.cache.Stats(s.ctx)
	s.ErrorIs(err, sentinel.ErrLoginRequired)
	s.Equal(domain.Stats{}, stats)

	s.Equal(0, s.src.count(KeyVoters))
	s.Equal(0, s.src.count(KeyStats))
}

func (s *CacheSuite) TestInvalidateAllPreloadsEveryKey() {
	_, err := s.cache.Voters(s.ctx)
	s.Require().NoError(err)

	s.cache.InvalidateAll()
	s.pool.wg.Wait()

	for _, key := range AllKeys() {
		expected := 1
		if key == KeyVoters {
			expected = 2
		}
		s.Equal(expected, s.src.count(key), key)
	}

	// Preloaded entries are warm.
	_, err = s.cache.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, s.src.count(KeyStats))
}

func (s *CacheSuite) TestPreloadSkippedWhenLost() {
	s.guard.lost.Store(true)
	s.cache.PreloadAll(s.ctx)

	for _, key := range AllKeys() {
		s.Equal(0, s.src.count(key), key)
	}
}

func TestStatsArePublished(t *testing.T) {
	src := newFakeSource()
	src.statsValue = domain.Stats{Summary: domain.Summary{TotalVotes: 4}}
	pool := &syncPool{}
	pub := &recordingPublisher{err: errors.New("redis down")}

	c := New(src, &fakeGuard{}, pool, zerolog.Nop(), WithPublisher(pub))

	stats, err := c.Stats(context.Background())
	require.NoError(t, err, "publication failures never reach readers")
	pool.wg.Wait()

	assert.Equal(t, 4, stats.Summary.TotalVotes)
	require.Len(t, pub.stats, 1)
	assert.Equal(t, stats, pub.stats[0])
}

func TestAllKeys(t *testing.T) {
	assert.Equal(t, []string{
		"candidates:National", "candidates:Regional", "candidates:Provincial",
		"voters", "stats", "fraud",
	}, AllKeys())
}

// Package cache is a read-through TTL cache in front of the backend for the
// four dashboard domains: candidates per ballot, voters, statistics and fraud.
//
// Each key tracks a generation. Invalidate bumps it, so a read that starts
// after an invalidation never joins a fetch that began before it, and a fetch
// that finishes after an invalidation never stores its result.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ballotdesk/internal/domain"
	"ballotdesk/internal/platform/metrics"
	"ballotdesk/pkg/platform/sentinel"
)

// Fixed keys. Candidate keys are built with CandidatesKey.
const (
	KeyVoters = "voters"
	KeyStats  = "stats"
	KeyFraud  = "fraud"

	candidatesPrefix = "candidates:"
)

const defaultFetchTimeout = 30 * time.Second

// CandidatesKey returns the cache key for one ballot.
func CandidatesKey(category domain.BallotCategory) string {
	return candidatesPrefix + category.String()
}

// AllKeys lists every key the cache knows how to hydrate.
func AllKeys() []string {
	keys := make([]string, 0, 6)
	for _, c := range domain.BallotCategories() {
		keys = append(keys, CandidatesKey(c))
	}
	return append(keys, KeyVoters, KeyStats, KeyFraud)
}

// Source hydrates cache entries from the backend.
type Source interface {
	ListCandidates(ctx context.Context, category domain.BallotCategory) ([]domain.Candidate, error)
	ListVoters(ctx context.Context) ([]domain.Voter, error)
	Stats(ctx context.Context) (domain.Stats, error)
	ListRecentFraud(ctx context.Context) ([]domain.FraudRecord, error)
}

// Guard reports whether the session is known to be lost.
type Guard interface {
	ShouldRedirectToLogin() bool
}

// Submitter runs background work.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context)) error
}

// SnapshotPublisher receives every freshly fetched statistics snapshot.
type SnapshotPublisher interface {
	PublishStats(ctx context.Context, stats domain.Stats) error
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache holds one entry per key. Values handed out are shared between callers
// and must be treated as read-only.
type Cache struct {
	src       Source
	guard     Guard
	pool      Submitter
	publisher SnapshotPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	ttl       time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	group   singleflight.Group
}

// Option customises a Cache.
type Option func(*Cache)

// WithTTL sets how long an entry is served without a refetch.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source used for freshness.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPublisher mirrors statistics snapshots after each fetch.
func WithPublisher(p SnapshotPublisher) Option {
	return func(c *Cache) { c.publisher = p }
}

// WithMetrics records hits, misses and fetch latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New returns an empty cache. Entries default to a 30 second TTL.
func New(src Source, guard Guard, pool Submitter, log zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		src:     src,
		guard:   guard,
		pool:    pool,
		log:     log.With().Str("component", "cache").Logger(),
		ttl:     30 * time.Second,
		timeout: defaultFetchTimeout,
		now:     time.Now,
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}
	return c
}

// Candidates returns the ballot's candidates with their vote tallies.
func (c *Cache) Candidates(ctx context.Context, category domain.BallotCategory) ([]domain.Candidate, error) {
	return read(ctx, c, CandidatesKey(category), "candidates", func(ctx context.Context) ([]domain.Candidate, error) {
		return c.src.ListCandidates(ctx, category)
	})
}

// Voters returns every registered voter.
func (c *Cache) Voters(ctx context.Context) ([]domain.Voter, error) {
	return read(ctx, c, KeyVoters, KeyVoters, c.src.ListVoters)
}

// Stats returns the dashboard headline and per-party tallies.
func (c *Cache) Stats(ctx context.Context) (domain.Stats, error) {
	return read(ctx, c, KeyStats, KeyStats, func(ctx context.Context) (domain.Stats, error) {
		stats, err := c.src.Stats(ctx)
		if err == nil {
			c.publish(stats)
		}
		return stats, err
	})
}

// Fraud returns the most recent fraud attempts.
func (c *Cache) Fraud(ctx context.Context) ([]domain.FraudRecord, error) {
	return read(ctx, c, KeyFraud, KeyFraud, c.src.ListRecentFraud)
}

// Invalidate drops the entry for key. Reads that start afterwards fetch anew.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
		c.gens[key]++
	}
}

// InvalidateAll drops every entry and schedules a background preload so the
// next reads are warm.
func (c *Cache) InvalidateAll() {
	c.Invalidate(AllKeys()...)
	c.SchedulePreload()
}

// SchedulePreload warms every domain on the worker pool.
func (c *Cache) SchedulePreload() {
	if err := c.pool.Submit("cache.preload", c.PreloadAll); err != nil {
		c.log.Warn().Err(err).Msg("preload not scheduled")
	}
}

// PreloadAll fetches every domain concurrently. Failures are logged and never
// returned; a lost session skips the preload entirely.
func (c *Cache) PreloadAll(ctx context.Context) {
	if c.guard.ShouldRedirectToLogin() {
		c.log.Debug().Msg("preload skipped, session lost")
		return
	}

	var g errgroup.Group
	for _, category := range domain.BallotCategories() {
		g.Go(func() error {
			_, err := c.Candidates(ctx, category)
			c.logPreload(CandidatesKey(category), err)
			return nil
		})
	}
	g.Go(func() error {
		_, err := c.Voters(ctx)
		c.logPreload(KeyVoters, err)
		return nil
	})
	g.Go(func() error {
		_, err := c.Stats(ctx)
		c.logPreload(KeyStats, err)
		return nil
	})
	g.Go(func() error {
		_, err := c.Fraud(ctx)
		c.logPreload(KeyFraud, err)
		return nil
	})
	_ = g.Wait()
	c.log.Debug().Msg("preload finished")
}

func (c *Cache) logPreload(key string, err error) {
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("preload failed")
	}
}

func (c *Cache) publish(stats domain.Stats) {
	if c.publisher == nil {
		return
	}
	err := c.pool.Submit("cache.publish_stats", func(ctx context.Context) {
		if err := c.publisher.PublishStats(ctx, stats); err != nil {
			c.log.Warn().Err(err).Msg("stats snapshot not published")
		}
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("stats snapshot not scheduled")
	}
}

// read serves key from the cache or fetches it once per generation.
func read[T any](ctx context.Context, c *Cache, key, label string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if c.guard.ShouldRedirectToLogin() {
		return zero, sentinel.ErrLoginRequired
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		c.metrics.ObserveCacheHit(label)
		return e.value.(T), nil
	}
	gen := c.gens[key]
	c.mu.Unlock()

	v, err, _ := c.group.Do(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		// Callers sharing the flight must not be failed by the first caller leaving.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		start := time.Now()
		val, err := fetch(fctx)
		c.metrics.ObserveCacheMiss(label, float64(time.Since(start).Milliseconds()))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = entry{value: val, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache fetch failed")
		return zero, err
	}
	return v.(T), nil
}

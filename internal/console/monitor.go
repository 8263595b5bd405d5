package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ballotdesk/internal/cache"
	"ballotdesk/internal/domain"
)

// DefaultRefreshInterval is how often the dashboard is refreshed.
const DefaultRefreshInterval = 30 * time.Second

// DashboardUpdate is one refresh of the dashboard.
type DashboardUpdate struct {
	Stats       domain.Stats         `json:"stats"`
	Fraud       []domain.FraudRecord `json:"fraud"`
	RefreshedAt time.Time            `json:"refreshed_at"`
}

// Runner executes a task on the worker pool and waits for it.
type Runner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// LoginGate reports whether the operator must sign in before data is shown.
type LoginGate interface {
	LoginRequired() bool
}

// Monitor periodically refreshes statistics and fraud and fans the result out
// to subscribers. Once disposed it publishes nothing.
type Monitor struct {
	cache    Cache
	guard    LoginGate
	runner   Runner
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	disposed bool
	nextID   int
	subs     map[int]chan DashboardUpdate
	latest   *DashboardUpdate
}

func NewMonitor(c Cache, guard LoginGate, runner Runner, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Monitor{
		cache:    c,
		guard:    guard,
		runner:   runner,
		interval: interval,
		log:      log.With().Str("component", "dashboard_monitor").Logger(),
		now:      time.Now,
		subs:     make(map[int]chan DashboardUpdate),
	}
}

// Subscribe returns a channel receiving the newest update. Slow subscribers
// only see the latest one. The channel is closed by the returned cancel func
// or by Dispose.
func (m *Monitor) Subscribe() (<-chan DashboardUpdate, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan DashboardUpdate, 1)
	if m.disposed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	if m.latest != nil {
		ch <- *m.latest
	}

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Latest returns the last published update.
func (m *Monitor) Latest() (DashboardUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return DashboardUpdate{}, false
	}
	return *m.latest, true
}

// Run refreshes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		err := m.runner.Go(ctx, "dashboard_refresh", m.Refresh)
		if err != nil && ctx.Err() == nil && !errors.Is(err, errLoginRequired) {
			m.log.Warn().Err(err).Msg("dashboard refresh failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh invalidates and rereads statistics and fraud, then publishes. It
// reads nothing while the session is lost or nobody is signed in.
func (m *Monitor) Refresh(ctx context.Context) error {
	if m.isDisposed() {
		return nil
	}
	if m.guard.LoginRequired() {
		m.log.Debug().Msg("dashboard refresh skipped, login required")
		return errLoginRequired
	}

	m.cache.Invalidate(cache.KeyFraud, cache.KeyStats)
	fraud, err := m.cache.Fraud(ctx)
	if err != nil {
		return err
	}
	stats, err := m.cache.Stats(ctx)
	if err != nil {
		return err
	}
	m.publish(DashboardUpdate{Stats: stats, Fraud: fraud, RefreshedAt: m.now().UTC()})
	return nil
}

func (m *Monitor) publish(u DashboardUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.latest = &u
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- u
	}
}

// Dispose stops all publication and closes every subscriber channel.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Monitor) isDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

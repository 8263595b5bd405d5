// Package session owns the single backend handle used by the console. It
// validates the handle with a cheap probe, keeps it alive in the background and
// exposes the lost/valid state every other component consults before touching
// data.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ballotdesk/internal/platform/config"
	"ballotdesk/internal/platform/metrics"
	"ballotdesk/pkg/platform/sentinel"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("session manager closed")

// Opener builds a new, not yet connected handle.
type Opener func() (*sql.DB, error)

// Prober performs the liveness round trip against a handle.
type Prober func(ctx context.Context, db *sql.DB) error

// Status is a point-in-time view of the session for health reporting.
type Status struct {
	Connected       bool      `json:"connected"`
	Lost            bool      `json:"lost"`
	LastValidatedAt time.Time `json:"last_validated_at"`
	Reconnects      int64     `json:"reconnects"`
}

// Manager holds at most one live handle. A connect always closes and
// supersedes the previous handle.
type Manager struct {
	open      Opener
	probe     Prober
	limiter   *rate.Limiter
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics
	probeWait time.Duration
	interval  time.Duration

	// connMu serialises probe and connect sequences; stateMu guards the fields
	// below so readers never wait on network I/O.
	connMu  sync.Mutex
	stateMu sync.RWMutex

	db              *sql.DB
	lost            bool
	closed          bool
	lastValidatedAt time.Time
	reconnects      int64

	keepAliveCancel context.CancelFunc
	keepAliveDone   chan struct{}
}

// Option customises a Manager.
type Option func(*Manager)

// WithOpener replaces the driver-backed opener.
func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithProber replaces the SELECT 1 probe.
func WithProber(probe Prober) Option {
	return func(m *Manager) { m.probe = probe }
}

// WithClock sets the time source used for validation timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithReconnectLimit overrides the reconnect throttle.
func WithReconnectLimit(every time.Duration, burst int) Option {
	return func(m *Manager) { m.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

// New validates the driver and returns an unconnected manager. The driver
// being unavailable is the only fatal condition; every later connectivity
// failure is reported through the lost state instead.
func New(dbCfg config.DatabaseConfig, sessCfg config.SessionConfig, log zerolog.Logger, m *metrics.Metrics, opts ...Option) (*Manager, error) {
	if !slices.Contains(sql.Drivers(), dbCfg.Driver) {
		return nil, fmt.Errorf("database driver %q not registered", dbCfg.Driver)
	}
	if m == nil {
		m = metrics.NewNop()
	}

	mgr := &Manager{
		open:      func() (*sql.DB, error) { return openDB(dbCfg) },
		probe:     selectOne,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 3),
		now:       time.Now,
		log:       log.With().Str("component", "session").Str("driver", dbCfg.Driver).Logger(),
		metrics:   m,
		probeWait: sessCfg.ProbeTimeout,
		interval:  sessCfg.KeepAliveInterval,
	}
	if mgr.probeWait <= 0 {
		mgr.probeWait = 5 * time.Second
	}
	if mgr.interval <= 0 {
		mgr.interval = 4 * time.Minute
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr, nil
}

func selectOne(ctx context.Context, db *sql.DB) error {
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// GetConnection returns the current handle when it answers the probe, and
// otherwise establishes a new one.
func (m *Manager) GetConnection(ctx context.Context) (*sql.DB, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.isClosed() {
		return nil, ErrClosed
	}
	if db := m.current(); db != nil {
		if err := m.probeLocked(ctx, db); err == nil {
			return db, nil
		}
	}
	return m.connectLocked(ctx, true)
}

// GetValidatedConnection re-probes the handle returned by GetConnection and
// forces a fresh connect if that second probe fails.
func (m *Manager) GetValidatedConnection(ctx context.Context) (*sql.DB, error) {
	db, err := m.GetConnection(ctx)
	if err != nil {
		return nil, err
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.isClosed() {
		return nil, ErrClosed
	}
	if cur := m.current(); cur == db {
		if err := m.probeLocked(ctx, db); err == nil {
			return db, nil
		}
		m.log.Warn().Msg("handle failed revalidation, forcing reconnect")
	}
	return m.connectLocked(ctx, true)
}

// ShouldRedirectToLogin reports whether callers must stop and re-authenticate.
// It performs no I/O.
func (m *Manager) ShouldRedirectToLogin() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.closed || m.db == nil || m.lost
}

// ForceReconnection drops any handle, clears the lost flag and connects. It
// bypasses the reconnect throttle; it backs an explicit login attempt.
func (m *Manager) ForceReconnection(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.isClosed() {
		return ErrClosed
	}
	m.log.Info().Msg("forcing backend reconnection")
	m.dropLocked()
	m.setLost(false)
	_, err := m.connectLocked(ctx, false)
	return err
}

// ResetConnection is the emergency path for a stuck handle: close and
// reconnect, leaving the lost flag to the outcome of the new connect.
func (m *Manager) ResetConnection(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.isClosed() {
		return ErrClosed
	}
	m.log.Warn().Msg("emergency connection reset requested")
	m.dropLocked()
	_, err := m.connectLocked(ctx, false)
	return err
}

// Status returns a snapshot of the session state without probing.
func (m *Manager) Status() Status {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return Status{
		Connected:       m.db != nil && !m.closed,
		Lost:            m.lost,
		LastValidatedAt: m.lastValidatedAt,
		Reconnects:      m.reconnects,
	}
}

// KeepAlive probes the handle every interval until ctx is done. A failed
// probe marks the session lost and drops the handle, so the next
// GetConnection reconnects.
func (m *Manager) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.keepAliveOnce(ctx)
		}
	}
}

// Start runs KeepAlive in the background until ctx is cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.keepAliveCancel != nil || m.isClosed() {
		return
	}
	kctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.keepAliveCancel = cancel
	m.keepAliveDone = done
	go func() {
		defer close(done)
		m.KeepAlive(kctx)
	}()
}

// Close stops the keep-alive loop and releases the handle. Later calls
// report ErrClosed.
func (m *Manager) Close() error {
	m.connMu.Lock()
	cancel, done := m.keepAliveCancel, m.keepAliveDone
	m.keepAliveCancel, m.keepAliveDone = nil, nil
	m.connMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.stateMu.Lock()
	m.closed = true
	db := m.db
	m.db = nil
	m.stateMu.Unlock()

	if db != nil {
		return db.Close()
	}
	return nil
}

func (m *Manager) keepAliveOnce(ctx context.Context) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	db := m.current()
	if db == nil || m.isClosed() {
		return
	}
	if err := m.probeLocked(ctx, db); err != nil {
		m.log.Error().Err(err).Msg("keep-alive probe failed, dropping handle")
		m.dropLocked()
		return
	}
	m.log.Debug().Msg("keep-alive probe ok")
}

func (m *Manager) probeLocked(ctx context.Context, db *sql.DB) error {
	pctx, cancel := context.WithTimeout(ctx, m.probeWait)
	defer cancel()

	if err := m.probe(pctx, db); err != nil {
		m.metrics.IncrementProbeFailures()
		m.setLost(true)
		m.log.Warn().Err(err).Msg("backend probe failed")
		return err
	}

	m.stateMu.Lock()
	m.lost = false
	m.lastValidatedAt = m.now()
	m.stateMu.Unlock()
	m.metrics.SetSessionLost(false)
	return nil
}

func (m *Manager) connectLocked(ctx context.Context, throttled bool) (*sql.DB, error) {
	if throttled && !m.limiter.Allow() {
		m.setLost(true)
		return nil, fmt.Errorf("%w: reconnect throttled", sentinel.ErrUnavailable)
	}

	m.dropLocked()
	m.log.Info().Msg("establishing backend connection")

	db, err := m.open()
	if err != nil {
		m.setLost(true)
		return nil, fmt.Errorf("%w: open handle: %w", sentinel.ErrUnavailable, err)
	}
	if err := m.probeLocked(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: connect: %w", sentinel.ErrUnavailable, err)
	}

	m.stateMu.Lock()
	m.db = db
	m.reconnects++
	m.stateMu.Unlock()

	m.metrics.IncrementReconnects()
	m.log.Info().Msg("backend connection established")
	return db, nil
}

// dropLocked closes and forgets the current handle. The caller holds connMu.
func (m *Manager) dropLocked() {
	m.stateMu.Lock()
	db := m.db
	m.db = nil
	m.stateMu.Unlock()

	if db != nil {
		if err := db.Close(); err != nil {
			m.log.Warn().Err(err).Msg("failed to close backend handle")
		}
	}
}

func (m *Manager) current() *sql.DB {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.db
}

func (m *Manager) isClosed() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.closed
}

func (m *Manager) setLost(lost bool) {
	m.stateMu.Lock()
	m.lost = lost
	m.stateMu.Unlock()
	m.metrics.SetSessionLost(lost)
}

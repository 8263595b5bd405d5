// Package ledger exposes fraud attempts and vote statistics for the dashboard.
package ledger

import (
	"context"
	"time"

	"ballotdesk/internal/domain"
)

// DefaultRecentLimit bounds the fraud list shown on the dashboard.
const DefaultRecentLimit = 50

// Store is the subset of the SQL store the ledger reads and writes.
type Store interface {
	ListFraud(ctx context.Context, limit int) ([]domain.FraudRecord, error)
	ResolveFraud(ctx context.Context, id int64) (int64, error)
	Summary(ctx context.Context, dayStart, dayEnd time.Time) (domain.Summary, error)
	PartyTallies(ctx context.Context, dayStart, dayEnd time.Time) ([]domain.PartyTally, error)
}

// Ledger answers fraud and statistics queries.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock sets the time source used to derive "today".
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve marks an attempt resolved. Resolving twice is harmless: the second
// call reports zero affected rows and no error.
func (l *Ledger) Resolve(ctx context.Context, id int64) (int64, error) {
	return l.store.ResolveFraud(ctx, id)
}

// ListRecent returns the newest attempts first. A non-positive limit uses
// DefaultRecentLimit.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]domain.FraudRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return l.store.ListFraud(ctx, limit)
}

// Summary returns the dashboard headline for the current UTC day.
func (l *Ledger) Summary(ctx context.Context) (domain.Summary, error) {
	start, end := l.today()
	return l.store.Summary(ctx, start, end)
}

// PartyTallies returns per-party totals for the current UTC day.
func (l *Ledger) PartyTallies(ctx context.Context) ([]domain.PartyTally, error) {
	start, end := l.today()
	return l.store.PartyTallies(ctx, start, end)
}

// Stats combines Summary and PartyTallies under one notion of "today".
func (l *Ledger) Stats(ctx context.Context) (domain.Stats, error) {
	start, end := l.today()
	sum, err := l.store.Summary(ctx, start, end)
	if err != nil {
		return domain.Stats{}, err
	}
	parties, err := l.store.PartyTallies(ctx, start, end)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{Summary: sum, Parties: parties}, nil
}

// today returns the UTC calendar day containing now as [start, end).
func (l *Ledger) today() (time.Time, time.Time) {
	now := l.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

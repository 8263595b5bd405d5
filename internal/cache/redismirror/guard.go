package redismirror

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ballotdesk/internal/domain"
	"ballotdesk/pkg/platform/circuit"
	"ballotdesk/pkg/platform/sentinel"
)

// StatsPublisher is the write side of the mirror.
type StatsPublisher interface {
	PublishStats(ctx context.Context, stats domain.Stats) error
}

// Guarded skips publishing while Redis keeps failing, so a dead mirror does
// not hold a worker slot per refresh.
type Guarded struct {
	next    StatsPublisher
	breaker *circuit.Breaker
	log     zerolog.Logger
}

// NewGuarded wraps next with breaker.
func NewGuarded(next StatsPublisher, breaker *circuit.Breaker, log zerolog.Logger) *Guarded {
	return &Guarded{next: next, breaker: breaker, log: log}
}

// PublishStats forwards to the wrapped publisher unless the breaker is open.
func (g *Guarded) PublishStats(ctx context.Context, stats domain.Stats) error {
	if !g.breaker.Allow() {
		return fmt.Errorf("stats mirror paused: %w", sentinel.ErrUnavailable)
	}
	if err := g.next.PublishStats(ctx, stats); err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.log.Warn().Err(err).Str("breaker", g.breaker.Name()).Msg("stats mirror paused")
		}
		return err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.log.Info().Str("breaker", g.breaker.Name()).Msg("stats mirror resumed")
	}
	return nil
}

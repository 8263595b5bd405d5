package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Publisher stamps events and hands them to a Worker without blocking the
// caller. Every event is also written to the structured log.
type Publisher struct {
	inbox chan<- Event
	log   zerolog.Logger
	now   func() time.Time
}

// NewPublisher returns a Publisher feeding inbox.
func NewPublisher(inbox chan<- Event, log zerolog.Logger) *Publisher {
	return &Publisher{
		inbox: inbox,
		log:   log.With().Str("component", "audit").Logger(),
		now:   time.Now,
	}
}

// Emit never fails the calling operation; a full inbox drops the event after
// logging it.
func (p *Publisher) Emit(_ context.Context, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now().UTC()
	}
	if e.Category == "" {
		e.Category = e.Action.Category()
	}

	p.log.Info().
		Str("event_id", e.ID.String()).
		Str("category", string(e.Category)).
		Str("action", string(e.Action)).
		Str("actor_id", e.ActorID).
		Str("subject", e.Subject).
		Str("subject_id_hash", e.SubjectIDHash).
		Str("decision", e.Decision).
		Str("reason", e.Reason).
		Msg("audit event")

	select {
	case p.inbox <- e:
	default:
		p.log.Warn().Str("event_id", e.ID.String()).Msg("audit inbox full, event kept in log only")
	}
	return nil
}

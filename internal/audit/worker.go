package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Worker drains published events into the store.
type Worker struct {
	store Store
	inbox <-chan Event
	log   zerolog.Logger
}

func NewWorker(store Store, inbox <-chan Event, log zerolog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, log: log.With().Str("component", "audit_worker").Logger()}
}

// Run persists events until ctx is done or the inbox is closed. Store errors
// are logged and do not stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				w.log.Error().Err(err).Str("event_id", event.ID.String()).Msg("audit event not stored")
			}
		}
	}
}

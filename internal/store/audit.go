package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ballotdesk/internal/audit"
)

// AuditLog persists audit events in the AuditEvents table.
type AuditLog struct {
	store *Store
}

// NewAuditLog returns an audit.Store backed by s.
func NewAuditLog(s *Store) *AuditLog {
	return &AuditLog{store: s}
}

// Append inserts one event. Replays of an event ID are ignored.
func (l *AuditLog) Append(ctx context.Context, e audit.Event) (err error) {
	ctx, span := l.store.span(ctx, "append_audit", attribute.String("audit.action", string(e.Action)))
	defer func() { endSpan(span, err) }()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Category == "" {
		e.Category = e.Action.Category()
	}
	_, err = l.store.exec(ctx, `
		INSERT INTO AuditEvents (id, category, event_timestamp, action, actor_id,
			subject, subject_id_hash, decision, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, e.ID.String(), string(e.Category), e.Timestamp.UTC(), string(e.Action), e.ActorID,
		e.Subject, e.SubjectIDHash, e.Decision, e.Reason)
	if err != nil {
		return classify(err, "append audit event")
	}
	return nil
}

// ListRecent returns up to limit events, newest first. limit <= 0 returns all.
func (l *AuditLog) ListRecent(ctx context.Context, limit int) (events []audit.Event, err error) {
	ctx, span := l.store.span(ctx, "list_audit", attribute.Int("limit", limit))
	defer func() { endSpan(span, err) }()

	query := `
		SELECT id, category, event_timestamp, action, COALESCE(actor_id, ''),
			COALESCE(subject, ''), COALESCE(subject_id_hash, ''),
			COALESCE(decision, ''), COALESCE(reason, '')
		FROM AuditEvents
		ORDER BY event_timestamp DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.store.query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list audit events")
	}
	defer rows.Close()

	events = []audit.Event{}
	for rows.Next() {
		var (
			e        audit.Event
			id       string
			category string
			action   string
			at       time.Time
		)
		if err = rows.Scan(&id, &category, &at, &action, &e.ActorID,
			&e.Subject, &e.SubjectIDHash, &e.Decision, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse audit event id: %w", err)
		}
		e.Category = audit.Category(category)
		e.Action = audit.Action(action)
		e.Timestamp = at.UTC()
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"ballotdesk/internal/domain"
)

// ListFraud returns up to limit fraud attempts, newest first, with the voter's
// name when the voter still exists.
func (s *Store) ListFraud(ctx context.Context, limit int) (records []domain.FraudRecord, err error) {
	ctx, span := s.span(ctx, "list_fraud", attribute.Int("limit", limit))
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, `
		SELECT fa.id, fa.voter_id_number, COALESCE(v.name, ''), COALESCE(v.surname, ''),
			fa.attempt_type, fa.timestamp, COALESCE(fa.details, ''), fa.resolved, fa.attempt_count
		FROM FraudAttempts fa
		LEFT JOIN Voters v ON fa.voter_id_number = v.id_number
		ORDER BY fa.timestamp DESC, fa.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify(err, "list fraud")
	}
	defer rows.Close()

	records = []domain.FraudRecord{}
	for rows.Next() {
		var r domain.FraudRecord
		if err = rows.Scan(&r.ID, &r.VoterIDNumber, &r.VoterName, &r.VoterSurname,
			&r.AttemptType, &r.Timestamp, &r.Details, &r.Resolved, &r.AttemptCount); err != nil {
			return nil, fmt.Errorf("scan fraud attempt: %w", err)
		}
		records = append(records, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fraud attempts: %w", err)
	}
	return records, nil
}

// ResolveFraud marks one unresolved attempt as resolved and returns the number
// of rows changed. Zero means the attempt was already resolved or never existed.
func (s *Store) ResolveFraud(ctx context.Context, id int64) (n int64, err error) {
	ctx, span := s.span(ctx, "resolve_fraud", attribute.Int64("fraud.id", id))
	defer func() { endSpan(span, err) }()

	res, err := s.exec(ctx, `UPDATE FraudAttempts SET resolved = TRUE WHERE id = ? AND resolved = FALSE`, id)
	if err != nil {
		return 0, classify(err, "resolve fraud")
	}
	return rowsAffected(res)
}

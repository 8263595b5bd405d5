package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"ballotdesk/internal/domain"
	"ballotdesk/pkg/platform/sentinel"
)

// ListVoters returns every registered voter ordered by surname and name.
func (s *Store) ListVoters(ctx context.Context) (voters []domain.Voter, err error) {
	ctx, span := s.span(ctx, "list_voters")
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, `
		SELECT id_number, name, surname, fingerprint, has_voted
		FROM Voters
		ORDER BY surname, name, id_number
	`)
	if err != nil {
		return nil, classify(err, "list voters")
	}
	defer rows.Close()

	voters = []domain.Voter{}
	for rows.Next() {
		var v domain.Voter
		if err = rows.Scan(&v.IDNumber, &v.Name, &v.Surname, &v.Fingerprint, &v.HasVoted); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		voters = append(voters, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voters: %w", err)
	}
	return voters, nil
}

// VoterExists reports whether idNumber is already registered.
func (s *Store) VoterExists(ctx context.Context, idNumber string) (bool, error) {
	return s.idExists(ctx, "Voters", idNumber)
}

// InsertVoter registers a voter who has not yet voted. A duplicate ID returns
// sentinel.ErrConflict.
func (s *Store) InsertVoter(ctx context.Context, r domain.Registration) (err error) {
	ctx, span := s.span(ctx, "insert_voter")
	defer func() { endSpan(span, err) }()

	_, err = s.exec(ctx, `
		INSERT INTO Voters (fingerprint, name, surname, id_number, has_voted)
		VALUES (?, ?, ?, ?, FALSE)
	`, r.Fingerprint, r.Name, r.Surname, r.IDNumber)
	return classify(err, "insert voter")
}

// UpdateVoter renames a voter. A missing voter returns sentinel.ErrNotFound.
func (s *Store) UpdateVoter(ctx context.Context, idNumber, name, surname string) (err error) {
	ctx, span := s.span(ctx, "update_voter")
	defer func() { endSpan(span, err) }()

	res, err := s.exec(ctx, `UPDATE Voters SET name = ?, surname = ? WHERE id_number = ?`, name, surname, idNumber)
	if err != nil {
		return classify(err, "update voter")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update voter %s: %w", idNumber, sentinel.ErrNotFound)
	}
	return nil
}

// DeleteVoter removes the voter together with their votes and fraud records in
// one transaction.
func (s *Store) DeleteVoter(ctx context.Context, idNumber string) (err error) {
	ctx, span := s.span(ctx, "delete_voter")
	defer func() { endSpan(span, err) }()

	return s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, `DELETE FROM Votes WHERE voter_id_number = ?`, idNumber); err != nil {
			return classify(err, "delete voter votes")
		}
		if _, err := s.exec(ctx, `DELETE FROM FraudAttempts WHERE voter_id_number = ?`, idNumber); err != nil {
			return classify(err, "delete voter fraud attempts")
		}
		res, err := s.exec(ctx, `DELETE FROM Voters WHERE id_number = ?`, idNumber)
		if err != nil {
			return classify(err, "delete voter")
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("delete voter %s: %w", idNumber, sentinel.ErrNotFound)
		}
		return nil
	})
}

// ResetVotingStatus purges the voter's votes and clears has_voted in one
// transaction, allowing the voter to vote again.
func (s *Store) ResetVotingStatus(ctx context.Context, idNumber string) (err error) {
	ctx, span := s.span(ctx, "reset_voting_status")
	defer func() { endSpan(span, err) }()

	return s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, `DELETE FROM Votes WHERE voter_id_number = ?`, idNumber); err != nil {
			return classify(err, "reset voter votes")
		}
		res, err := s.exec(ctx, `UPDATE Voters SET has_voted = FALSE WHERE id_number = ?`, idNumber)
		if err != nil {
			return classify(err, "reset voting status")
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("reset voting status %s: %w", idNumber, sentinel.ErrNotFound)
		}
		return nil
	})
}

// idExists only accepts the fixed table names used by this package.
func (s *Store) idExists(ctx context.Context, table, idNumber string) (exists bool, err error) {
	ctx, span := s.span(ctx, "id_exists", attribute.String("db.table", table))
	defer func() { endSpan(span, err) }()

	var count int
	err = s.queryRow(ctx, []any{&count}, "SELECT COUNT(*) FROM "+table+" WHERE id_number = ?", idNumber)
	if err != nil {
		return false, classify(err, "check "+table+" id")
	}
	return count > 0, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"ballotdesk/internal/domain"
)

// Summary counts registered voters, vote rows, vote rows in [dayStart, dayEnd)
// and unresolved fraud attempts in a single round trip.
func (s *Store) Summary(ctx context.Context, dayStart, dayEnd time.Time) (sum domain.Summary, err error) {
	ctx, span := s.span(ctx, "summary")
	defer func() { endSpan(span, err) }()

	err = s.queryRow(ctx, []any{&sum.RegisteredVoters, &sum.TotalVotes, &sum.VotesToday, &sum.UnresolvedFraud}, `
		SELECT
			(SELECT COUNT(*) FROM Voters),
			(SELECT COUNT(*) FROM Votes),
			(SELECT COUNT(*) FROM Votes WHERE vote_timestamp >= ? AND vote_timestamp < ?),
			(SELECT COUNT(*) FROM FraudAttempts WHERE resolved = FALSE)
	`, dayStart, dayEnd)
	if err != nil {
		return domain.Summary{}, classify(err, "summary")
	}
	return sum, nil
}

// PartyTallies returns one row per party that appears on any ballot or in any
// vote, with total votes and votes in [dayStart, dayEnd), most votes first.
func (s *Store) PartyTallies(ctx context.Context, dayStart, dayEnd time.Time) (tallies []domain.PartyTally, err error) {
	ctx, span := s.span(ctx, "party_tallies")
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, `
		SELECT c.party_name, COALESCE(v.total_votes, 0) AS total_votes, COALESCE(v.today_votes, 0) AS votes_today
		FROM (
			SELECT party_name FROM Votes
			UNION SELECT party_name FROM NationalBallot
			UNION SELECT party_name FROM RegionalBallot
			UNION SELECT party_name FROM ProvincialBallot
		) c
		LEFT JOIN (
			SELECT party_name,
				COUNT(*) AS total_votes,
				SUM(CASE WHEN vote_timestamp >= ? AND vote_timestamp < ? THEN 1 ELSE 0 END) AS today_votes
			FROM Votes
			GROUP BY party_name
		) v ON c.party_name = v.party_name
		ORDER BY total_votes DESC, c.party_name
	`, dayStart, dayEnd)
	if err != nil {
		return nil, classify(err, "party tallies")
	}
	defer rows.Close()

	tallies = []domain.PartyTally{}
	for rows.Next() {
		var t domain.PartyTally
		if err = rows.Scan(&t.PartyName, &t.TotalVotes, &t.VotesToday); err != nil {
			return nil, fmt.Errorf("scan party tally: %w", err)
		}
		tallies = append(tallies, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate party tallies: %w", err)
	}
	return tallies, nil
}

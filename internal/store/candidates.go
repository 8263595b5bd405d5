package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"ballotdesk/internal/domain"
	"ballotdesk/pkg/platform/sentinel"
)

type ballotTable struct {
	name      string
	regionCol string
}

var ballotTables = map[domain.BallotCategory]ballotTable{
	domain.BallotNational:   {name: "NationalBallot"},
	domain.BallotRegional:   {name: "RegionalBallot", regionCol: "region"},
	domain.BallotProvincial: {name: "ProvincialBallot", regionCol: "province"},
}

func tableFor(category domain.BallotCategory) (ballotTable, error) {
	t, ok := ballotTables[category]
	if !ok {
		return ballotTable{}, fmt.Errorf("unknown ballot category %q", category)
	}
	return t, nil
}

// ListCandidates returns the ballot's candidates with the number of votes
// their party received on that ballot, most votes first.
func (s *Store) ListCandidates(ctx context.Context, category domain.BallotCategory) (out []domain.Candidate, err error) {
	ctx, span := s.span(ctx, "list_candidates", attribute.String("ballot.category", category.String()))
	defer func() { endSpan(span, err) }()

	t, err := tableFor(category)
	if err != nil {
		return nil, err
	}
	regionExpr := "''"
	if t.regionCol != "" {
		regionExpr = "c." + t.regionCol
	}

	rows, err := s.query(ctx, `
		SELECT c.party_name, c.candidate_name, `+regionExpr+`, COALESCE(v.vote_count, 0) AS votes
		FROM `+t.name+` c
		LEFT JOIN (
			SELECT party_name, COUNT(*) AS vote_count
			FROM Votes
			WHERE category = ?
			GROUP BY party_name
		) v ON c.party_name = v.party_name
		ORDER BY votes DESC, c.party_name, c.candidate_name
	`, category.String())
	if err != nil {
		return nil, classify(err, "list candidates")
	}
	defer rows.Close()

	out = []domain.Candidate{}
	for rows.Next() {
		c := domain.Candidate{Category: category}
		if err = rows.Scan(&c.PartyName, &c.CandidateName, &c.Region, &c.Votes); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// InsertCandidate adds the candidate to every ballot in c.Categories inside one
// transaction. Either all ballots receive the row or none do.
func (s *Store) InsertCandidate(ctx context.Context, c domain.NewCandidate) (err error) {
	ctx, span := s.span(ctx, "insert_candidate", attribute.Int("ballot.count", len(c.Categories)))
	defer func() { endSpan(span, err) }()

	return s.RunInTx(ctx, func(ctx context.Context) error {
		for _, category := range c.Categories {
			t, err := tableFor(category)
			if err != nil {
				return err
			}
			if t.regionCol == "" {
				_, err = s.exec(ctx, `
					INSERT INTO `+t.name+` (party_name, candidate_name, candidate_image, party_logo)
					VALUES (?, ?, ?, ?)
				`, c.PartyName, c.CandidateName, c.CandidateImage, c.PartyLogo)
			} else {
				_, err = s.exec(ctx, `
					INSERT INTO `+t.name+` (party_name, candidate_name, candidate_image, party_logo, `+t.regionCol+`)
					VALUES (?, ?, ?, ?, ?)
				`, c.PartyName, c.CandidateName, c.CandidateImage, c.PartyLogo, c.Region)
			}
			if err != nil {
				return classify(err, "insert candidate into "+t.name)
			}
		}
		return nil
	})
}

// UpdateCandidate renames the ballot row identified by key.
func (s *Store) UpdateCandidate(ctx context.Context, key domain.CandidateKey, upd domain.CandidateUpdate) (err error) {
	ctx, span := s.span(ctx, "update_candidate", attribute.String("ballot.category", key.Category.String()))
	defer func() { endSpan(span, err) }()

	t, err := tableFor(key.Category)
	if err != nil {
		return err
	}
	where, args := candidateWhere(t, key)
	args = append([]any{upd.PartyName, upd.CandidateName}, args...)

	res, err := s.exec(ctx, `UPDATE `+t.name+` SET party_name = ?, candidate_name = ? WHERE `+where, args...)
	if err != nil {
		return classify(err, "update candidate")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update candidate %s/%s: %w", key.PartyName, key.CandidateName, sentinel.ErrNotFound)
	}
	return nil
}

// DeleteCandidate removes the ballot row and every vote cast for that party on
// that ballot in one transaction.
func (s *Store) DeleteCandidate(ctx context.Context, key domain.CandidateKey) (err error) {
	ctx, span := s.span(ctx, "delete_candidate", attribute.String("ballot.category", key.Category.String()))
	defer func() { endSpan(span, err) }()

	t, err := tableFor(key.Category)
	if err != nil {
		return err
	}
	where, args := candidateWhere(t, key)

	return s.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx, `DELETE FROM `+t.name+` WHERE `+where, args...)
		if err != nil {
			return classify(err, "delete candidate")
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("delete candidate %s/%s: %w", key.PartyName, key.CandidateName, sentinel.ErrNotFound)
		}
		if _, err := s.exec(ctx, `DELETE FROM Votes WHERE party_name = ? AND category = ?`, key.PartyName, key.Category.String()); err != nil {
			return classify(err, "delete candidate votes")
		}
		return nil
	})
}

// candidateWhere matches on party and candidate, and on region when the ballot
// is regional and the key names one.
func candidateWhere(t ballotTable, key domain.CandidateKey) (string, []any) {
	where := "party_name = ? AND candidate_name = ?"
	args := []any{key.PartyName, key.CandidateName}
	if t.regionCol != "" && key.Region != "" {
		where += " AND " + t.regionCol + " = ?"
		args = append(args, key.Region)
	}
	return where, args
}

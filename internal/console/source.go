package console

import (
	"context"

	"ballotdesk/internal/domain"
)

// BackendReader is the read side of the store.
type BackendReader interface {
	ListCandidates(ctx context.Context, category domain.BallotCategory) ([]domain.Candidate, error)
	ListVoters(ctx context.Context) ([]domain.Voter, error)
}

// StatsReader is the read side of the ledger.
type StatsReader interface {
	Stats(ctx context.Context) (domain.Stats, error)
	ListRecent(ctx context.Context, limit int) ([]domain.FraudRecord, error)
}

// Source hydrates the cache from the store and the ledger.
type Source struct {
	backend BackendReader
	ledger  StatsReader
}

func NewSource(backend BackendReader, ledger StatsReader) *Source {
	return &Source{backend: backend, ledger: ledger}
}

func (s *Source) ListCandidates(ctx context.Context, category domain.BallotCategory) ([]domain.Candidate, error) {
	return s.backend.ListCandidates(ctx, category)
}

func (s *Source) ListVoters(ctx context.Context) ([]domain.Voter, error) {
	return s.backend.ListVoters(ctx)
}

func (s *Source) Stats(ctx context.Context) (domain.Stats, error) {
	return s.ledger.Stats(ctx)
}

// ListRecentFraud uses the ledger's default page.
func (s *Source) ListRecentFraud(ctx context.Context) ([]domain.FraudRecord, error) {
	return s.ledger.ListRecent(ctx, 0)
}

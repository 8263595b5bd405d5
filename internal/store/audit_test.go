package store

import (
	"time"

	"github.com/google/uuid"

	"ballotdesk/internal/audit"
)

// =============================================================================
// Audit log
// =============================================================================

func (s *StoreSuite) TestAuditLog_AppendAndListRecent() {
	log := NewAuditLog(s.store)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	first := audit.Event{ID: uuid.New(), Timestamp: base, Action: audit.ActionVoterRegistered, SubjectIDHash: audit.HashSubjectID("8001015009087")}
	second := audit.Event{ID: uuid.New(), Timestamp: base.Add(time.Minute), Action: audit.ActionAdminRejected, Decision: "rejected"}
	s.Require().NoError(log.Append(s.ctx, first))
	s.Require().NoError(log.Append(s.ctx, second))
	s.Require().NoError(log.Append(s.ctx, first), "replayed event id is ignored")

	events, err := log.ListRecent(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(second.ID, events[0].ID)
	s.Equal(audit.CategorySecurity, events[0].Category)
	s.Equal("rejected", events[0].Decision)
	s.Equal(first.SubjectIDHash, events[1].SubjectIDHash)
	s.Equal(audit.CategoryCompliance, events[1].Category)
	s.True(base.Equal(events[1].Timestamp))

	limited, err := log.ListRecent(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(limited, 1)
	s.Equal(second.ID, limited[0].ID)
}

func (s *StoreSuite) TestAuditLog_AssignsMissingID() {
	log := NewAuditLog(s.store)
	s.Require().NoError(log.Append(s.ctx, audit.Event{Timestamp: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), Action: audit.ActionLogout}))

	events, err := log.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.NotEqual(uuid.Nil, events[0].ID)
	s.Equal(audit.CategoryOperations, events[0].Category)
}

package httptransport

import (
	"ballotdesk/internal/audit"
	"ballotdesk/internal/console"
	"ballotdesk/internal/domain"
	"ballotdesk/internal/session"
)

// VoterResponse never carries the fingerprint template.
type VoterResponse struct {
	IDNumber       string `json:"id_number"`
	Name           string `json:"name"`
	Surname        string `json:"surname"`
	HasVoted       bool   `json:"has_voted"`
	HasFingerprint bool   `json:"has_fingerprint"`
}

func toVoterResponses(voters []domain.Voter) []VoterResponse {
	out := make([]VoterResponse, 0, len(voters))
	for _, v := range voters {
		out = append(out, VoterResponse{
			IDNumber:       v.IDNumber,
			Name:           v.Name,
			Surname:        v.Surname,
			HasVoted:       v.HasVoted,
			HasFingerprint: v.HasFingerprint(),
		})
	}
	return out
}

type LoginResponse struct {
	Matched  bool              `json:"matched"`
	Operator *console.Operator `json:"operator,omitempty"`
}

type EnrollResponse struct {
	Fingerprint []byte `json:"fingerprint"`
}

type ResolveResponse struct {
	Resolved bool `json:"resolved"`
}

type HealthResponse struct {
	Status  string         `json:"status"`
	Session session.Status `json:"session"`
}

type AuditResponse struct {
	Events []audit.Event `json:"events"`
}

package domain

import "time"

// FraudRecord is a recorded fraud attempt joined with the voter's identity.
// VoterName and VoterSurname are empty when the voter row no longer exists.
type FraudRecord struct {
	ID            int64     `json:"id"`
	VoterIDNumber string    `json:"voter_id_number"`
	VoterName     string    `json:"voter_name"`
	VoterSurname  string    `json:"voter_surname"`
	AttemptType   string    `json:"attempt_type"`
	Timestamp     time.Time `json:"timestamp"`
	Details       string    `json:"details"`
	Resolved      bool      `json:"resolved"`
	AttemptCount  int       `json:"attempt_count"`
}

// PartyTally aggregates votes for one party across all ballots.
type PartyTally struct {
	PartyName  string `json:"party_name"`
	TotalVotes int    `json:"total_votes"`
	VotesToday int    `json:"votes_today"`
}

// Summary is the dashboard headline.
//
// TotalVotes counts vote rows, one per ballot cast, so it equals the sum of
// PartyTally.TotalVotes.
type Summary struct {
	RegisteredVoters int `json:"registered_voters"`
	TotalVotes       int `json:"total_votes"`
	VotesToday       int `json:"votes_today"`
	UnresolvedFraud  int `json:"unresolved_fraud"`
}

// Stats is the cached statistics domain: the headline plus per-party tallies.
type Stats struct {
	Summary Summary      `json:"summary"`
	Parties []PartyTally `json:"parties"`
}

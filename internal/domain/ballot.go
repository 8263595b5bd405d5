package domain

import "fmt"

// BallotCategory names one of the three ballots a voter casts.
type BallotCategory string

const (
	BallotNational   BallotCategory = "National"
	BallotRegional   BallotCategory = "Regional"
	BallotProvincial BallotCategory = "Provincial"
)

// IndependentParty is the party name recorded for candidates without a party.
const IndependentParty = "Independent"

// BallotCategories lists every category in display order.
func BallotCategories() []BallotCategory {
	return []BallotCategory{BallotNational, BallotRegional, BallotProvincial}
}

// ParseBallotCategory accepts the category name case-sensitively.
func ParseBallotCategory(s string) (BallotCategory, error) {
	switch BallotCategory(s) {
	case BallotNational, BallotRegional, BallotProvincial:
		return BallotCategory(s), nil
	}
	return "", fmt.Errorf("unknown ballot category %q", s)
}

// RequiresRegion reports whether candidates on this ballot are scoped to a region or province.
func (c BallotCategory) RequiresRegion() bool {
	return c == BallotRegional || c == BallotProvincial
}

func (c BallotCategory) String() string {
	return string(c)
}

// Candidate is one row of a ballot table with its read-side vote tally.
type Candidate struct {
	PartyName     string         `json:"party_name"`
	CandidateName string         `json:"candidate_name"`
	Category      BallotCategory `json:"category"`
	// Region holds the region or province; empty on the national ballot.
	Region string `json:"region,omitempty"`
	Votes  int    `json:"votes"`
}

// NewCandidate is the input for adding a candidate to one or more ballots.
type NewCandidate struct {
	PartyName      string
	CandidateName  string
	CandidateImage []byte
	PartyLogo      []byte
	Independent    bool
	Categories     []BallotCategory
	Region         string
}

// CandidateKey identifies one ballot row.
type CandidateKey struct {
	Category      BallotCategory
	PartyName     string
	CandidateName string
	Region        string
}

// CandidateUpdate renames a ballot row.
type CandidateUpdate struct {
	PartyName     string
	CandidateName string
}

package httptransport

import (
	"ballotdesk/internal/domain"
	strutil "ballotdesk/pkg/platform/strings"
)

// RegistrationRequest registers a voter or an administrator. Fingerprint is
// the base64 template returned by POST /api/enroll.
type RegistrationRequest struct {
	IDNumber    string `json:"id_number"`
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	Fingerprint []byte `json:"fingerprint"`
}

func (r RegistrationRequest) toDomain() domain.Registration {
	return domain.Registration{
		IDNumber:    r.IDNumber,
		Name:        r.Name,
		Surname:     r.Surname,
		Fingerprint: r.Fingerprint,
	}
}

type UpdateVoterRequest struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
}

type AddCandidateRequest struct {
	PartyName      string   `json:"party_name"`
	CandidateName  string   `json:"candidate_name"`
	CandidateImage []byte   `json:"candidate_image,omitempty"`
	PartyLogo      []byte   `json:"party_logo,omitempty"`
	Independent    bool     `json:"independent"`
	Categories     []string `json:"categories"`
	Region         string   `json:"region,omitempty"`
}

func (r AddCandidateRequest) toDomain() domain.NewCandidate {
	picked := strutil.DedupeAndTrim(r.Categories)
	cats := make([]domain.BallotCategory, 0, len(picked))
	for _, c := range picked {
		cats = append(cats, domain.BallotCategory(c))
	}
	return domain.NewCandidate{
		PartyName:      r.PartyName,
		CandidateName:  r.CandidateName,
		CandidateImage: r.CandidateImage,
		PartyLogo:      r.PartyLogo,
		Independent:    r.Independent,
		Categories:     cats,
		Region:         r.Region,
	}
}

// CandidateRequest identifies a ballot row; the category comes from the path.
// NewPartyName and NewCandidateName are only read by updates.
type CandidateRequest struct {
	PartyName        string `json:"party_name"`
	CandidateName    string `json:"candidate_name"`
	Region           string `json:"region,omitempty"`
	NewPartyName     string `json:"new_party_name,omitempty"`
	NewCandidateName string `json:"new_candidate_name,omitempty"`
}

func (r CandidateRequest) key(category string) domain.CandidateKey {
	return domain.CandidateKey{
		Category:      domain.BallotCategory(category),
		PartyName:     r.PartyName,
		CandidateName: r.CandidateName,
		Region:        r.Region,
	}
}

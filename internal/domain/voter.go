package domain

// Voter is one registered voter row.
type Voter struct {
	IDNumber    string
	Name        string
	Surname     string
	Fingerprint []byte
	HasVoted    bool
}

// HasFingerprint reports whether a template was enrolled.
func (v Voter) HasFingerprint() bool {
	return len(v.Fingerprint) > 0
}

// AdminTemplate is an enrolled administrator as seen by the authentication path.
type AdminTemplate struct {
	IDNumber string
	Name     string
	Surname  string
	Template []byte
}

// Registration carries the fields required to register a voter or an administrator.
type Registration struct {
	IDNumber    string
	Name        string
	Surname     string
	Fingerprint []byte
}

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Category classifies events for retention and routing.
type Category string

const (
	// CategoryCompliance covers changes to the voter roll, ballots and admins.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers verification outcomes and fraud handling.
	CategorySecurity Category = "security"
	// CategoryOperations covers session and maintenance actions.
	CategoryOperations Category = "operations"
)

// Action names an audited operation.
type Action string

const (
	ActionAdminVerified      Action = "admin_verified"
	ActionAdminRejected      Action = "admin_rejected"
	ActionVerificationFailed Action = "verification_failed"
	ActionAdminRegistered    Action = "admin_registered"
	ActionVoterRegistered    Action = "voter_registered"
	ActionVoterUpdated       Action = "voter_updated"
	ActionVoterDeleted       Action = "voter_deleted"
	ActionVotingReset        Action = "voting_status_reset"
	ActionCandidateAdded     Action = "candidate_added"
	ActionCandidateUpdated   Action = "candidate_updated"
	ActionCandidateDeleted   Action = "candidate_deleted"
	ActionFraudResolved      Action = "fraud_resolved"
	ActionLogout             Action = "logout"
)

var actionCategories = map[Action]Category{
	ActionAdminVerified:      CategorySecurity,
	ActionAdminRejected:      CategorySecurity,
	ActionVerificationFailed: CategorySecurity,
	ActionFraudResolved:      CategorySecurity,

	ActionAdminRegistered:  CategoryCompliance,
	ActionVoterRegistered:  CategoryCompliance,
	ActionVoterUpdated:     CategoryCompliance,
	ActionVoterDeleted:     CategoryCompliance,
	ActionVotingReset:      CategoryCompliance,
	ActionCandidateAdded:   CategoryCompliance,
	ActionCandidateUpdated: CategoryCompliance,
	ActionCandidateDeleted: CategoryCompliance,
}

// Category returns the category for a; unknown actions are operational.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is emitted after an operation completes. It never carries raw identity
// numbers; SubjectIDHash links events about the same person.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Category      Category  `json:"category"`
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	ActorID       string    `json:"actor_id,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	SubjectIDHash string    `json:"subject_id_hash,omitempty"`
	Decision      string    `json:"decision,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// HashSubjectID returns the hex SHA-256 of an identity number.
func HashSubjectID(idNumber string) string {
	if idNumber == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(idNumber))
	return hex.EncodeToString(sum[:])
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipationStatus is the lifecycle state of a participation request.
type ParticipationStatus string

const (
	ParticipationPending  ParticipationStatus = "PENDING"
	ParticipationApproved ParticipationStatus = "APPROVED"
	ParticipationRejected ParticipationStatus = "REJECTED"
	ParticipationExcluded ParticipationStatus = "EXCLUDED"
	ParticipationBlocked  ParticipationStatus = "BLOCKED"
)

// Participation is a user's request to join an activity. At most one row exists
// per (activity, user); the activity creator is never represented as a row.
type Participation struct {
	ID          uuid.UUID           `json:"id"`
	ActivityID  uuid.UUID           `json:"activity_id"`
	UserID      uuid.UUID           `json:"user_id"`
	Status      ParticipationStatus `json:"status"`
	RequestedAt time.Time           `json:"requested_at"`
	RespondedAt *time.Time          `json:"responded_at,omitempty"`
	DenialCount *int                `json:"denial_count,omitempty"`
}

// Denials returns the effective denial count. Rows written before the counter
// existed carry NULL; the count is then inferred from the status.
func (p *Participation) Denials() int {
	if p.DenialCount != nil {
		return *p.DenialCount
	}
	switch p.Status {
	case ParticipationBlocked:
		return 2
	case ParticipationRejected, ParticipationExcluded:
		return 1
	default:
		return 0
	}
}

// ParticipantView is a participation row joined with user details, for
// organizer request lists and participant lists.
type ParticipantView struct {
	ID          uuid.UUID           `json:"id"`
	ActivityID  uuid.UUID           `json:"activity_id"`
	UserID      uuid.UUID           `json:"user_id"`
	FullName    string              `json:"full_name"`
	AvatarURL   string              `json:"avatar_url,omitempty"`
	Status      ParticipationStatus `json:"status"`
	RequestedAt time.Time           `json:"requested_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant roles within a meeting.
const (
	ParticipantRoleHost  = "HOST"
	ParticipantRoleGuest = "GUEST"
)

// Meeting is a scheduled or instant podcast session.
type Meeting struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	HostID      uuid.UUID  `json:"host_id"`
	InviteCode  string     `json:"invite_code,omitempty"`
	Status      string     `json:"status"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Participant links a user to a meeting.
type Participant struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

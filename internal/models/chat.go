package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one persisted chat line of a meeting.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	MeetingID uuid.UUID `json:"meeting_id"`
	UserID    uuid.UUID `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus is the lifecycle of a recording artifact.
const (
	RecordingStatusProcessing = "PROCESSING"
	RecordingStatusReady      = "READY"
	RecordingStatusFailed     = "FAILED"
)

// Recording is the server-owned artifact of one meeting recording. FileURL
// holds the object key in the recordings bucket.
type Recording struct {
	ID              uuid.UUID `json:"id"`
	MeetingID       uuid.UUID `json:"meeting_id"`
	FileURL         string    `json:"file_url,omitempty"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	DurationSeconds int       `json:"duration_seconds"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Downloadable reports whether a download link may be generated.
func (r *Recording) Downloadable() bool {
	return r != nil && r.Status == RecordingStatusReady && r.FileURL != ""
}

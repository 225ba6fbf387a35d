package recording

import (
	"strings"
	"time"
)

// Config configures a Controller.
type Config struct {
	MeetingID    string
	PartSize     int
	EmitInterval time.Duration
	Outbox       OutboxConfig
	// SpoolDir holds the on-disk copy of the recording; "" uses os.TempDir.
	SpoolDir string
	// SpoolInMemory keeps the copy in memory instead of on disk.
	SpoolInMemory bool
}

// DefaultConfig returns the defaults for recording meetingID.
func DefaultConfig(meetingID string) Config {
	return Config{
		MeetingID:    meetingID,
		PartSize:     DefaultPartSize,
		EmitInterval: time.Second,
		Outbox:       DefaultOutboxConfig(),
	}
}

// FallbackFileName names the locally saved copy of a recording.
func FallbackFileName(meetingID string, t time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05Z07:00"))
	return "recording-" + meetingID + "-" + stamp + ".webm"
}

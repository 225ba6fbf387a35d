package storage

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

const (
	// FolderRecordings is the S3 prefix for recording objects.
	FolderRecordings = "recordings"
	// MaxPartNumber is the highest part number multipart stores accept.
	MaxPartNumber = 10000
)

// RecordingKey returns the object key recordings/{meetingId}/{timestamp}.webm.
func RecordingKey(meetingID string, t time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	return path.Join(FolderRecordings, meetingID, stamp+".webm")
}

// MeetingIDFromKey extracts the meeting ID from a key produced by RecordingKey.
func MeetingIDFromKey(key string) (string, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != FolderRecordings || parts[1] == "" || !strings.HasSuffix(parts[2], ".webm") {
		return "", fmt.Errorf("not a recording key: %q", key)
	}
	return parts[1], nil
}

func bytesReader(b []byte) io.ReadSeeker {
	return bytes.NewReader(b)
}

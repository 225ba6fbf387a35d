// Package recording buffers captured media into numbered parts, streams them
// through a multipart upload session and finalizes the recording remotely, or
// saves it locally when the remote path cannot be completed.
package recording

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState   = errors.New("recording: invalid session state")
	ErrPartOutOfOrder = errors.New("recording: part out of order")
	ErrBufferFrozen   = errors.New("recording: buffer frozen")
	ErrOutboxFull     = errors.New("recording: too many parts pending upload")
	ErrOutboxClosed   = errors.New("recording: outbox closed")
	ErrBusy           = errors.New("recording: a recording is already in progress")
	ErrNotCapturing   = errors.New("recording: not capturing")
)

// AuthorizationError means the caller has no valid session or is not a member
// of the meeting. It is never retried.
type AuthorizationError struct {
	Status int
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized (status %d): %v", e.Status, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// RejectedError is a request the server refused as invalid. Retrying the same
// request cannot succeed.
type RejectedError struct {
	Status int
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected (status %d): %v", e.Status, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// InitializationError means the remote multipart upload could not be created.
type InitializationError struct {
	MeetingID string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize upload for meeting %s: %v", e.MeetingID, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TransferError is a failed attempt to upload one part.
type TransferError struct {
	PartNumber int32
	Attempt    int
	Err        error
}

func (e *TransferError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("transfer part %d (attempt %d): %v", e.PartNumber, e.Attempt, e.Err)
	}
	return fmt.Sprintf("transfer part %d: %v", e.PartNumber, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// FinalizationError means the remote store did not assemble the object.
type FinalizationError struct {
	Err error
}

func (e *FinalizationError) Error() string { return "finalize upload: " + e.Err.Error() }

func (e *FinalizationError) Unwrap() error { return e.Err }

// CaptureAcquisitionError means no media could be captured at all.
type CaptureAcquisitionError struct {
	Err error
}

func (e *CaptureAcquisitionError) Error() string { return "acquire capture: " + e.Err.Error() }

func (e *CaptureAcquisitionError) Unwrap() error { return e.Err }

// permanent reports whether err can never succeed on retry.
func permanent(err error) bool {
	var authErr *AuthorizationError
	var rejected *RejectedError
	return errors.As(err, &authErr) || errors.As(err, &rejected)
}

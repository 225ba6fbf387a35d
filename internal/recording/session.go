package recording

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// InitResult identifies a freshly created remote multipart upload.
type InitResult struct {
	UploadID    string `json:"uploadId"`
	Key         string `json:"key"`
	RecordingID string `json:"recordingId"`
}

// Receipt acknowledges one uploaded part.
type Receipt struct {
	ETag       string `json:"etag"`
	PartNumber int32  `json:"partNumber"`
}

// CompleteRequest asks the server to assemble the uploaded parts.
type CompleteRequest struct {
	UploadID        string    `json:"uploadId"`
	Key             string    `json:"key"`
	MeetingID       string    `json:"meetingId"`
	Parts           []Receipt `json:"parts"`
	FileSizeBytes   *int64    `json:"fileSizeBytes,omitempty"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
}

// CompleteResult describes the assembled recording.
type CompleteResult struct {
	Location    string `json:"location"`
	DownloadURL string `json:"downloadUrl"`
}

// Remote is the server side of the multipart upload protocol.
type Remote interface {
	InitUpload(ctx context.Context, meetingID string) (*InitResult, error)
	UploadPart(ctx context.Context, uploadID, key string, partNumber int32, body []byte) (*Receipt, error)
	CompleteUpload(ctx context.Context, req CompleteRequest) (*CompleteResult, error)
	AbortUpload(ctx context.Context, uploadID, key, meetingID string) error
}

// SessionState is the lifecycle state of an UploadSession.
type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionInitializing
	SessionActive
	SessionFinalizing
	SessionComplete
	SessionAborting
	SessionAborted
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "UNINITIALIZED"
	case SessionInitializing:
		return "INITIALIZING"
	case SessionActive:
		return "ACTIVE"
	case SessionFinalizing:
		return "FINALIZING"
	case SessionComplete:
		return "COMPLETE"
	case SessionAborting:
		return "ABORTING"
	case SessionAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

func (s SessionState) terminal() bool {
	return s == SessionComplete || s == SessionAborted
}

// FinalizeMeta is optional metadata recorded with the finished recording.
type FinalizeMeta struct {
	FileSizeBytes   int64
	DurationSeconds int
}

// UploadSession tracks one multipart upload: the identifiers the server
// issued, the part number expected next and the receipts collected so far.
type UploadSession struct {
	remote    Remote
	meetingID string
	logger    *zap.Logger

	mu            sync.Mutex
	state         SessionState
	uploadID      string
	key           string
	recordingID   string
	nextPart      int32
	parts         []Receipt
	uploadedBytes int64
}

// NewUploadSession returns an uninitialized session for meetingID.
func NewUploadSession(remote Remote, meetingID string, logger *zap.Logger) *UploadSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadSession{remote: remote, meetingID: meetingID, logger: logger, nextPart: 1}
}

// Initialize creates the remote multipart upload. On failure the session is
// ABORTED and the error is an *InitializationError.
func (s *UploadSession) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionUninitialized {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: initialize in %s", ErrInvalidState, st)
	}
	s.state = SessionInitializing
	s.mu.Unlock()

	res, err := s.remote.InitUpload(ctx, s.meetingID)
	if err == nil && (res == nil || res.UploadID == "" || res.Key == "") {
		err = fmt.Errorf("server returned no upload id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = SessionAborted
		return &InitializationError{MeetingID: s.meetingID, Err: err}
	}
	s.uploadID, s.key, s.recordingID = res.UploadID, res.Key, res.RecordingID
	s.state = SessionActive
	s.logger.Info("upload session initialized", zap.String("meeting_id", s.meetingID), zap.String("key", s.key))
	return nil
}

// TransferPart uploads p, which must carry the next expected part number.
// A failed transfer leaves the session unchanged so the same part can be
// retried; the error is a *TransferError.
func (s *UploadSession) TransferPart(ctx context.Context, p Part) (Receipt, error) {
	s.mu.Lock()
	if s.state != SessionActive {
		st := s.state
		s.mu.Unlock()
		return Receipt{}, fmt.Errorf("%w: transfer in %s", ErrInvalidState, st)
	}
	if p.Number != s.nextPart {
		want := s.nextPart
		s.mu.Unlock()
		return Receipt{}, fmt.Errorf("%w: got part %d, want %d", ErrPartOutOfOrder, p.Number, want)
	}
	uploadID, key := s.uploadID, s.key
	s.mu.Unlock()

	r, err := s.remote.UploadPart(ctx, uploadID, key, p.Number, p.Data)
	if err == nil && (r == nil || r.ETag == "") {
		err = fmt.Errorf("server returned no etag")
	}
	if err != nil {
		return Receipt{}, &TransferError{PartNumber: p.Number, Err: err}
	}

	receipt := Receipt{ETag: r.ETag, PartNumber: p.Number}
	s.mu.Lock()
	s.parts = append(s.parts, receipt)
	s.nextPart++
	s.uploadedBytes += int64(len(p.Data))
	s.mu.Unlock()
	return receipt, nil
}

// Finalize asks the server to assemble every acknowledged part in ascending
// part number. On failure the session stays FINALIZING and the error is a
// *FinalizationError; the caller is expected to Abort.
func (s *UploadSession) Finalize(ctx context.Context, meta FinalizeMeta) (*CompleteResult, error) {
	s.mu.Lock()
	if s.state != SessionActive {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: finalize in %s", ErrInvalidState, st)
	}
	if len(s.parts) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: finalize without parts", ErrInvalidState)
	}
	s.state = SessionFinalizing
	req := CompleteRequest{
		UploadID:  s.uploadID,
		Key:       s.key,
		MeetingID: s.meetingID,
		Parts:     sortedReceipts(s.parts),
	}
	s.mu.Unlock()

	if meta.FileSizeBytes > 0 {
		size := meta.FileSizeBytes
		req.FileSizeBytes = &size
	}
	if meta.DurationSeconds > 0 {
		d := meta.DurationSeconds
		req.DurationSeconds = &d
	}

	res, err := s.remote.CompleteUpload(ctx, req)
	if err != nil {
		return nil, &FinalizationError{Err: err}
	}

	s.mu.Lock()
	s.state = SessionComplete
	s.mu.Unlock()
	s.logger.Info("upload session finalized", zap.String("key", req.Key), zap.Int("parts", len(req.Parts)))
	return res, nil
}

// Abort discards the remote upload. It is best-effort: a failed abort is
// logged and the session is ABORTED anyway. Abort in a terminal state is a no-op.
func (s *UploadSession) Abort(ctx context.Context) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	hasUpload := s.uploadID != ""
	s.state = SessionAborting
	uploadID, key := s.uploadID, s.key
	s.mu.Unlock()

	if hasUpload {
		if err := s.remote.AbortUpload(ctx, uploadID, key, s.meetingID); err != nil {
			s.logger.Warn("abort upload failed", zap.String("key", key), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.state = SessionAborted
	s.mu.Unlock()
}

func (s *UploadSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *UploadSession) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *UploadSession) RecordingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordingID
}

// Parts returns the acknowledged receipts in acknowledgment order.
func (s *UploadSession) Parts() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Receipt, len(s.parts))
	copy(out, s.parts)
	return out
}

func (s *UploadSession) UploadedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadedBytes
}

func (s *UploadSession) NextPartNumber() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPart
}

func sortedReceipts(parts []Receipt) []Receipt {
	out := make([]Receipt, len(parts))
	copy(out, parts)
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}

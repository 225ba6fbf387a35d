package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jagrut-bhole/podcast/internal/meetings"
	"github.com/jagrut-bhole/podcast/internal/middleware"
	"github.com/jagrut-bhole/podcast/internal/models"
	"github.com/jagrut-bhole/podcast/internal/realtime"
	"github.com/jagrut-bhole/podcast/pkg/queue"
	"github.com/jagrut-bhole/podcast/pkg/response"
	"github.com/jagrut-bhole/podcast/pkg/storage"
)

// Store is the recording persistence the handler needs.
type Store interface {
	UpsertProcessing(ctx context.Context, meetingID uuid.UUID, key string) (*models.Recording, error)
	MarkReady(ctx context.Context, meetingID uuid.UUID, key string, sizeBytes *int64, durationSeconds *int) error
	MarkFailed(ctx context.Context, meetingID uuid.UUID) error
	GetByMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Recording, error)
}

// MeetingService authorizes meeting access and stores the shareable link.
type MeetingService interface {
	Authorize(ctx context.Context, meetingID, userID uuid.UUID) (*models.Meeting, error)
	SetDownloadURL(ctx context.Context, meetingID uuid.UUID, url string) error
}

// ObjectStore is the multipart object storage used for recordings.
type ObjectStore interface {
	CreateMultipartUpload(ctx context.Context, meetingID string) (*storage.MultipartUpload, error)
	UploadPart(ctx context.Context, uploadID, key string, partNumber int32, body []byte) (*storage.Part, error)
	CompleteMultipartUpload(ctx context.Context, uploadID, key string, parts []storage.Part) (*storage.CompletedUpload, error)
	AbortMultipartUpload(ctx context.Context, uploadID, key string) error
	PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	UploadObject(ctx context.Context, meetingID string, body io.Reader, size int64) (string, error)
}

// CleanupQueue schedules abort retries for the worker.
type CleanupQueue interface {
	EnqueueAbortUpload(ctx context.Context, payload queue.AbortUploadPayload) error
}

// StatusPublisher announces recording status changes to meeting clients.
type StatusPublisher interface {
	PublishRecordingStatus(ev realtime.RecordingStatusEvent)
}

// Config holds handler limits and link lifetimes.
type Config struct {
	FinalizeLinkTTL time.Duration
	DownloadLinkTTL time.Duration
	MaxChunkBytes   int64
	// RecoverTimeout replaces the server read and write timeouts for recovery
	// uploads. Zero removes them.
	RecoverTimeout time.Duration
}

// Handler handles recording upload and download endpoints.
type Handler struct {
	repo      Store
	meetings  MeetingService
	s3        ObjectStore
	cfg       Config
	cleanup   CleanupQueue    // optional: failed aborts are retried by the worker
	publisher StatusPublisher // optional: status feed for meeting clients
	logger    *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(repo Store, meetingSvc MeetingService, s3 ObjectStore, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FinalizeLinkTTL <= 0 {
		cfg.FinalizeLinkTTL = 7 * 24 * time.Hour
	}
	if cfg.DownloadLinkTTL <= 0 {
		cfg.DownloadLinkTTL = time.Hour
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = 64 << 20
	}
	return &Handler{repo: repo, meetings: meetingSvc, s3: s3, cfg: cfg, logger: logger}
}

// SetCleanupQueue sets the queue used to retry aborts that failed on the request path.
func (h *Handler) SetCleanupQueue(q CleanupQueue) { h.cleanup = q }

// SetStatusPublisher sets the publisher for recording status events.
func (h *Handler) SetStatusPublisher(p StatusPublisher) { h.publisher = p }

type initRequest struct {
	MeetingID string `json:"meetingId"`
}

// Init handles POST /upload-video/init. Authorization is checked before any storage call.
func (h *Handler) Init(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MeetingID == "" {
		response.BadRequest(c, "meetingId is required")
		return
	}
	meetingID, err := uuid.Parse(req.MeetingID)
	if err != nil {
		response.BadRequest(c, "invalid meetingId")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.meetings.Authorize(ctx, meetingID, userID); err != nil {
		meetings.RespondError(c, err)
		return
	}

	upload, err := h.s3.CreateMultipartUpload(ctx, meetingID.String())
	if err != nil {
		h.logger.Error("create multipart upload failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to initialize upload")
		return
	}
	rec, err := h.repo.UpsertProcessing(ctx, meetingID, upload.Key)
	if err != nil {
		h.logger.Error("upsert recording failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		h.abort(ctx, upload.UploadID, upload.Key, meetingID)
		response.Internal(c, "failed to initialize upload")
		return
	}
	uploadsStarted.Inc()
	h.publish(meetingID, models.RecordingStatusProcessing, "")
	h.logger.Info("recording upload initialized",
		zap.String("meeting_id", meetingID.String()),
		zap.String("key", upload.Key),
		zap.String("recording_id", rec.ID.String()),
	)
	response.Flat(c, gin.H{"uploadId": upload.UploadID, "key": upload.Key, "recordingId": rec.ID})
}

// Chunk handles POST /upload-video/chunk (multipart form: uploadId, key, partNumber, chunk).
func (h *Handler) Chunk(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxChunkBytes)
	if err := c.Request.ParseMultipartForm(h.cfg.MaxChunkBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(c, "chunk too large")
			return
		}
		response.BadRequest(c, "invalid multipart form")
		return
	}
	uploadID := c.PostForm("uploadId")
	key := c.PostForm("key")
	partNumber, err := strconv.Atoi(c.PostForm("partNumber"))
	file, _, fileErr := c.Request.FormFile("chunk")
	if fileErr == nil {
		defer file.Close()
	}
	if uploadID == "" || key == "" || err != nil || fileErr != nil {
		response.BadRequest(c, "missing required fields")
		return
	}
	if partNumber < 1 || partNumber > storage.MaxPartNumber {
		response.BadRequest(c, fmt.Sprintf("partNumber must be between 1 and %d", storage.MaxPartNumber))
		return
	}
	meetingID, ok := meetingFromKey(c, key)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.meetings.Authorize(ctx, meetingID, userID); err != nil {
		meetings.RespondError(c, err)
		return
	}

	body, err := io.ReadAll(file)
	if err != nil || len(body) == 0 {
		response.BadRequest(c, "empty chunk")
		return
	}
	start := time.Now()
	part, err := h.s3.UploadPart(ctx, uploadID, key, int32(partNumber), body)
	partDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		partsUploaded.WithLabelValues("error").Inc()
		h.logger.Error("upload part failed", zap.Error(err), zap.String("key", key), zap.Int("part_number", partNumber))
		response.Internal(c, "failed to upload chunk")
		return
	}
	partsUploaded.WithLabelValues("ok").Inc()
	partBytes.Add(float64(len(body)))
	response.Flat(c, gin.H{"etag": part.ETag, "partNumber": part.PartNumber})
}

type completeRequest struct {
	UploadID        string         `json:"uploadId"`
	Key             string         `json:"key"`
	Parts           []storage.Part `json:"parts"`
	MeetingID       string         `json:"meetingId"`
	FileSizeBytes   *int64         `json:"fileSizeBytes"`
	DurationSeconds *int           `json:"durationSeconds"`
}

// Complete handles POST /upload-video/complete. A failed assembly aborts the
// upload and marks the recording FAILED so no half-finished object remains.
func (h *Handler) Complete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UploadID == "" || req.Key == "" || req.MeetingID == "" || len(req.Parts) == 0 {
		response.BadRequest(c, "missing required fields")
		return
	}
	meetingID, err := uuid.Parse(req.MeetingID)
	if err != nil {
		response.BadRequest(c, "invalid meetingId")
		return
	}
	keyMeeting, ok := meetingFromKey(c, req.Key)
	if !ok {
		return
	}
	if keyMeeting != meetingID {
		response.BadRequest(c, "key does not belong to meeting")
		return
	}
	if err := validateParts(req.Parts); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if _, err := h.meetings.Authorize(ctx, meetingID, userID); err != nil {
		meetings.RespondError(c, err)
		return
	}

	done, err := h.s3.CompleteMultipartUpload(ctx, req.UploadID, req.Key, req.Parts)
	if err != nil {
		finalizations.WithLabelValues("error").Inc()
		h.logger.Error("complete multipart upload failed", zap.Error(err), zap.String("key", req.Key), zap.Int("parts", len(req.Parts)))
		h.abort(ctx, req.UploadID, req.Key, meetingID)
		h.markFailed(ctx, meetingID)
		response.Internal(c, "failed to complete upload")
		return
	}
	if err := h.repo.MarkReady(ctx, meetingID, req.Key, req.FileSizeBytes, req.DurationSeconds); err != nil {
		finalizations.WithLabelValues("error").Inc()
		h.logger.Error("mark recording ready failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		h.markFailed(ctx, meetingID)
		response.Internal(c, "failed to complete upload")
		return
	}
	finalizations.WithLabelValues("ok").Inc()

	// The recording is READY either way; /download-meeting mints a link later.
	downloadURL, err := h.shareLink(ctx, meetingID, req.Key)
	if err != nil {
		h.logger.Error("presign finalized recording failed", zap.Error(err), zap.String("key", req.Key))
	}
	h.publish(meetingID, models.RecordingStatusReady, downloadURL)
	h.logger.Info("recording finalized",
		zap.String("meeting_id", meetingID.String()),
		zap.String("key", req.Key),
		zap.Int("parts", len(req.Parts)),
	)
	response.Flat(c, gin.H{"location": done.Location, "downloadUrl": downloadURL})
}

type abortRequest struct {
	UploadID  string `json:"uploadId"`
	Key       string `json:"key"`
	MeetingID string `json:"meetingId"`
}

// Abort handles POST /upload-video/abort. Cleanup is best-effort: store errors
// are logged and queued for retry, never returned to the client.
func (h *Handler) Abort(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	var req abortRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UploadID == "" || req.Key == "" {
		response.BadRequest(c, "missing required fields")
		return
	}
	meetingID, ok := meetingFromKey(c, req.Key)
	if !ok {
		return
	}
	markFailed := false
	if req.MeetingID != "" {
		id, err := uuid.Parse(req.MeetingID)
		if err != nil || id != meetingID {
			response.BadRequest(c, "key does not belong to meeting")
			return
		}
		markFailed = true
	}
	ctx := c.Request.Context()
	if _, err := h.meetings.Authorize(ctx, meetingID, userID); err != nil {
		meetings.RespondError(c, err)
		return
	}

	h.abort(ctx, req.UploadID, req.Key, meetingID)
	if markFailed {
		h.markFailed(ctx, meetingID)
	}
	response.Flat(c, gin.H{})
}

// Download handles GET /download-meeting?meetingId=. Links are only issued for READY recordings.
func (h *Handler) Download(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	raw := c.Query("meetingId")
	if raw == "" {
		response.BadRequest(c, "meetingId is required")
		return
	}
	meetingID, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(c, "invalid meetingId")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.meetings.Authorize(ctx, meetingID, userID); err != nil {
		meetings.RespondError(c, err)
		return
	}
	rec, err := h.repo.GetByMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found for this meeting")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to load recording")
		return
	}
	if !rec.Downloadable() {
		if rec.Status != models.RecordingStatusReady {
			response.BadRequest(c, fmt.Sprintf("recording is %s, wait until it is ready", rec.Status))
			return
		}
		response.BadRequest(c, "download URL not available for this meeting")
		return
	}
	url, err := h.s3.PresignedDownloadURL(ctx, rec.FileURL, h.cfg.DownloadLinkTTL)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"downloadUrl": url, "expiresIn": int(h.cfg.DownloadLinkTTL.Seconds())})
}

func (h *Handler) shareLink(ctx context.Context, meetingID uuid.UUID, key string) (string, error) {
	url, err := h.s3.PresignedDownloadURL(ctx, key, h.cfg.FinalizeLinkTTL)
	if err != nil {
		return "", err
	}
	if err := h.meetings.SetDownloadURL(ctx, meetingID, url); err != nil {
		h.logger.Warn("store meeting download url failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
	}
	return url, nil
}

// abort discards the upload; on failure the abort is left to the worker.
func (h *Handler) abort(ctx context.Context, uploadID, key string, meetingID uuid.UUID) {
	err := h.s3.AbortMultipartUpload(ctx, uploadID, key)
	if err == nil {
		aborts.WithLabelValues("ok").Inc()
		return
	}
	h.logger.Warn("abort multipart upload failed", zap.Error(err), zap.String("key", key))
	if h.cleanup == nil {
		aborts.WithLabelValues("dropped").Inc()
		return
	}
	payload := queue.AbortUploadPayload{UploadID: uploadID, Key: key, MeetingID: meetingID}
	if qerr := h.cleanup.EnqueueAbortUpload(ctx, payload); qerr != nil {
		aborts.WithLabelValues("dropped").Inc()
		h.logger.Error("enqueue abort retry failed", zap.Error(qerr), zap.String("key", key))
		return
	}
	aborts.WithLabelValues("queued").Inc()
}

func (h *Handler) markFailed(ctx context.Context, meetingID uuid.UUID) {
	if err := h.repo.MarkFailed(ctx, meetingID); err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("mark recording failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
	}
	h.publish(meetingID, models.RecordingStatusFailed, "")
}

func (h *Handler) publish(meetingID uuid.UUID, status, downloadURL string) {
	if h.publisher == nil {
		return
	}
	h.publisher.PublishRecordingStatus(realtime.RecordingStatusEvent{MeetingID: meetingID, Status: status, DownloadURL: downloadURL})
}

func meetingFromKey(c *gin.Context, key string) (uuid.UUID, bool) {
	raw, err := storage.MeetingIDFromKey(key)
	if err != nil {
		response.BadRequest(c, "invalid key")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(c, "invalid key")
		return uuid.Nil, false
	}
	return id, true
}

func validateParts(parts []storage.Part) error {
	seen := make(map[int32]struct{}, len(parts))
	for _, p := range parts {
		if p.PartNumber < 1 || p.PartNumber > storage.MaxPartNumber {
			return fmt.Errorf("invalid partNumber %d", p.PartNumber)
		}
		if p.ETag == "" {
			return fmt.Errorf("part %d has no etag", p.PartNumber)
		}
		if _, dup := seen[p.PartNumber]; dup {
			return fmt.Errorf("duplicate partNumber %d", p.PartNumber)
		}
		seen[p.PartNumber] = struct{}{}
	}
	return nil
}

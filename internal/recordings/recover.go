package recordings

import (
	"bufio"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jagrut-bhole/podcast/internal/meetings"
	"github.com/jagrut-bhole/podcast/internal/middleware"
	"github.com/jagrut-bhole/podcast/internal/models"
	"github.com/jagrut-bhole/podcast/pkg/response"
)

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Recover handles POST /upload-video/recover, a streamed multipart body with a
// meetingId field followed by a file part. It uploads a recording that was
// saved locally after the live upload failed, without buffering it in memory.
func (h *Handler) Recover(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	h.extendDeadlines(c)
	mr, err := c.Request.MultipartReader()
	if err != nil {
		response.BadRequest(c, "multipart body required")
		return
	}

	meetingPart, err := mr.NextPart()
	if err != nil || meetingPart.FormName() != "meetingId" {
		response.BadRequest(c, "meetingId must be the first form field")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(meetingPart, 64))
	if err != nil {
		response.BadRequest(c, "invalid meetingId")
		return
	}
	meetingID, err := uuid.Parse(string(raw))
	if err != nil {
		response.BadRequest(c, "invalid meetingId")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.meetings.Authorize(ctx, meetingID, userID); err != nil {
		meetings.RespondError(c, err)
		return
	}

	filePart, err := nextFilePart(mr)
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	defer filePart.Close()

	br := bufio.NewReaderSize(filePart, 64<<10)
	if _, err := br.Peek(1); err != nil {
		response.BadRequest(c, "empty file")
		return
	}
	body := &countingReader{r: br}
	key, err := h.s3.UploadObject(ctx, meetingID.String(), body, -1)
	if err != nil {
		h.logger.Error("recover upload failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to upload recording")
		return
	}
	if _, err := h.repo.UpsertProcessing(ctx, meetingID, key); err != nil {
		h.logger.Error("upsert recovered recording failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to record upload")
		return
	}
	size := body.n
	if err := h.repo.MarkReady(ctx, meetingID, key, &size, nil); err != nil {
		h.logger.Error("mark recovered recording ready failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to record upload")
		return
	}
	downloadURL, err := h.shareLink(ctx, meetingID, key)
	if err != nil {
		h.logger.Error("presign recovered recording failed", zap.Error(err), zap.String("key", key))
		response.Flat(c, gin.H{"key": key})
		return
	}
	h.publish(meetingID, models.RecordingStatusReady, downloadURL)
	h.logger.Info("recording recovered", zap.String("meeting_id", meetingID.String()), zap.String("key", key), zap.Int64("bytes", size))
	response.Flat(c, gin.H{"key": key, "downloadUrl": downloadURL})
}

// extendDeadlines lifts the connection deadlines set from the server-wide
// timeouts, which are sized for chunks, not whole recordings.
func (h *Handler) extendDeadlines(c *gin.Context) {
	var deadline time.Time
	if h.cfg.RecoverTimeout > 0 {
		deadline = time.Now().Add(h.cfg.RecoverTimeout)
	}
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("extend recover read deadline", zap.Error(err))
	}
	if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("extend recover write deadline", zap.Error(err))
	}
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
}

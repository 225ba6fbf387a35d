package chat

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/jagrut-bhole/podcast/internal/meetings"
	"github.com/jagrut-bhole/podcast/internal/middleware"
	"github.com/jagrut-bhole/podcast/internal/models"
	"github.com/jagrut-bhole/podcast/internal/realtime"
	"github.com/jagrut-bhole/podcast/pkg/cache"
	"github.com/jagrut-bhole/podcast/pkg/response"
)

const (
	maxMessageLength = 2000
	persistTimeout   = 5 * time.Second
)

var persistFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "podcast",
	Subsystem: "chat",
	Name:      "persist_failures_total",
	Help:      "Relayed chat messages that could not be saved",
})

// Store is the chat persistence the handler needs.
type Store interface {
	Create(ctx context.Context, m *models.ChatMessage) error
	ListByMeeting(ctx context.Context, meetingID uuid.UUID) ([]models.ChatMessage, error)
}

// MeetingAuthorizer checks meeting membership.
type MeetingAuthorizer interface {
	Authorize(ctx context.Context, meetingID, userID uuid.UUID) (*models.Meeting, error)
}

// Handler handles chat history endpoints.
type Handler struct {
	repo     Store
	meetings MeetingAuthorizer
	cache    *cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewHandler creates a chat handler. A nil or disconnected cache reads through to the store.
func NewHandler(repo Store, authz MeetingAuthorizer, c *cache.Cache, ttl time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.New(nil, logger)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Handler{repo: repo, meetings: authz, cache: c, ttl: ttl, logger: logger}
}

type createRequest struct {
	MeetingID string `json:"meetingId"`
	Message   string `json:"message"`
}

// Create handles POST /chat/messages.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "missing required fields")
		return
	}
	text := strings.TrimSpace(req.Message)
	if req.MeetingID == "" || text == "" {
		response.BadRequest(c, "missing required fields")
		return
	}
	if len(text) > maxMessageLength {
		response.BadRequest(c, "message too long")
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
	msg := &models.ChatMessage{MeetingID: meetingID, UserID: userID, Message: text}
	if err := h.repo.Create(ctx, msg); err != nil {
		h.logger.Error("save chat message failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to save chat message")
		return
	}
	h.cache.Delete(ctx, cache.MeetingChatsKey(meetingID.String()))
	response.Created(c, msg)
}

// History handles GET /chat/history?meetingId=, served from cache when possible.
func (h *Handler) History(c *gin.Context) {
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
	list, err := cache.GetOrSet(ctx, h.cache, cache.MeetingChatsKey(meetingID.String()), h.ttl,
		func(ctx context.Context) ([]models.ChatMessage, error) {
			return h.repo.ListByMeeting(ctx, meetingID)
		})
	if err != nil {
		h.logger.Error("load chat history failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to load chat history")
		return
	}
	response.OK(c, list)
}

// PersistRelayed saves a chat line that was already delivered over the
// realtime feed. Failures are logged and counted; delivery is unaffected.
func (h *Handler) PersistRelayed(ev realtime.ChatEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	msg := &models.ChatMessage{
		ID:        ev.ID,
		MeetingID: ev.MeetingID,
		UserID:    ev.UserID,
		Message:   ev.Message,
		SentAt:    time.UnixMilli(ev.SentAt),
	}
	if err := h.repo.Create(ctx, msg); err != nil {
		persistFailures.Inc()
		h.logger.Warn("persist relayed chat message failed", zap.Error(err), zap.String("meeting_id", ev.MeetingID.String()))
		return
	}
	h.cache.Delete(ctx, cache.MeetingChatsKey(ev.MeetingID.String()))
}

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jagrut-bhole/podcast/internal/auth"
	"github.com/jagrut-bhole/podcast/internal/meetings"
	"github.com/jagrut-bhole/podcast/internal/models"
)

const maxChatLength = 2000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenValidator validates a session token.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// MeetingAuthorizer checks meeting membership.
type MeetingAuthorizer interface {
	Authorize(ctx context.Context, meetingID, userID uuid.UUID) (*models.Meeting, error)
}

// Client represents a single WebSocket connection in a meeting.
type Client struct {
	ID        string
	MeetingID uuid.UUID
	UserID    uuid.UUID
	UserName  string
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles GET /ws?meetingId=&token=. The token is validated and
// meeting membership authorized before the upgrade.
func ServeWs(hub *Hub, tokens TokenValidator, authz MeetingAuthorizer, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		meetingIDStr := c.Query("meetingId")
		token := c.Query("token")
		if meetingIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "meetingId and token required"})
			return
		}
		meetingID, err := uuid.Parse(meetingIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid meetingId"})
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		if _, err := authz.Authorize(c.Request.Context(), meetingID, claims.UserID); err != nil {
			meetings.RespondError(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			MeetingID: meetingID,
			UserID:    claims.UserID,
			UserName:  claims.Name,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.send)
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case EventChatMessage:
			var payload struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				continue
			}
			text := strings.TrimSpace(payload.Message)
			if text == "" || len(text) > maxChatLength {
				continue
			}
			c.hub.relayChat(ChatEvent{
				ID:        uuid.New(),
				MeetingID: c.MeetingID,
				UserID:    c.UserID,
				UserName:  c.UserName,
				Message:   text,
				SentAt:    time.Now().UnixMilli(),
			})
		default:
			c.logger.Debug("ignoring client event", zap.String("event", msg.Event))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

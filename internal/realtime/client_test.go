package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jagrut-bhole/podcast/internal/auth"
	"github.com/jagrut-bhole/podcast/internal/meetings"
	"github.com/jagrut-bhole/podcast/internal/models"
)

type fakeAuthorizer struct {
	member uuid.UUID
}

func (f fakeAuthorizer) Authorize(_ context.Context, meetingID, userID uuid.UUID) (*models.Meeting, error) {
	if userID != f.member {
		return nil, meetings.ErrNotMember
	}
	return &models.Meeting{ID: meetingID}, nil
}

func newWsServer(t *testing.T, hub *Hub, jwt *auth.JWTService, member uuid.UUID) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, jwt, fakeAuthorizer{member: member}, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, meetingID uuid.UUID, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?meetingId=" + meetingID.String() + "&token=" + token
}

func TestServeWs_RejectsBeforeUpgrade(t *testing.T) {
	jwt := auth.NewJWTService("secret", 1)
	member := uuid.New()
	srv := newWsServer(t, NewHub(nil, nil, nil), jwt, member)
	meetingID := uuid.New()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, meetingID, "garbage"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	stranger, err := jwt.Generate(uuid.New(), "s@example.com", "")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, meetingID, stranger), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeWs_ReceivesStatusAndChat(t *testing.T) {
	jwt := auth.NewJWTService("secret", 1)
	member := uuid.New()
	hub := NewHub(nil, nil, nil)
	srv := newWsServer(t, hub, jwt, member)
	meetingID := uuid.New()

	token, err := jwt.Generate(member, "m@example.com", "Member")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, meetingID, token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount(meetingID) == 1 }, 2*time.Second, 10*time.Millisecond)

	saved := make(chan ChatEvent, 1)
	hub.SetChatHandler(func(ev ChatEvent) { saved <- ev })

	hub.PublishRecordingStatus(RecordingStatusEvent{MeetingID: meetingID, Status: "READY"})
	readUntil(t, conn, EventRecordingStatus)

	require.NoError(t, conn.WriteJSON(WSMessage{Event: EventChatMessage, Data: []byte(`{"message":"  hi there "}`)}))
	msg := readUntil(t, conn, EventChatMessage)
	assert.Contains(t, string(msg.Data), `"message":"hi there"`)
	assert.Contains(t, string(msg.Data), `"user_name":"Member"`)

	select {
	case ev := <-saved:
		assert.Equal(t, member, ev.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("chat not persisted")
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

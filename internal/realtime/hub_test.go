package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(meetingID uuid.UUID) *Client {
	return &Client{ID: uuid.New().String(), MeetingID: meetingID, send: make(chan WSMessage, 16)}
}

func nextEvent(t *testing.T, c *Client, event string) WSMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.send:
			if msg.Event == event {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s event", event)
		}
	}
}

func TestHub_BroadcastIsScopedToMeeting(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	m1, m2 := uuid.New(), uuid.New()
	a, b := newTestClient(m1), newTestClient(m2)
	a.hub, b.hub = hub, hub
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 1, hub.ClientCount(m1))

	hub.PublishRecordingStatus(RecordingStatusEvent{MeetingID: m1, Status: "READY", DownloadURL: "https://x"})

	msg := nextEvent(t, a, EventRecordingStatus)
	var ev RecordingStatusEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "READY", ev.Status)
	assert.Equal(t, "https://x", ev.DownloadURL)

	for len(b.send) > 0 {
		assert.NotEqual(t, EventRecordingStatus, (<-b.send).Event)
	}

	hub.Unregister(a)
	assert.Equal(t, 0, hub.ClientCount(m1))
}

func TestHub_ChatRelayRunsHandler(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	meetingID := uuid.New()
	c := newTestClient(meetingID)
	hub.Register(c)

	saved := make(chan ChatEvent, 1)
	hub.SetChatHandler(func(ev ChatEvent) { saved <- ev })

	hub.relayChat(ChatEvent{ID: uuid.New(), MeetingID: meetingID, Message: "hello"})

	msg := nextEvent(t, c, EventChatMessage)
	assert.Contains(t, string(msg.Data), "hello")
	select {
	case ev := <-saved:
		assert.Equal(t, "hello", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("chat handler not called")
	}
}

func TestHub_PublishThroughRedis(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ps := NewRedisPubSub(rdb, nil)

	// Two hubs sharing one Redis behave like two server instances.
	h1 := NewHub(nil, ps, ps)
	h2 := NewHub(nil, ps, ps)
	meetingID := uuid.New()
	local, remote := newTestClient(meetingID), newTestClient(meetingID)
	h1.Register(local)
	h2.Register(remote)

	h1.PublishRecordingStatus(RecordingStatusEvent{MeetingID: meetingID, Status: "FAILED"})

	for _, c := range []*Client{local, remote} {
		msg := nextEvent(t, c, EventRecordingStatus)
		assert.Contains(t, string(msg.Data), "FAILED")
	}

	h1.Unregister(local)
	h2.Unregister(remote)
}

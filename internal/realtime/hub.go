package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Events delivered to meeting clients.
const (
	EventRecordingStatus  = "recording_status"
	EventChatMessage      = "chat_message"
	EventParticipantCount = "participant_count"
)

// RecordingStatusEvent announces a recording artifact transition.
type RecordingStatusEvent struct {
	MeetingID   uuid.UUID `json:"meeting_id"`
	Status      string    `json:"status"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// ChatEvent is a chat line relayed to every client of a meeting.
type ChatEvent struct {
	ID        uuid.UUID `json:"id"`
	MeetingID uuid.UUID `json:"meeting_id"`
	UserID    uuid.UUID `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Message   string    `json:"message"`
	SentAt    int64     `json:"sent_at"`
}

// ChatHandler persists a chat line after it was relayed. It runs off the
// client read loop and must not block delivery.
type ChatHandler func(ev ChatEvent)

// Publisher publishes meeting events to other server instances.
type Publisher interface {
	PublishMeetingEvent(meetingID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to meeting channels and invokes handler for incoming events.
type Subscriber interface {
	SubscribeMeeting(meetingID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains meeting_id -> set of connections and broadcasts messages.
// With a Publisher and Subscriber it fans events out across instances.
type Hub struct {
	meetings map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex
	logger   *zap.Logger
	pub      Publisher
	sub      Subscriber
	onChat   ChatHandler
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		meetings: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		pub:      pub,
		sub:      sub,
	}
}

// SetChatHandler sets the best-effort persistence hook for relayed chat lines.
func (h *Hub) SetChatHandler(fn ChatHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChat = fn
}

// Register adds a client to a meeting room. Starts the cross-instance subscription for the first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.meetings[c.MeetingID] == nil {
		h.meetings[c.MeetingID] = make(map[string]*Client)
		if h.sub != nil {
			meetingID := c.MeetingID
			cancel, err := h.sub.SubscribeMeeting(meetingID, func(event string, payload []byte) {
				h.Broadcast(meetingID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("meeting subscription failed", zap.String("meeting_id", meetingID.String()), zap.Error(err))
			} else {
				h.subs[meetingID] = cancel
			}
		}
	}
	h.meetings[c.MeetingID][c.ID] = c
	count := len(h.meetings[c.MeetingID])
	h.mu.Unlock()

	h.Broadcast(c.MeetingID, EventParticipantCount, map[string]int{"count": count})
	h.logger.Debug("client joined meeting", zap.String("client_id", c.ID), zap.String("meeting_id", c.MeetingID.String()))
}

// Unregister removes a client from a meeting room. Cancels the subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	if m, ok := h.meetings[c.MeetingID]; ok {
		delete(m, c.ID)
		count = len(m)
		if count == 0 {
			delete(h.meetings, c.MeetingID)
			if cancel, ok := h.subs[c.MeetingID]; ok {
				cancel()
				delete(h.subs, c.MeetingID)
			}
		}
	}
	h.mu.Unlock()
	if count > 0 {
		h.Broadcast(c.MeetingID, EventParticipantCount, map[string]int{"count": count})
	}
	h.logger.Debug("client left meeting", zap.String("client_id", c.ID), zap.String("meeting_id", c.MeetingID.String()))
}

// Broadcast sends a message to all local clients of a meeting.
func (h *Hub) Broadcast(meetingID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.meetings[meetingID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client send buffer full, dropping event", zap.String("client_id", c.ID), zap.String("event", event))
		}
	}
}

// Publish delivers an event to every instance. With a Publisher the
// subscription callback performs the local broadcast, so local clients see it once.
func (h *Hub) Publish(meetingID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishMeetingEvent(meetingID, event, data); err == nil {
			return
		}
		h.logger.Warn("publish meeting event failed, broadcasting locally", zap.String("event", event))
	}
	h.Broadcast(meetingID, event, json.RawMessage(data))
}

// PublishRecordingStatus announces a recording status change to the meeting.
func (h *Hub) PublishRecordingStatus(ev RecordingStatusEvent) {
	h.Publish(ev.MeetingID, EventRecordingStatus, ev)
}

// ClientCount returns the number of locally connected clients in a meeting.
func (h *Hub) ClientCount(meetingID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.meetings[meetingID])
}

func (h *Hub) relayChat(ev ChatEvent) {
	h.Publish(ev.MeetingID, EventChatMessage, ev)
	h.mu.RLock()
	onChat := h.onChat
	h.mu.RUnlock()
	if onChat != nil {
		go onChat(ev)
	}
}

package recording

import (
	"time"

	"go.uber.org/zap"
)

// EventKind identifies a user-facing pipeline event.
type EventKind string

const (
	EventRetrying     EventKind = "retrying"
	EventEscalated    EventKind = "escalated"
	EventAbandoned    EventKind = "abandoned"
	EventDegraded     EventKind = "degraded"
	EventProgress     EventKind = "progress"
	EventUploaded     EventKind = "uploaded"
	EventSavedLocally EventKind = "saved_locally"
	EventState        EventKind = "state"
)

// Event is delivered to a Notifier. Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	State       State
	PartNumber  int32
	Attempt     int
	RetryIn     time.Duration
	Percent     int
	Path        string
	DownloadURL string
	Err         error
}

// Notifier receives pipeline events. Notify may be called from several
// goroutines and must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Nop returns a Notifier that drops every event.
func Nop() Notifier { return nopNotifier{} }

// LogNotifier writes events to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a Notifier logging through logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(e Event) {
	switch e.Kind {
	case EventRetrying:
		n.logger.Warn("upload failed, retrying", zap.Int32("part_number", e.PartNumber), zap.Int("attempt", e.Attempt), zap.Duration("retry_in", e.RetryIn), zap.Error(e.Err))
	case EventEscalated:
		n.logger.Error("upload keeps failing; recording continues and will be saved locally if the upload cannot finish", zap.Int32("part_number", e.PartNumber), zap.Int("attempt", e.Attempt), zap.Error(e.Err))
	case EventAbandoned:
		n.logger.Error("remote upload abandoned; recording will be saved locally", zap.Error(e.Err))
	case EventDegraded:
		n.logger.Warn("recording degraded", zap.Error(e.Err))
	case EventProgress:
		n.logger.Debug("upload progress", zap.Int("percent", e.Percent), zap.Int32("part_number", e.PartNumber))
	case EventUploaded:
		n.logger.Info("recording uploaded", zap.String("download_url", e.DownloadURL))
	case EventSavedLocally:
		n.logger.Warn("remote upload failed, recording saved locally", zap.String("path", e.Path), zap.Error(e.Err))
	case EventState:
		n.logger.Debug("recording state", zap.Stringer("state", e.State))
	}
}

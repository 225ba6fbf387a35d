package meetings

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jagrut-bhole/podcast/internal/models"
	"github.com/jagrut-bhole/podcast/pkg/response"
)

var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrNotMember       = errors.New("not a participant or host of this meeting")
)

// Store is the meeting persistence the service needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	IsParticipant(ctx context.Context, meetingID, userID uuid.UUID) (bool, error)
	SetDownloadURL(ctx context.Context, meetingID uuid.UUID, url string) error
}

// Service answers meeting membership questions. Every recording and chat
// entry point calls Authorize; results are never cached.
type Service struct {
	store Store
}

// NewService creates a meetings service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Authorize returns the meeting when userID is its host or a participant.
func (s *Service) Authorize(ctx context.Context, meetingID, userID uuid.UUID) (*models.Meeting, error) {
	m, err := s.store.GetByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.HostID == userID {
		return m, nil
	}
	ok, err := s.store.IsParticipant(ctx, meetingID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	return m, nil
}

// SetDownloadURL stores the shareable recording link on the meeting.
func (s *Service) SetDownloadURL(ctx context.Context, meetingID uuid.UUID, url string) error {
	return s.store.SetDownloadURL(ctx, meetingID, url)
}

// RespondError writes the HTTP answer for an Authorize failure.
func RespondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMeetingNotFound):
		response.NotFound(c, "meeting not found")
	case errors.Is(err, ErrNotMember):
		response.Forbidden(c, "not authorized for this meeting")
	default:
		_ = c.Error(err)
		response.Internal(c, "failed to authorize meeting access")
	}
}

package meetings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jagrut-bhole/podcast/internal/models"
)

// Repository handles meeting persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meetings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a meeting by ID, or ErrMeetingNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	const q = `SELECT id, title, description, host_id, COALESCE(invite_code,''), status, starts_at, ends_at, COALESCE(download_url,''), created_at, updated_at
		FROM meetings WHERE id = $1`
	var m models.Meeting
	err := r.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.Title, &m.Description, &m.HostID, &m.InviteCode, &m.Status, &m.StartsAt, &m.EndsAt, &m.DownloadURL, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMeetingNotFound
		}
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return &m, nil
}

// IsParticipant reports whether userID joined meetingID in any role.
func (r *Repository) IsParticipant(ctx context.Context, meetingID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM participants WHERE meeting_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, meetingID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

// SetDownloadURL stores the latest shareable recording link on the meeting.
func (r *Repository) SetDownloadURL(ctx context.Context, meetingID uuid.UUID, url string) error {
	const q = `UPDATE meetings SET download_url = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, url, meetingID)
	if err != nil {
		return fmt.Errorf("set download url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMeetingNotFound
	}
	return nil
}

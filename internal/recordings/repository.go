package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jagrut-bhole/podcast/internal/models"
)

// ErrNotFound is returned when a meeting has no recording.
var ErrNotFound = errors.New("recording not found")

// Repository handles recording persistence. Each meeting has at most one recording.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `id, meeting_id, COALESCE(file_url,''), COALESCE(file_size_bytes,0), COALESCE(duration_seconds,0), status, created_at, updated_at`

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.MeetingID, &rec.FileURL, &rec.FileSizeBytes, &rec.DurationSeconds, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpsertProcessing creates the meeting's recording, or resets an existing one,
// as PROCESSING for a newly opened upload of key.
func (r *Repository) UpsertProcessing(ctx context.Context, meetingID uuid.UUID, key string) (*models.Recording, error) {
	q := `INSERT INTO recordings (meeting_id, file_url, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (meeting_id) DO UPDATE
		SET file_url = EXCLUDED.file_url, status = EXCLUDED.status,
			file_size_bytes = NULL, duration_seconds = NULL, updated_at = NOW()
		RETURNING ` + selectColumns
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, meetingID, key, models.RecordingStatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("upsert recording: %w", err)
	}
	return rec, nil
}

// MarkReady records the finalized object. Nil size or duration leave the stored value unset.
func (r *Repository) MarkReady(ctx context.Context, meetingID uuid.UUID, key string, sizeBytes *int64, durationSeconds *int) error {
	const q = `UPDATE recordings
		SET file_url = $1, file_size_bytes = $2, duration_seconds = $3, status = $4, updated_at = NOW()
		WHERE meeting_id = $5`
	tag, err := r.pool.Exec(ctx, q, key, sizeBytes, durationSeconds, models.RecordingStatusReady, meetingID)
	if err != nil {
		return fmt.Errorf("mark recording ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed sets the meeting's recording to FAILED.
func (r *Repository) MarkFailed(ctx context.Context, meetingID uuid.UUID) error {
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE meeting_id = $2`
	tag, err := r.pool.Exec(ctx, q, models.RecordingStatusFailed, meetingID)
	if err != nil {
		return fmt.Errorf("mark recording failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByMeeting returns the meeting's recording, or ErrNotFound.
func (r *Repository) GetByMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Recording, error) {
	q := `SELECT ` + selectColumns + ` FROM recordings WHERE meeting_id = $1`
	return scanRecording(r.pool.QueryRow(ctx, q, meetingID))
}

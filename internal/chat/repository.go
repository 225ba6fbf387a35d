package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jagrut-bhole/podcast/internal/models"
)

// Repository handles chat message persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a message. A zero ID or SentAt is filled in by the database.
func (r *Repository) Create(ctx context.Context, m *models.ChatMessage) error {
	const q = `INSERT INTO chat_messages (id, meeting_id, user_id, message, sent_at)
		VALUES (COALESCE($1, gen_random_uuid()), $2, $3, $4, COALESCE($5, NOW()))
		RETURNING id, sent_at`
	var id *uuid.UUID
	if m.ID != uuid.Nil {
		id = &m.ID
	}
	var sentAt interface{}
	if !m.SentAt.IsZero() {
		sentAt = m.SentAt
	}
	if err := r.pool.QueryRow(ctx, q, id, m.MeetingID, m.UserID, m.Message, sentAt).Scan(&m.ID, &m.SentAt); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListByMeeting returns a meeting's messages oldest first, with sender names.
func (r *Repository) ListByMeeting(ctx context.Context, meetingID uuid.UUID) ([]models.ChatMessage, error) {
	const q = `SELECT c.id, c.meeting_id, c.user_id, COALESCE(u.name,''), c.message, c.sent_at
		FROM chat_messages c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.meeting_id = $1 ORDER BY c.sent_at ASC`
	rows, err := r.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	list := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.UserID, &m.UserName, &m.Message, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

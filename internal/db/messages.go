package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rx3lixir/rill/internal/apperr"
)

// CreateMessage creates a new chat message record
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (
			id, room_id, sender, content, content_type,
			file_path, file_name, file_hash, file_size,
			status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = MessageStatusSent
	}

	_, err := s.db.Exec(ctx, query,
		msg.ID,
		msg.RoomID,
		msg.Sender,
		msg.Content,
		msg.ContentType,
		msg.FilePath,
		msg.FileName,
		msg.FileHash,
		msg.FileSize,
		msg.Status,
		msg.CreatedAt,
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetMessageByID retrieves a message by ID
func (s *PostgresStore) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `
		SELECT
			id, room_id, sender, content, content_type,
			file_path, file_name, file_hash, file_size,
			status, created_at, delivered_at, read_at
		FROM messages
		WHERE id = $1
	`

	msg := &Message{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.Sender,
		&msg.Content,
		&msg.ContentType,
		&msg.FilePath,
		&msg.FileName,
		&msg.FileHash,
		&msg.FileSize,
		&msg.Status,
		&msg.CreatedAt,
		&msg.DeliveredAt,
		&msg.ReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "message not found")
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// UpdateMessageStatus advances a message's delivery status. READ is
// monotonic: a message already read keeps its read timestamp.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	var query string
	switch status {
	case MessageStatusDelivered:
		query = `
			UPDATE messages
			SET status = $2, delivered_at = COALESCE(delivered_at, $3)
			WHERE id = $1 AND status = 'SENT'
		`
	case MessageStatusRead:
		query = `
			UPDATE messages
			SET status = $2, read_at = COALESCE(read_at, $3)
			WHERE id = $1 AND status != 'READ'
		`
	default:
		return apperr.New(apperr.KindInvalidStatus, fmt.Sprintf("unknown message status: %s", status))
	}

	_, err := s.db.Exec(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	return nil
}

// MarkRoomRead marks every message in a room not sent by username as
// read, returning the number of rows touched.
func (s *PostgresStore) MarkRoomRead(ctx context.Context, roomID uuid.UUID, username string, at time.Time) (int64, error) {
	query := `
		UPDATE messages
		SET status = 'READ', read_at = COALESCE(read_at, $3)
		WHERE room_id = $1 AND sender != $2 AND status != 'READ'
	`

	tag, err := s.db.Exec(ctx, query, roomID, username, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark room read: %w", err)
	}

	return tag.RowsAffected(), nil
}

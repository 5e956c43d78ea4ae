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

// CreateNotification persists a durable notification record
func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			id, recipient, type, title, content, payload, priority,
			read, read_at, delivered, delivered_at, expires_at,
			message_id, room_id, sender, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}

	_, err := s.db.Exec(ctx, query,
		n.ID,
		n.Recipient,
		n.Type,
		n.Title,
		n.Content,
		n.Payload,
		n.Priority,
		n.Read,
		n.ReadAt,
		n.Delivered,
		n.DeliveredAt,
		n.ExpiresAt,
		n.MessageID,
		n.RoomID,
		n.Sender,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetUnreadNotifications returns unread, unexpired notifications for a
// recipient, newest first
func (s *PostgresStore) GetUnreadNotifications(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	query := `
		SELECT
			id, recipient, type, title, content, payload, priority,
			read, read_at, delivered, delivered_at, expires_at,
			message_id, room_id, sender, created_at
		FROM notifications
		WHERE recipient = $1
		  AND read = false
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n := &Notification{}
		err := rows.Scan(
			&n.ID,
			&n.Recipient,
			&n.Type,
			&n.Title,
			&n.Content,
			&n.Payload,
			&n.Priority,
			&n.Read,
			&n.ReadAt,
			&n.Delivered,
			&n.DeliveredAt,
			&n.ExpiresAt,
			&n.MessageID,
			&n.RoomID,
			&n.Sender,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}

	return notifications, nil
}

// CountUnreadNotifications counts unread, unexpired notifications
func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, recipient string) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient = $1
		  AND read = false
		  AND (expires_at IS NULL OR expires_at > now())
	`

	var count int
	if err := s.db.QueryRow(ctx, query, recipient).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}

// MarkNotificationRead marks one notification as read. Read is
// monotonic: an already-read notification keeps its original read_at.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id uuid.UUID, recipient string, at time.Time) error {
	query := `
		UPDATE notifications
		SET read = true, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient = $2
		RETURNING id
	`

	var got uuid.UUID
	err := s.db.QueryRow(ctx, query, id, recipient, at).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "notification not found")
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	return nil
}

// MarkAllNotificationsRead marks every unread notification for a
// recipient as read, returning the number of rows touched
func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipient string, at time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET read = true, read_at = COALESCE(read_at, $2)
		WHERE recipient = $1 AND read = false
	`

	tag, err := s.db.Exec(ctx, query, recipient, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}

	return tag.RowsAffected(), nil
}

// PruneOfflineBacklog enforces the per-user offline notification cap,
// dropping the oldest unread rows beyond max
func (s *PostgresStore) PruneOfflineBacklog(ctx context.Context, recipient string, max int) error {
	if max <= 0 {
		return nil
	}

	query := `
		DELETE FROM notifications
		WHERE recipient = $1
		  AND read = false
		  AND id NOT IN (
			SELECT id FROM notifications
			WHERE recipient = $1 AND read = false
			ORDER BY created_at DESC
			LIMIT $2
		  )
	`

	if _, err := s.db.Exec(ctx, query, recipient, max); err != nil {
		return fmt.Errorf("failed to prune notification backlog: %w", err)
	}

	return nil
}

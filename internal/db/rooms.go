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

// CreateRoom inserts a room and its participant rows. Private rooms
// between the same two users are rejected as duplicates.
func (s *PostgresStore) CreateRoom(ctx context.Context, room *Room) error {
	if room.IsPrivate && len(room.Participants) == 2 {
		existing, err := s.FindPrivateRoom(ctx, room.Participants[0], room.Participants[1])
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return err
		}
		if existing != nil {
			return apperr.New(apperr.KindDuplicate, "private room already exists between these users")
		}
	}

	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	room.UpdatedAt = room.CreatedAt

	query := `
		INSERT INTO rooms (id, name, is_private, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.Exec(ctx, query,
		room.ID,
		room.Name,
		room.IsPrivate,
		room.CreatedBy,
		room.CreatedAt,
		room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	for _, username := range room.Participants {
		_, err := s.db.Exec(ctx,
			`INSERT INTO room_participants (room_id, username, joined_at) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			room.ID, username, room.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to add participant %s: %w", username, err)
		}
	}

	return nil
}

// GetRoomByID retrieves a room with its participant list
func (s *PostgresStore) GetRoomByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	query := `
		SELECT id, name, is_private, created_by, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`

	room := &Room{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.IsPrivate,
		&room.CreatedBy,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "room not found")
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	participants, err := s.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	room.Participants = participants

	return room, nil
}

// GetParticipants returns the usernames of everyone in a room
func (s *PostgresStore) GetParticipants(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	query := `
		SELECT username FROM room_participants
		WHERE room_id = $1
		ORDER BY joined_at
	`

	rows, err := s.db.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, username)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}

	return participants, nil
}

// IsParticipant checks room membership for a single user
func (s *PostgresStore) IsParticipant(ctx context.Context, roomID uuid.UUID, username string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM room_participants
			WHERE room_id = $1 AND username = $2
		)
	`

	var exists bool
	if err := s.db.QueryRow(ctx, query, roomID, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}

	return exists, nil
}

// AddParticipant adds a user to a room's membership
func (s *PostgresStore) AddParticipant(ctx context.Context, roomID uuid.UUID, username string) error {
	query := `
		INSERT INTO room_participants (room_id, username, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, roomID, username, time.Now()); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	return nil
}

// RemoveParticipant removes a user from a room's membership
func (s *PostgresStore) RemoveParticipant(ctx context.Context, roomID uuid.UUID, username string) error {
	query := `
		DELETE FROM room_participants
		WHERE room_id = $1 AND username = $2
	`

	if _, err := s.db.Exec(ctx, query, roomID, username); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	return nil
}

// FindPrivateRoom finds the private room shared by exactly two users
func (s *PostgresStore) FindPrivateRoom(ctx context.Context, userA, userB string) (*Room, error) {
	query := `
		SELECT r.id
		FROM rooms r
		JOIN room_participants pa ON pa.room_id = r.id AND pa.username = $1
		JOIN room_participants pb ON pb.room_id = r.id AND pb.username = $2
		WHERE r.is_private = true
		LIMIT 1
	`

	var id uuid.UUID
	err := s.db.QueryRow(ctx, query, userA, userB).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "private room not found")
		}
		return nil, fmt.Errorf("failed to find private room: %w", err)
	}

	return s.GetRoomByID(ctx, id)
}

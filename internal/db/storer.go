package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// To abstract db methods from pgxpool api
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(pool DBTX) *PostgresStore {
	return &PostgresStore{
		db: pool,
	}
}

type RoomStore interface {
	CreateRoom(ctx context.Context, room *Room) error
	GetRoomByID(ctx context.Context, id uuid.UUID) (*Room, error)
	GetParticipants(ctx context.Context, roomID uuid.UUID) ([]string, error)
	IsParticipant(ctx context.Context, roomID uuid.UUID, username string) (bool, error)
	AddParticipant(ctx context.Context, roomID uuid.UUID, username string) error
	RemoveParticipant(ctx context.Context, roomID uuid.UUID, username string) error
	FindPrivateRoom(ctx context.Context, userA, userB string) (*Room, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error
	MarkRoomRead(ctx context.Context, roomID uuid.UUID, username string, at time.Time) (int64, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	GetUnreadNotifications(ctx context.Context, recipient string, limit int) ([]*Notification, error)
	CountUnreadNotifications(ctx context.Context, recipient string) (int, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, recipient string, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, recipient string, at time.Time) (int64, error)
	PruneOfflineBacklog(ctx context.Context, recipient string, max int) error
}

type PreferenceStore interface {
	GetPreferences(ctx context.Context, username string) (*NotificationPreferences, error)
}

func CreatePostgresPool(parentCtx context.Context, dburl string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(parentCtx, time.Second*3)
	defer cancel()

	pool, err := pgxpool.New(ctx, dburl)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

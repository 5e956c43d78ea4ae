package fanout

import (
	"fmt"
	"time"

	"github.com/rx3lixir/rill/internal/db"
)

// Event type names pushed over outbound channels.
const (
	EventChatMessage       = "chat_message"
	EventStatusUpdate      = "status_update"
	EventUserEntered       = "user_entered"
	EventUserExited        = "user_exited"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventRoomCreated       = "room_created"
	EventNotification      = "notification"
	EventNotificationList  = "notifications"
	EventNotificationCount = "notification_count"
	EventUnreadCounts      = "unread_counts"
	EventRoomPresence      = "room_presence"
	EventError             = "error"
)

// Event is the envelope for everything pushed outward. Only the fields
// relevant to the event type are set.
type Event struct {
	Type          string             `json:"type"`
	RoomID        string             `json:"room_id,omitempty"`
	MessageID     string             `json:"message_id,omitempty"`
	Sender        string             `json:"sender,omitempty"`
	Username      string             `json:"username,omitempty"`
	Content       string             `json:"content,omitempty"`
	ContentType   string             `json:"content_type,omitempty"`
	Status        string             `json:"status,omitempty"`
	FileName      string             `json:"file_name,omitempty"`
	FileURL       string             `json:"file_url,omitempty"`
	FileHash      string             `json:"file_hash,omitempty"`
	FileSize      int64              `json:"file_size,omitempty"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	ErrorDetail   string             `json:"error_detail,omitempty"`
	Notification  *db.Notification   `json:"notification,omitempty"`
	Notifications []*db.Notification `json:"notifications,omitempty"`
	UnreadCounts  map[string]int     `json:"unread_counts,omitempty"`
	Count         int                `json:"count,omitempty"`
	Users         []string           `json:"users,omitempty"`
	CreatedAt     time.Time          `json:"created_at,omitempty"`
}

// MonitorChannel receives a copy of every error event for ops.
const MonitorChannel = "monitor:errors"

// RoomChannel is the room-wide broadcast channel.
func RoomChannel(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// UserMessages is a user's private message channel.
func UserMessages(username string) string {
	return fmt.Sprintf("user:%s:messages", username)
}

// UserStatus is a user's status-update channel.
func UserStatus(username string) string {
	return fmt.Sprintf("user:%s:status", username)
}

// UserErrors is a user's private error channel.
func UserErrors(username string) string {
	return fmt.Sprintf("user:%s:errors", username)
}

// UserNotifications is a user's notification channel.
func UserNotifications(username string) string {
	return fmt.Sprintf("user:%s:notifications", username)
}

// UserUnread is a user's unread-count channel.
func UserUnread(username string) string {
	return fmt.Sprintf("user:%s:unread", username)
}

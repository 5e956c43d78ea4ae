package db

import (
	"time"

	"github.com/google/uuid"
)

type Room struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	IsPrivate    bool      `json:"is_private"`
	CreatedBy    string    `json:"created_by"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Message struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	Sender      string     `json:"sender"`
	Content     string     `json:"content"`
	ContentType string     `json:"content_type"`
	FilePath    string     `json:"file_path,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	FileHash    string     `json:"file_hash,omitempty"`
	FileSize    int64      `json:"file_size,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

const (
	MessageStatusSent      = "SENT"
	MessageStatusDelivered = "DELIVERED"
	MessageStatusRead      = "READ"
)

// Notification type names. Room membership events (invited, added,
// removed) share one preference flag, see notify.Gate.
const (
	NotificationNewMessage      = "NEW_MESSAGE"
	NotificationGroupMessage    = "GROUP_MESSAGE"
	NotificationRoomInvited     = "ROOM_INVITED"
	NotificationRoomAdded       = "ROOM_ADDED"
	NotificationRoomRemoved     = "ROOM_REMOVED"
	NotificationMentioned       = "MENTIONED"
	NotificationSystemBroadcast = "SYSTEM_BROADCAST"
)

const (
	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

type Notification struct {
	ID          uuid.UUID      `json:"id"`
	Recipient   string         `json:"recipient"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    string         `json:"priority"`
	Read        bool           `json:"read"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	Delivered   bool           `json:"delivered"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	MessageID   *uuid.UUID     `json:"message_id,omitempty"`
	RoomID      *uuid.UUID     `json:"room_id,omitempty"`
	Sender      string         `json:"sender,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NotificationPreferences is the per-user delivery policy. Sound,
// vibration and preview are presentation hints carried through to the
// client, they never gate delivery.
type NotificationPreferences struct {
	Username            string  `json:"username"`
	PushEnabled         bool    `json:"push_enabled"`
	NewMessageEnabled   bool    `json:"new_message_enabled"`
	GroupMessageEnabled bool    `json:"group_message_enabled"`
	RoomEventsEnabled   bool    `json:"room_events_enabled"`
	MentionEnabled      bool    `json:"mention_enabled"`
	SystemEnabled       bool    `json:"system_enabled"`
	DNDEnabled          bool    `json:"dnd_enabled"`
	DNDStart            *string `json:"dnd_start,omitempty"`
	DNDEnd              *string `json:"dnd_end,omitempty"`
	SoundEnabled        bool    `json:"sound_enabled"`
	VibrationEnabled    bool    `json:"vibration_enabled"`
	PreviewEnabled      bool    `json:"preview_enabled"`
	MaxOffline          int     `json:"max_offline"`
}

// DefaultPreferences returns the policy applied to users who never
// saved one: everything on, no DND, offline backlog capped at 100.
func DefaultPreferences(username string) *NotificationPreferences {
	return &NotificationPreferences{
		Username:            username,
		PushEnabled:         true,
		NewMessageEnabled:   true,
		GroupMessageEnabled: true,
		RoomEventsEnabled:   true,
		MentionEnabled:      true,
		SystemEnabled:       true,
		SoundEnabled:        true,
		VibrationEnabled:    true,
		PreviewEnabled:      true,
		MaxOffline:          100,
	}
}

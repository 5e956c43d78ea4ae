package ws

// Inbound operation names accepted over the websocket.
const (
	OpSendMessage          = "send_message"
	OpUpdateStatus         = "update_status"
	OpJoinRoom             = "join_room"
	OpLeaveRoom            = "leave_room"
	OpEnterRoom            = "enter_room"
	OpExitRoom             = "exit_room"
	OpCreateRoom           = "create_room"
	OpUploadChunk          = "upload_chunk"
	OpGetUnreadCounts      = "get_unread_counts"
	OpMarkRoomRead         = "mark_room_read"
	OpGetRoomPresence      = "get_room_presence"
	OpNotificationsUnread  = "notifications_get_unread"
	OpNotificationRead     = "notifications_mark_read"
	OpNotificationsAllRead = "notifications_mark_all_read"
	OpNotificationsCount   = "notifications_unread_count"
)

// Inbound is the flat envelope for every operation a client can send.
// Only the fields relevant to the op are expected to be set.
type Inbound struct {
	Type string `json:"type"`

	RoomID      string `json:"room_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Status      string `json:"status,omitempty"`

	// create_room
	Name         string   `json:"name,omitempty"`
	IsPrivate    bool     `json:"is_private,omitempty"`
	Participants []string `json:"participants,omitempty"`

	// upload_chunk
	UploadID    string `json:"upload_id,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	ChunkSize   int    `json:"chunk_size,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Base64Data  string `json:"data,omitempty"`

	NotificationID string `json:"notification_id,omitempty"`
}

package fanout

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/rx3lixir/rill/internal/apperr"
	"github.com/rx3lixir/rill/internal/db"
)

// Publisher pushes one event to one named channel. Implemented by
// ws.Hub. A send error means nobody reachable on that channel right
// now, never a business failure.
type Publisher interface {
	Publish(channel string, event *Event) error
}

// Dispatcher fans a materialized event out to the room-wide broadcast
// channel and to each participant's private channel. Every send is
// best-effort: a failure for one target is logged and the rest still
// get theirs. By the time an event reaches the dispatcher the state
// change behind it is already durable.
type Dispatcher struct {
	pub    Publisher
	logger *log.Logger
}

func NewDispatcher(pub Publisher, logger *log.Logger) *Dispatcher {
	return &Dispatcher{pub: pub, logger: logger}
}

// BroadcastToRoom sends the event to the room channel first (covers
// clients subscribed only at room granularity), then to each
// participant's private message channel except the originator. The
// dual send is deliberate redundancy for clients that only follow one
// channel shape.
func (d *Dispatcher) BroadcastToRoom(roomID string, participants []string, originator string, ev *Event) {
	if err := d.pub.Publish(RoomChannel(roomID), ev); err != nil {
		d.logger.Warn("Room broadcast failed", "room", roomID, "type", ev.Type, "error", err)
	}

	for _, username := range participants {
		if username == originator {
			continue
		}
		d.DeliverToUser(username, UserMessages(username), ev)
	}
}

// DeliverToUser sends one event to one of a user's private channels,
// logging and swallowing failures.
func (d *Dispatcher) DeliverToUser(username, channel string, ev *Event) {
	if err := d.pub.Publish(channel, ev); err != nil {
		d.logger.Warn("Delivery failed",
			"user", username, "channel", channel, "type", ev.Type, "error", err)
	}
}

// FanoutChatMessage broadcasts a saved chat message to its room.
func (d *Dispatcher) FanoutChatMessage(msg *db.Message, participants []string) {
	ev := &Event{
		Type:        EventChatMessage,
		RoomID:      msg.RoomID.String(),
		MessageID:   msg.ID.String(),
		Sender:      msg.Sender,
		Content:     msg.Content,
		ContentType: msg.ContentType,
		Status:      msg.Status,
		FileName:    msg.FileName,
		FileURL:     msg.FilePath,
		FileHash:    msg.FileHash,
		FileSize:    msg.FileSize,
		CreatedAt:   msg.CreatedAt,
	}

	d.BroadcastToRoom(ev.RoomID, participants, msg.Sender, ev)
}

// FanoutStatusUpdate tells the message sender (and the room) that a
// message advanced to delivered or read.
func (d *Dispatcher) FanoutStatusUpdate(msg *db.Message, status, actor string) {
	ev := &Event{
		Type:      EventStatusUpdate,
		RoomID:    msg.RoomID.String(),
		MessageID: msg.ID.String(),
		Sender:    msg.Sender,
		Username:  actor,
		Status:    status,
		CreatedAt: time.Now(),
	}

	if err := d.pub.Publish(RoomChannel(ev.RoomID), ev); err != nil {
		d.logger.Warn("Room status broadcast failed", "room", ev.RoomID, "error", err)
	}
	d.DeliverToUser(msg.Sender, UserStatus(msg.Sender), ev)
}

// FanoutPresenceEvent announces an enter/exit/join/leave to a room.
func (d *Dispatcher) FanoutPresenceEvent(eventType, roomID, username string, participants []string) {
	ev := &Event{
		Type:      eventType,
		RoomID:    roomID,
		Username:  username,
		CreatedAt: time.Now(),
	}

	d.BroadcastToRoom(roomID, participants, username, ev)
}

// FanoutNotification pushes a durable notification to its recipient's
// notification channel.
func (d *Dispatcher) FanoutNotification(n *db.Notification) {
	ev := &Event{
		Type:         EventNotification,
		Notification: n,
		CreatedAt:    n.CreatedAt,
	}

	d.DeliverToUser(n.Recipient, UserNotifications(n.Recipient), ev)
}

// FanoutUnreadCounts pushes a user's per-room unread counters to their
// unread channel.
func (d *Dispatcher) FanoutUnreadCounts(username string, counts map[string]int) {
	ev := &Event{
		Type:         EventUnreadCounts,
		UnreadCounts: counts,
		CreatedAt:    time.Now(),
	}

	d.DeliverToUser(username, UserUnread(username), ev)
}

// FanoutError classifies a domain error and pushes it to the
// triggering user's error channel plus the monitoring channel. The
// inbound operation that caused it is never retried from here.
func (d *Dispatcher) FanoutError(username string, err error) {
	ev := &Event{
		Type:        EventError,
		Username:    username,
		ErrorKind:   string(apperr.KindOf(err)),
		ErrorDetail: apperr.MessageOf(err),
		CreatedAt:   time.Now(),
	}

	d.DeliverToUser(username, UserErrors(username), ev)

	if pubErr := d.pub.Publish(MonitorChannel, ev); pubErr != nil {
		d.logger.Warn("Monitor channel delivery failed", "error", pubErr)
	}
}

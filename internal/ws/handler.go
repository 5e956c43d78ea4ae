package ws

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rx3lixir/rill/internal/apperr"
	"github.com/rx3lixir/rill/internal/db"
	"github.com/rx3lixir/rill/internal/fanout"
	"github.com/rx3lixir/rill/internal/notify"
	"github.com/rx3lixir/rill/internal/presence"
	"github.com/rx3lixir/rill/internal/upload"
	"github.com/rx3lixir/rill/pkg/jwt"
)

// UnreadCounter tracks per-user per-room unread counts. Implemented by
// unread.Counter.
type UnreadCounter interface {
	Increment(ctx context.Context, username, roomID string) error
	Reset(ctx context.Context, username, roomID string) error
	Counts(ctx context.Context, username string) (map[string]int, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the reverse proxy in front of us
		return true
	},
}

// Handler owns the inbound side of the websocket transport: it
// authenticates the principal, reads operation envelopes and routes
// them into the delivery core.
type Handler struct {
	hub           *Hub
	jwtService    *jwt.Service
	rooms         db.RoomStore
	messages      db.MessageStore
	notifications db.NotificationStore
	reassembler   *upload.Reassembler
	tracker       *presence.Tracker
	notifier      *notify.Notifier
	dispatcher    *fanout.Dispatcher
	unread        UnreadCounter
	logger        *log.Logger
}

func NewHandler(
	hub *Hub,
	jwtService *jwt.Service,
	rooms db.RoomStore,
	messages db.MessageStore,
	notifications db.NotificationStore,
	reassembler *upload.Reassembler,
	tracker *presence.Tracker,
	notifier *notify.Notifier,
	dispatcher *fanout.Dispatcher,
	unreadCounter UnreadCounter,
	logger *log.Logger,
) *Handler {
	return &Handler{
		hub:           hub,
		jwtService:    jwtService,
		rooms:         rooms,
		messages:      messages,
		notifications: notifications,
		reassembler:   reassembler,
		tracker:       tracker,
		notifier:      notifier,
		dispatcher:    dispatcher,
		unread:        unreadCounter,
		logger:        logger,
	}
}

// ServeWS upgrades the connection and runs its read loop. A missing or
// invalid token does not reject the upgrade: the connection is
// accepted and every operation on it yields an authentication-required
// error event instead.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	username := h.authenticate(r)
	client := h.hub.NewClient(conn, username)

	if username != "" {
		h.logger.Info("Client connected", "user", username)
	} else {
		h.logger.Warn("Unauthenticated client connected", "remote", r.RemoteAddr)
	}

	ctx := context.Background()

	defer func() {
		h.disconnect(ctx, client)
		conn.Close()
	}()

	for {
		var in Inbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		h.route(ctx, client, &in)
	}
}

// authenticate extracts the principal from the Authorization header or
// the token query parameter. Empty string means no principal.
func (h *Handler) authenticate(r *http.Request) string {
	token := ""
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token = strings.TrimSpace(authHeader[len("Bearer "):])
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return ""
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		h.logger.Warn("Invalid token on websocket connect", "error", err)
		return ""
	}

	return claims.Username
}

// disconnect announces the user's exit from every room they were
// viewing, purges their presence and drops their subscriptions.
func (h *Handler) disconnect(ctx context.Context, c *Client) {
	if c.username != "" {
		for _, roomID := range h.tracker.ActiveRooms(c.username) {
			if participants, err := h.participantsOf(ctx, roomID); err == nil {
				h.dispatcher.FanoutPresenceEvent(fanout.EventUserExited, roomID, c.username, participants)
			}
		}
		h.tracker.MarkOffline(c.username)
		h.logger.Info("Client disconnected", "user", c.username)
	}

	h.hub.Remove(c)
}

// route dispatches one inbound envelope. Domain errors never escape:
// they are classified and pushed back on the user's error channel.
func (h *Handler) route(ctx context.Context, c *Client, in *Inbound) {
	if c.username == "" {
		ev := &fanout.Event{
			Type:        fanout.EventError,
			ErrorKind:   string(apperr.KindAuthRequired),
			ErrorDetail: "operation requires an authenticated principal",
			CreatedAt:   time.Now(),
		}
		c.Deliver(ev)
		h.hub.Publish(fanout.MonitorChannel, ev)
		return
	}

	var err error
	switch in.Type {
	case OpSendMessage:
		err = h.sendMessage(ctx, c.username, in)
	case OpUpdateStatus:
		err = h.updateStatus(ctx, c.username, in)
	case OpJoinRoom:
		err = h.joinRoom(ctx, c.username, in)
	case OpLeaveRoom:
		err = h.leaveRoom(ctx, c, in)
	case OpEnterRoom:
		err = h.enterRoom(ctx, c, in)
	case OpExitRoom:
		err = h.exitRoom(ctx, c, in)
	case OpCreateRoom:
		err = h.createRoom(ctx, c.username, in)
	case OpUploadChunk:
		err = h.uploadChunk(ctx, c.username, in)
	case OpGetUnreadCounts:
		err = h.getUnreadCounts(ctx, c.username)
	case OpMarkRoomRead:
		err = h.markRoomRead(ctx, c.username, in)
	case OpGetRoomPresence:
		err = h.getRoomPresence(ctx, c, in)
	case OpNotificationsUnread:
		err = h.notificationsUnread(ctx, c)
	case OpNotificationRead:
		err = h.notificationRead(ctx, c, in)
	case OpNotificationsAllRead:
		err = h.notificationsAllRead(ctx, c)
	case OpNotificationsCount:
		err = h.notificationsCount(ctx, c)
	default:
		err = apperr.New(apperr.KindBadRequest, fmt.Sprintf("unknown operation: %s", in.Type))
	}

	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.logger.Error("Operation failed", "op", in.Type, "user", c.username, "error", err)
		}
		h.dispatcher.FanoutError(c.username, err)
	}
}

func (h *Handler) sendMessage(ctx context.Context, username string, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}
	if in.Content == "" {
		return apperr.New(apperr.KindBadRequest, "message content is required")
	}

	room, err := h.requireParticipant(ctx, roomID, username)
	if err != nil {
		return err
	}

	msg := &db.Message{
		RoomID:      roomID,
		Sender:      username,
		Content:     in.Content,
		ContentType: in.ContentType,
	}
	if msg.ContentType == "" {
		msg.ContentType = "text/plain"
	}

	if err := h.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}

	h.afterMessageSaved(ctx, msg, room)
	return nil
}

// afterMessageSaved runs the fan-out pipeline for a durably saved
// message: room broadcast, unread counters, then the per-recipient
// notification decision. Everything here is best-effort, the message
// itself is already safe.
func (h *Handler) afterMessageSaved(ctx context.Context, msg *db.Message, room *db.Room) {
	h.dispatcher.FanoutChatMessage(msg, room.Participants)

	notifType := db.NotificationGroupMessage
	title := fmt.Sprintf("New message in %s", room.Name)
	if room.IsPrivate {
		notifType = db.NotificationNewMessage
		title = fmt.Sprintf("New message from %s", msg.Sender)
	}

	for _, recipient := range room.Participants {
		if recipient == msg.Sender {
			continue
		}

		if err := h.unread.Increment(ctx, recipient, msg.RoomID.String()); err != nil {
			h.logger.Warn("Failed to bump unread counter", "user", recipient, "error", err)
		} else if counts, err := h.unread.Counts(ctx, recipient); err == nil {
			h.dispatcher.FanoutUnreadCounts(recipient, counts)
		}

		roomID := msg.RoomID
		messageID := msg.ID
		candidate := &db.Notification{
			Recipient: recipient,
			Type:      notifType,
			Title:     title,
			Content:   msg.Content,
			Priority:  db.PriorityNormal,
			MessageID: &messageID,
			RoomID:    &roomID,
			Sender:    msg.Sender,
		}
		if err := h.notifier.Offer(ctx, candidate); err != nil {
			// Third-party delivery failure: the sender's action already
			// succeeded, so log and move on.
			h.logger.Warn("Notification delivery failed",
				"recipient", recipient, "message", msg.ID, "error", err)
		}
	}
}

func (h *Handler) updateStatus(ctx context.Context, username string, in *Inbound) error {
	messageID, err := uuid.Parse(in.MessageID)
	if err != nil {
		return apperr.New(apperr.KindBadRequest, "invalid message id")
	}
	if in.Status != db.MessageStatusDelivered && in.Status != db.MessageStatusRead {
		return apperr.New(apperr.KindInvalidStatus,
			fmt.Sprintf("status must be DELIVERED or READ, got %q", in.Status))
	}

	msg, err := h.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			// Client may be racing a deletion; skip silently.
			h.logger.Debug("Status update for missing message skipped", "message", messageID)
			return nil
		}
		return err
	}

	if msg.Sender == username {
		return apperr.New(apperr.KindInvalidStatus, "cannot mark your own message as delivered or read")
	}

	if _, err := h.requireParticipant(ctx, msg.RoomID, username); err != nil {
		return err
	}

	if err := h.messages.UpdateMessageStatus(ctx, messageID, in.Status, time.Now()); err != nil {
		return err
	}

	h.dispatcher.FanoutStatusUpdate(msg, in.Status, username)
	return nil
}

func (h *Handler) joinRoom(ctx context.Context, username string, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}

	room, err := h.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return err
	}

	if err := h.rooms.AddParticipant(ctx, roomID, username); err != nil {
		return err
	}

	participants := append(room.Participants, username)
	h.dispatcher.FanoutPresenceEvent(fanout.EventUserJoined, in.RoomID, username, participants)
	return nil
}

func (h *Handler) leaveRoom(ctx context.Context, c *Client, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}

	room, err := h.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return err
	}

	if err := h.rooms.RemoveParticipant(ctx, roomID, c.username); err != nil {
		return err
	}

	h.tracker.MarkInactive(c.username, in.RoomID)
	h.hub.Unsubscribe(c, fanout.RoomChannel(in.RoomID))

	h.dispatcher.FanoutPresenceEvent(fanout.EventUserLeft, in.RoomID, c.username, room.Participants)
	return nil
}

func (h *Handler) enterRoom(ctx context.Context, c *Client, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}

	room, err := h.requireParticipant(ctx, roomID, c.username)
	if err != nil {
		return err
	}

	h.tracker.MarkActive(c.username, in.RoomID)
	h.hub.Subscribe(c, fanout.RoomChannel(in.RoomID))

	h.dispatcher.FanoutPresenceEvent(fanout.EventUserEntered, in.RoomID, c.username, room.Participants)
	return nil
}

func (h *Handler) exitRoom(ctx context.Context, c *Client, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}

	h.tracker.MarkInactive(c.username, in.RoomID)
	h.hub.Unsubscribe(c, fanout.RoomChannel(in.RoomID))

	if participants, err := h.participantsOf(ctx, roomID.String()); err == nil {
		h.dispatcher.FanoutPresenceEvent(fanout.EventUserExited, in.RoomID, c.username, participants)
	}
	return nil
}

func (h *Handler) createRoom(ctx context.Context, username string, in *Inbound) error {
	if in.Name == "" && !in.IsPrivate {
		return apperr.New(apperr.KindBadRequest, "room name is required")
	}

	participants := in.Participants
	if !contains(participants, username) {
		participants = append(participants, username)
	}
	if len(participants) < 2 {
		return apperr.New(apperr.KindBadRequest, "a room needs at least two participants")
	}
	if in.IsPrivate && len(participants) != 2 {
		return apperr.New(apperr.KindBadRequest, "a private room has exactly two participants")
	}

	room := &db.Room{
		Name:         in.Name,
		IsPrivate:    in.IsPrivate,
		CreatedBy:    username,
		Participants: participants,
	}

	if err := h.rooms.CreateRoom(ctx, room); err != nil {
		return err
	}

	ev := &fanout.Event{
		Type:      fanout.EventRoomCreated,
		RoomID:    room.ID.String(),
		Sender:    username,
		Content:   room.Name,
		Users:     participants,
		CreatedAt: room.CreatedAt,
	}
	for _, participant := range participants {
		h.dispatcher.DeliverToUser(participant, fanout.UserMessages(participant), ev)
	}

	roomID := room.ID
	for _, recipient := range participants {
		if recipient == username {
			continue
		}
		candidate := &db.Notification{
			Recipient: recipient,
			Type:      db.NotificationRoomInvited,
			Title:     fmt.Sprintf("%s added you to a room", username),
			Content:   room.Name,
			Priority:  db.PriorityNormal,
			RoomID:    &roomID,
			Sender:    username,
		}
		if err := h.notifier.Offer(ctx, candidate); err != nil {
			h.logger.Warn("Room invite notification failed", "recipient", recipient, "error", err)
		}
	}

	return nil
}

func (h *Handler) uploadChunk(ctx context.Context, username string, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}

	room, err := h.requireParticipant(ctx, roomID, username)
	if err != nil {
		return err
	}

	data, err := base64.StdEncoding.DecodeString(in.Base64Data)
	if err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "chunk payload is not valid base64", err)
	}

	completed, err := h.reassembler.Submit(ctx, &upload.Chunk{
		UploadID:    in.UploadID,
		Index:       in.ChunkIndex,
		Total:       in.TotalChunks,
		ChunkSize:   in.ChunkSize,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		Owner:       username,
		RoomID:      in.RoomID,
		Data:        data,
	})
	if err != nil {
		// Reassembly and storage failures stay between us and the
		// uploader; no message exists yet for anyone else to see.
		return err
	}
	if completed == nil {
		return nil
	}

	msg := &db.Message{
		RoomID:      roomID,
		Sender:      username,
		Content:     completed.FileName,
		ContentType: completed.ContentType,
		FilePath:    completed.Path,
		FileName:    completed.FileName,
		FileHash:    completed.Hash,
		FileSize:    completed.Size,
	}

	if err := h.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}

	h.afterMessageSaved(ctx, msg, room)
	return nil
}

func (h *Handler) getUnreadCounts(ctx context.Context, username string) error {
	counts, err := h.unread.Counts(ctx, username)
	if err != nil {
		return err
	}

	h.dispatcher.FanoutUnreadCounts(username, counts)
	return nil
}

func (h *Handler) markRoomRead(ctx context.Context, username string, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}

	if _, err := h.requireParticipant(ctx, roomID, username); err != nil {
		return err
	}

	if _, err := h.messages.MarkRoomRead(ctx, roomID, username, time.Now()); err != nil {
		return err
	}

	if err := h.unread.Reset(ctx, username, in.RoomID); err != nil {
		h.logger.Warn("Failed to reset unread counter", "user", username, "error", err)
	}

	counts, err := h.unread.Counts(ctx, username)
	if err != nil {
		return err
	}
	h.dispatcher.FanoutUnreadCounts(username, counts)
	return nil
}

func (h *Handler) getRoomPresence(ctx context.Context, c *Client, in *Inbound) error {
	roomID, err := parseRoomID(in.RoomID)
	if err != nil {
		return err
	}

	if _, err := h.requireParticipant(ctx, roomID, c.username); err != nil {
		return err
	}

	c.Deliver(&fanout.Event{
		Type:      fanout.EventRoomPresence,
		RoomID:    in.RoomID,
		Users:     h.tracker.ActiveUsers(in.RoomID),
		CreatedAt: time.Now(),
	})
	return nil
}

func (h *Handler) notificationsUnread(ctx context.Context, c *Client) error {
	notifications, err := h.notifications.GetUnreadNotifications(ctx, c.username, 50)
	if err != nil {
		return err
	}

	c.Deliver(&fanout.Event{
		Type:          fanout.EventNotificationList,
		Notifications: notifications,
		CreatedAt:     time.Now(),
	})
	return nil
}

func (h *Handler) notificationRead(ctx context.Context, c *Client, in *Inbound) error {
	id, err := uuid.Parse(in.NotificationID)
	if err != nil {
		return apperr.New(apperr.KindBadRequest, "invalid notification id")
	}

	if err := h.notifications.MarkNotificationRead(ctx, id, c.username, time.Now()); err != nil {
		return err
	}

	return h.notificationsCount(ctx, c)
}

func (h *Handler) notificationsAllRead(ctx context.Context, c *Client) error {
	if _, err := h.notifications.MarkAllNotificationsRead(ctx, c.username, time.Now()); err != nil {
		return err
	}

	return h.notificationsCount(ctx, c)
}

func (h *Handler) notificationsCount(ctx context.Context, c *Client) error {
	count, err := h.notifications.CountUnreadNotifications(ctx, c.username)
	if err != nil {
		return err
	}

	c.Deliver(&fanout.Event{
		Type:      fanout.EventNotificationCount,
		Count:     count,
		CreatedAt: time.Now(),
	})
	return nil
}

// requireParticipant loads the room and checks the acting user is a
// member of it.
func (h *Handler) requireParticipant(ctx context.Context, roomID uuid.UUID, username string) (*db.Room, error) {
	room, err := h.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if !contains(room.Participants, username) {
		return nil, apperr.New(apperr.KindAccessDenied, "you are not a participant of this room")
	}

	return room, nil
}

func (h *Handler) participantsOf(ctx context.Context, roomID string) ([]string, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return nil, err
	}
	return h.rooms.GetParticipants(ctx, id)
}

func parseRoomID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindBadRequest, "invalid room id")
	}
	return id, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

package ws

import (
	"context"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rx3lixir/rill/internal/apperr"
	"github.com/rx3lixir/rill/internal/db"
	"github.com/rx3lixir/rill/internal/fanout"
	"github.com/rx3lixir/rill/internal/notify"
	"github.com/rx3lixir/rill/internal/presence"
	"github.com/rx3lixir/rill/internal/upload"
)

type fakeRoomStore struct {
	rooms map[uuid.UUID]*db.Room
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{rooms: make(map[uuid.UUID]*db.Room)}
}

func (s *fakeRoomStore) CreateRoom(_ context.Context, room *db.Room) error {
	room.ID = uuid.New()
	room.CreatedAt = time.Now()
	s.rooms[room.ID] = room
	return nil
}

func (s *fakeRoomStore) GetRoomByID(_ context.Context, id uuid.UUID) (*db.Room, error) {
	room, ok := s.rooms[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "room not found")
	}
	return room, nil
}

func (s *fakeRoomStore) GetParticipants(_ context.Context, roomID uuid.UUID) ([]string, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "room not found")
	}
	return room.Participants, nil
}

func (s *fakeRoomStore) IsParticipant(_ context.Context, roomID uuid.UUID, username string) (bool, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	return contains(room.Participants, username), nil
}

func (s *fakeRoomStore) AddParticipant(_ context.Context, roomID uuid.UUID, username string) error {
	room, ok := s.rooms[roomID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "room not found")
	}
	if !contains(room.Participants, username) {
		room.Participants = append(room.Participants, username)
	}
	return nil
}

func (s *fakeRoomStore) RemoveParticipant(_ context.Context, roomID uuid.UUID, username string) error {
	room, ok := s.rooms[roomID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "room not found")
	}
	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p != username {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
	return nil
}

func (s *fakeRoomStore) FindPrivateRoom(_ context.Context, userA, userB string) (*db.Room, error) {
	for _, room := range s.rooms {
		if room.IsPrivate && contains(room.Participants, userA) && contains(room.Participants, userB) {
			return room, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "room not found")
}

// seed registers a room without going through CreateRoom validation.
func (s *fakeRoomStore) seed(name string, isPrivate bool, participants ...string) *db.Room {
	room := &db.Room{
		ID:           uuid.New(),
		Name:         name,
		IsPrivate:    isPrivate,
		CreatedBy:    participants[0],
		Participants: participants,
		CreatedAt:    time.Now(),
	}
	s.rooms[room.ID] = room
	return room
}

type fakeMessageStore struct {
	messages map[uuid.UUID]*db.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[uuid.UUID]*db.Message)}
}

func (s *fakeMessageStore) CreateMessage(_ context.Context, msg *db.Message) error {
	msg.ID = uuid.New()
	msg.Status = db.MessageStatusSent
	msg.CreatedAt = time.Now()
	s.messages[msg.ID] = msg
	return nil
}

func (s *fakeMessageStore) GetMessageByID(_ context.Context, id uuid.UUID) (*db.Message, error) {
	msg, ok := s.messages[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "message not found")
	}
	return msg, nil
}

func (s *fakeMessageStore) UpdateMessageStatus(_ context.Context, id uuid.UUID, status string, at time.Time) error {
	msg, ok := s.messages[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "message not found")
	}
	msg.Status = status
	return nil
}

func (s *fakeMessageStore) MarkRoomRead(_ context.Context, roomID uuid.UUID, username string, at time.Time) (int64, error) {
	var n int64
	for _, msg := range s.messages {
		if msg.RoomID == roomID && msg.Sender != username && msg.Status != db.MessageStatusRead {
			msg.Status = db.MessageStatusRead
			n++
		}
	}
	return n, nil
}

type fakeNotificationStore struct {
	byRecipient map[string][]*db.Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{byRecipient: make(map[string][]*db.Notification)}
}

func (s *fakeNotificationStore) CreateNotification(_ context.Context, n *db.Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	s.byRecipient[n.Recipient] = append(s.byRecipient[n.Recipient], n)
	return nil
}

func (s *fakeNotificationStore) GetUnreadNotifications(_ context.Context, recipient string, limit int) ([]*db.Notification, error) {
	var out []*db.Notification
	for _, n := range s.byRecipient[recipient] {
		if !n.Read {
			out = append(out, n)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeNotificationStore) CountUnreadNotifications(_ context.Context, recipient string) (int, error) {
	count := 0
	for _, n := range s.byRecipient[recipient] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *fakeNotificationStore) MarkNotificationRead(_ context.Context, id uuid.UUID, recipient string, at time.Time) error {
	for _, n := range s.byRecipient[recipient] {
		if n.ID == id {
			n.Read = true
			n.ReadAt = &at
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "notification not found")
}

func (s *fakeNotificationStore) MarkAllNotificationsRead(_ context.Context, recipient string, at time.Time) (int64, error) {
	var n int64
	for _, notif := range s.byRecipient[recipient] {
		if !notif.Read {
			notif.Read = true
			notif.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (s *fakeNotificationStore) PruneOfflineBacklog(_ context.Context, recipient string, max int) error {
	return nil
}

type fakePreferenceStore struct {
	prefs map[string]*db.NotificationPreferences
}

func (s *fakePreferenceStore) GetPreferences(_ context.Context, username string) (*db.NotificationPreferences, error) {
	if p, ok := s.prefs[username]; ok {
		return p, nil
	}
	return db.DefaultPreferences(username), nil
}

type fakeUnreadCounter struct {
	counts map[string]map[string]int
}

func newFakeUnreadCounter() *fakeUnreadCounter {
	return &fakeUnreadCounter{counts: make(map[string]map[string]int)}
}

func (c *fakeUnreadCounter) Increment(_ context.Context, username, roomID string) error {
	if c.counts[username] == nil {
		c.counts[username] = make(map[string]int)
	}
	c.counts[username][roomID]++
	return nil
}

func (c *fakeUnreadCounter) Reset(_ context.Context, username, roomID string) error {
	delete(c.counts[username], roomID)
	return nil
}

func (c *fakeUnreadCounter) Counts(_ context.Context, username string) (map[string]int, error) {
	out := make(map[string]int, len(c.counts[username]))
	for room, n := range c.counts[username] {
		out[room] = n
	}
	return out, nil
}

type handlerFixture struct {
	handler       *Handler
	hub           *Hub
	rooms         *fakeRoomStore
	messages      *fakeMessageStore
	notifications *fakeNotificationStore
	prefs         *fakePreferenceStore
	unread        *fakeUnreadCounter
	tracker       *presence.Tracker
	storage       *fakeUploadStorage
}

type fakeUploadStorage struct {
	objects map[string][]byte
}

func (s *fakeUploadStorage) UploadFile(_ context.Context, objectName string, data []byte, _ string) (string, error) {
	s.objects[objectName] = append([]byte(nil), data...)
	return objectName, nil
}

func newHandlerFixture() *handlerFixture {
	logger := log.New(io.Discard)
	hub := NewHub(logger)
	dispatcher := fanout.NewDispatcher(hub, logger)
	tracker := presence.NewTracker()

	rooms := newFakeRoomStore()
	messages := newFakeMessageStore()
	notifications := newFakeNotificationStore()
	prefs := &fakePreferenceStore{prefs: make(map[string]*db.NotificationPreferences)}
	unreadCounter := newFakeUnreadCounter()
	storage := &fakeUploadStorage{objects: make(map[string][]byte)}

	notifier := notify.NewNotifier(notify.NewGate(), tracker, notifications, prefs, dispatcher, logger)
	reassembler := upload.NewReassembler(storage, logger, upload.DefaultMaxFileBytes)

	handler := NewHandler(
		hub, nil,
		rooms, messages, notifications,
		reassembler, tracker, notifier, dispatcher,
		unreadCounter, logger,
	)

	return &handlerFixture{
		handler:       handler,
		hub:           hub,
		rooms:         rooms,
		messages:      messages,
		notifications: notifications,
		prefs:         prefs,
		unread:        unreadCounter,
		tracker:       tracker,
		storage:       storage,
	}
}

// connect registers a client the way NewClient does, minus the conn
// and write pump.
func (f *handlerFixture) connect(username string) *Client {
	c := bareClient(username)
	if username != "" {
		f.hub.Subscribe(c, fanout.UserMessages(username))
		f.hub.Subscribe(c, fanout.UserStatus(username))
		f.hub.Subscribe(c, fanout.UserErrors(username))
		f.hub.Subscribe(c, fanout.UserNotifications(username))
		f.hub.Subscribe(c, fanout.UserUnread(username))
	}
	return c
}

func eventsOfType(events []*fanout.Event, eventType string) []*fanout.Event {
	var out []*fanout.Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestRouteRejectsUnauthenticated(t *testing.T) {
	f := newHandlerFixture()
	anon := f.connect("")
	monitor := bareClient("ops")
	f.hub.Subscribe(monitor, fanout.MonitorChannel)

	f.handler.route(context.Background(), anon, &Inbound{Type: OpSendMessage, Content: "hi"})

	got := drain(anon)
	require.Len(t, got, 1)
	assert.Equal(t, fanout.EventError, got[0].Type)
	assert.Equal(t, string(apperr.KindAuthRequired), got[0].ErrorKind)

	require.Len(t, drain(monitor), 1)
}

func TestSendMessageFansOutToRoom(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	room := f.rooms.seed("general", false, "alice", "bob")

	f.handler.route(context.Background(), alice, &Inbound{
		Type:    OpSendMessage,
		RoomID:  room.ID.String(),
		Content: "hello everyone",
	})

	require.Empty(t, eventsOfType(drain(alice), fanout.EventError))

	bobEvents := drain(bob)
	messages := eventsOfType(bobEvents, fanout.EventChatMessage)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello everyone", messages[0].Content)
	assert.Equal(t, "alice", messages[0].Sender)

	unread := eventsOfType(bobEvents, fanout.EventUnreadCounts)
	require.Len(t, unread, 1)
	assert.Equal(t, 1, unread[0].UnreadCounts[room.ID.String()])

	pushes := eventsOfType(bobEvents, fanout.EventNotification)
	require.Len(t, pushes, 1)
	assert.Equal(t, db.NotificationGroupMessage, pushes[0].Notification.Type)

	require.Len(t, f.notifications.byRecipient["bob"], 1)
}

func TestSendMessageAccessDenied(t *testing.T) {
	f := newHandlerFixture()
	mallory := f.connect("mallory")
	room := f.rooms.seed("general", false, "alice", "bob")

	f.handler.route(context.Background(), mallory, &Inbound{
		Type:    OpSendMessage,
		RoomID:  room.ID.String(),
		Content: "let me in",
	})

	got := eventsOfType(drain(mallory), fanout.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, string(apperr.KindAccessDenied), got[0].ErrorKind)
	assert.Empty(t, f.messages.messages)
}

func TestSendMessageSkipsNotificationForActiveViewer(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	room := f.rooms.seed("pair", true, "alice", "bob")

	f.handler.route(context.Background(), bob, &Inbound{Type: OpEnterRoom, RoomID: room.ID.String()})
	drain(bob)

	f.handler.route(context.Background(), alice, &Inbound{
		Type:    OpSendMessage,
		RoomID:  room.ID.String(),
		Content: "hi",
	})

	bobEvents := drain(bob)
	// bob sees the message itself but no notification: he has the room open
	require.Len(t, eventsOfType(bobEvents, fanout.EventChatMessage), 2, "room channel and private channel")
	assert.Empty(t, eventsOfType(bobEvents, fanout.EventNotification))
	assert.Empty(t, f.notifications.byRecipient["bob"])
}

func TestUpdateStatusRules(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	room := f.rooms.seed("pair", true, "alice", "bob")

	msg := &db.Message{RoomID: room.ID, Sender: "alice", Content: "hi"}
	require.NoError(t, f.messages.CreateMessage(context.Background(), msg))

	// sender cannot advance their own message
	f.handler.route(context.Background(), alice, &Inbound{
		Type: OpUpdateStatus, MessageID: msg.ID.String(), Status: db.MessageStatusRead,
	})
	got := eventsOfType(drain(alice), fanout.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, string(apperr.KindInvalidStatus), got[0].ErrorKind)

	// SENT is not a valid target status
	f.handler.route(context.Background(), bob, &Inbound{
		Type: OpUpdateStatus, MessageID: msg.ID.String(), Status: db.MessageStatusSent,
	})
	got = eventsOfType(drain(bob), fanout.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, string(apperr.KindInvalidStatus), got[0].ErrorKind)

	// a valid read lands and notifies the sender's status channel
	f.handler.route(context.Background(), bob, &Inbound{
		Type: OpUpdateStatus, MessageID: msg.ID.String(), Status: db.MessageStatusRead,
	})
	assert.Empty(t, eventsOfType(drain(bob), fanout.EventError))
	statusEvents := eventsOfType(drain(alice), fanout.EventStatusUpdate)
	require.Len(t, statusEvents, 1)
	assert.Equal(t, db.MessageStatusRead, statusEvents[0].Status)
	assert.Equal(t, db.MessageStatusRead, f.messages.messages[msg.ID].Status)
}

func TestUpdateStatusMissingMessageIsSilent(t *testing.T) {
	f := newHandlerFixture()
	bob := f.connect("bob")

	f.handler.route(context.Background(), bob, &Inbound{
		Type: OpUpdateStatus, MessageID: uuid.NewString(), Status: db.MessageStatusRead,
	})

	assert.Empty(t, drain(bob))
}

func TestEnterAndExitRoomTrackPresence(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	room := f.rooms.seed("pair", true, "alice", "bob")

	f.handler.route(context.Background(), alice, &Inbound{Type: OpEnterRoom, RoomID: room.ID.String()})

	assert.True(t, f.tracker.IsActive("alice", room.ID.String()))
	entered := eventsOfType(drain(bob), fanout.EventUserEntered)
	require.Len(t, entered, 1)
	assert.Equal(t, "alice", entered[0].Username)

	f.handler.route(context.Background(), alice, &Inbound{Type: OpExitRoom, RoomID: room.ID.String()})

	assert.False(t, f.tracker.IsActive("alice", room.ID.String()))
	require.Len(t, eventsOfType(drain(bob), fanout.EventUserExited), 1)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")

	f.handler.route(context.Background(), alice, &Inbound{Type: OpCreateRoom, Name: "solo"})
	got := eventsOfType(drain(alice), fanout.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, string(apperr.KindBadRequest), got[0].ErrorKind)

	f.handler.route(context.Background(), alice, &Inbound{
		Type: OpCreateRoom, IsPrivate: true, Participants: []string{"bob", "carol"},
	})
	got = eventsOfType(drain(alice), fanout.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, string(apperr.KindBadRequest), got[0].ErrorKind)
}

func TestCreateRoomNotifiesParticipants(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")

	f.handler.route(context.Background(), alice, &Inbound{
		Type: OpCreateRoom, Name: "planning", Participants: []string{"alice", "bob"},
	})

	require.Len(t, eventsOfType(drain(alice), fanout.EventRoomCreated), 1)

	bobEvents := drain(bob)
	require.Len(t, eventsOfType(bobEvents, fanout.EventRoomCreated), 1)
	invites := eventsOfType(bobEvents, fanout.EventNotification)
	require.Len(t, invites, 1)
	assert.Equal(t, db.NotificationRoomInvited, invites[0].Notification.Type)
}

func TestMarkRoomReadResetsCounter(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	room := f.rooms.seed("pair", true, "alice", "bob")

	f.handler.route(context.Background(), alice, &Inbound{
		Type: OpSendMessage, RoomID: room.ID.String(), Content: "one",
	})
	f.handler.route(context.Background(), alice, &Inbound{
		Type: OpSendMessage, RoomID: room.ID.String(), Content: "two",
	})
	drain(bob)
	require.Equal(t, 2, f.unread.counts["bob"][room.ID.String()])

	f.handler.route(context.Background(), bob, &Inbound{Type: OpMarkRoomRead, RoomID: room.ID.String()})

	bobEvents := drain(bob)
	assert.Empty(t, eventsOfType(bobEvents, fanout.EventError))
	counts := eventsOfType(bobEvents, fanout.EventUnreadCounts)
	require.Len(t, counts, 1)
	assert.Empty(t, counts[0].UnreadCounts)
	assert.Equal(t, 0, f.unread.counts["bob"][room.ID.String()])
}

func TestGetRoomPresence(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	room := f.rooms.seed("pair", true, "alice", "bob")

	f.handler.route(context.Background(), bob, &Inbound{Type: OpEnterRoom, RoomID: room.ID.String()})
	drain(bob)

	f.handler.route(context.Background(), alice, &Inbound{Type: OpGetRoomPresence, RoomID: room.ID.String()})

	got := eventsOfType(drain(alice), fanout.EventRoomPresence)
	require.Len(t, got, 1)
	assert.ElementsMatch(t, []string{"bob"}, got[0].Users)
}

func TestNotificationReadFlow(t *testing.T) {
	f := newHandlerFixture()
	bob := f.connect("bob")

	n := &db.Notification{Recipient: "bob", Type: db.NotificationNewMessage, Title: "t"}
	require.NoError(t, f.notifications.CreateNotification(context.Background(), n))

	f.handler.route(context.Background(), bob, &Inbound{Type: OpNotificationsUnread})
	lists := eventsOfType(drain(bob), fanout.EventNotificationList)
	require.Len(t, lists, 1)
	require.Len(t, lists[0].Notifications, 1)

	f.handler.route(context.Background(), bob, &Inbound{
		Type: OpNotificationRead, NotificationID: n.ID.String(),
	})
	counts := eventsOfType(drain(bob), fanout.EventNotificationCount)
	require.Len(t, counts, 1)
	assert.Equal(t, 0, counts[0].Count)
	assert.True(t, n.Read)
}

func TestUnknownOperation(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")

	f.handler.route(context.Background(), alice, &Inbound{Type: "time_travel"})

	got := eventsOfType(drain(alice), fanout.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, string(apperr.KindBadRequest), got[0].ErrorKind)
}

// TestChunkedUploadEndToEnd drives a three-chunk file through the full
// pipeline with the middle chunk arriving last: the message appears
// once, the recipient gets exactly one notification and the sender
// gets nothing back.
func TestChunkedUploadEndToEnd(t *testing.T) {
	f := newHandlerFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	room := f.rooms.seed("pair", true, "alice", "bob")

	content := []byte("abcdefghijklmnopqrstuvwxyz0123456789ABCDEF")
	const chunkSize = 16

	sendChunk := func(index int) {
		end := (index + 1) * chunkSize
		if end > len(content) {
			end = len(content)
		}
		f.handler.route(context.Background(), alice, &Inbound{
			Type:        OpUploadChunk,
			RoomID:      room.ID.String(),
			UploadID:    "upload-1",
			ChunkIndex:  index,
			TotalChunks: 3,
			ChunkSize:   chunkSize,
			FileName:    "notes.txt",
			ContentType: "text/plain",
			Base64Data:  base64.StdEncoding.EncodeToString(content[index*chunkSize : end]),
		})
	}

	sendChunk(0)
	sendChunk(2)
	assert.Empty(t, drain(bob), "nothing visible until the upload completes")

	sendChunk(1)

	require.Empty(t, eventsOfType(drain(alice), fanout.EventError))

	require.Len(t, f.messages.messages, 1)
	var msg *db.Message
	for _, m := range f.messages.messages {
		msg = m
	}
	assert.Equal(t, "notes.txt", msg.FileName)
	assert.Equal(t, int64(len(content)), msg.FileSize)
	assert.NotEmpty(t, msg.FileHash)

	stored, ok := f.storage.objects[msg.FilePath]
	require.True(t, ok)
	assert.Equal(t, content, stored)

	bobEvents := drain(bob)
	messages := eventsOfType(bobEvents, fanout.EventChatMessage)
	require.Len(t, messages, 1)
	assert.Equal(t, "notes.txt", messages[0].FileName)

	pushes := eventsOfType(bobEvents, fanout.EventNotification)
	require.Len(t, pushes, 1)
	require.Len(t, f.notifications.byRecipient["bob"], 1)
	assert.Empty(t, f.notifications.byRecipient["alice"])
}

package ws

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rx3lixir/rill/internal/fanout"
)

// bareClient builds a client without a conn or writePump so tests can
// read the send channel directly.
func bareClient(username string) *Client {
	return &Client{
		username: username,
		send:     make(chan *fanout.Event, sendBufferSize),
		channels: make(map[string]struct{}),
	}
}

func drain(c *Client) []*fanout.Event {
	var out []*fanout.Event
	for {
		select {
		case ev := <-c.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub(log.New(io.Discard))
	alice := bareClient("alice")
	bob := bareClient("bob")

	hub.Subscribe(alice, "room:1")
	hub.Subscribe(bob, "room:1")

	ev := &fanout.Event{Type: fanout.EventChatMessage}
	require.NoError(t, hub.Publish("room:1", ev))

	require.Len(t, drain(alice), 1)
	require.Len(t, drain(bob), 1)
}

func TestPublishSkipsOtherChannels(t *testing.T) {
	hub := NewHub(log.New(io.Discard))
	alice := bareClient("alice")

	hub.Subscribe(alice, "room:1")

	require.NoError(t, hub.Publish("room:2", &fanout.Event{Type: fanout.EventChatMessage}))
	assert.Empty(t, drain(alice))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(log.New(io.Discard))
	alice := bareClient("alice")

	hub.Subscribe(alice, "room:1")
	hub.Unsubscribe(alice, "room:1")

	require.NoError(t, hub.Publish("room:1", &fanout.Event{Type: fanout.EventChatMessage}))
	assert.Empty(t, drain(alice))
	assert.Empty(t, alice.channels)
}

func TestRemoveDropsAllSubscriptionsAndClosesSend(t *testing.T) {
	hub := NewHub(log.New(io.Discard))
	alice := bareClient("alice")
	bob := bareClient("bob")

	hub.Subscribe(alice, "room:1")
	hub.Subscribe(alice, "room:2")
	hub.Subscribe(bob, "room:1")

	hub.Remove(alice)

	require.NoError(t, hub.Publish("room:1", &fanout.Event{Type: fanout.EventChatMessage}))
	require.Len(t, drain(bob), 1)

	_, open := <-alice.send
	assert.False(t, open, "send channel must be closed after Remove")
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(log.New(io.Discard))
	alice := bareClient("alice")
	hub.Subscribe(alice, "room:1")

	for i := 0; i < sendBufferSize+10; i++ {
		require.NoError(t, hub.Publish("room:1", &fanout.Event{Type: fanout.EventChatMessage}))
	}

	// the overflow is dropped, not queued and not an error
	assert.Len(t, drain(alice), sendBufferSize)
}

func TestDeliverBypassesChannelTable(t *testing.T) {
	alice := bareClient("alice")

	ev := &fanout.Event{Type: fanout.EventRoomPresence}
	alice.Deliver(ev)

	got := drain(alice)
	require.Len(t, got, 1)
	assert.Same(t, ev, got[0])
}

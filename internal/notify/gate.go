package notify

import (
	"time"

	"github.com/rx3lixir/rill/internal/db"
)

// Gate decides, per recipient, whether a candidate notification gets
// persisted and pushed. It holds no mutable state; the clock is
// injectable for tests.
type Gate struct {
	now func() time.Time
}

// Decision is the outcome of Decide for one recipient.
type Decision struct {
	Persist      bool
	PushRealtime bool
}

func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// NewGateAt creates a gate with a fixed clock.
func NewGateAt(now func() time.Time) *Gate {
	return &Gate{now: now}
}

// ShouldSuppress reports whether the do-not-disturb policy silences
// all notifications right now.
//
// DND off: never suppress. DND on with no window: always suppress.
// With a window: start < end is a same-day window, start > end wraps
// overnight (22:00-08:00), start == end means 24-hour DND. Malformed
// time strings fall back to the raw DND flag.
func (g *Gate) ShouldSuppress(prefs *db.NotificationPreferences) bool {
	if prefs == nil || !prefs.DNDEnabled {
		return false
	}

	if prefs.DNDStart == nil || prefs.DNDEnd == nil {
		return true
	}

	start, err := parseClock(*prefs.DNDStart)
	if err != nil {
		return true
	}
	end, err := parseClock(*prefs.DNDEnd)
	if err != nil {
		return true
	}

	now := g.now()
	minute := now.Hour()*60 + now.Minute()

	switch {
	case start == end:
		return true
	case start < end:
		return minute >= start && minute <= end
	default:
		return minute >= start || minute <= end
	}
}

// IsTypeEnabled reports whether the recipient accepts this type of
// notification at all, master switch and DND included. Room membership
// events share one flag; unknown types default to enabled.
func (g *Gate) IsTypeEnabled(prefs *db.NotificationPreferences, notificationType string) bool {
	if prefs == nil {
		return true
	}
	if !prefs.PushEnabled {
		return false
	}
	if g.ShouldSuppress(prefs) {
		return false
	}

	switch notificationType {
	case db.NotificationNewMessage:
		return prefs.NewMessageEnabled
	case db.NotificationGroupMessage:
		return prefs.GroupMessageEnabled
	case db.NotificationRoomInvited, db.NotificationRoomAdded, db.NotificationRoomRemoved:
		return prefs.RoomEventsEnabled
	case db.NotificationMentioned:
		return prefs.MentionEnabled
	case db.NotificationSystemBroadcast:
		return prefs.SystemEnabled
	default:
		return true
	}
}

// Decide applies the full delivery policy for one recipient. A message
// notification to someone already viewing the room is dropped outright:
// they see the message on the room channel and double-notifying an open
// conversation is worse than silence.
func (g *Gate) Decide(prefs *db.NotificationPreferences, notificationType string, activeInRoom bool) Decision {
	if !g.IsTypeEnabled(prefs, notificationType) {
		return Decision{}
	}

	if activeInRoom && isMessageType(notificationType) {
		return Decision{}
	}

	return Decision{Persist: true, PushRealtime: true}
}

func isMessageType(notificationType string) bool {
	return notificationType == db.NotificationNewMessage ||
		notificationType == db.NotificationGroupMessage
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rx3lixir/rill/internal/db"
	"github.com/rx3lixir/rill/internal/fanout"
	"github.com/rx3lixir/rill/internal/presence"
)

// Notifier runs the full decision-and-delivery path for one candidate
// notification: preference + DND gating, presence-aware suppression,
// durable persistence, then a fire-and-forget live push.
type Notifier struct {
	gate       *Gate
	presence   *presence.Tracker
	store      db.NotificationStore
	prefs      db.PreferenceStore
	dispatcher *fanout.Dispatcher
	logger     *log.Logger
}

func NewNotifier(
	gate *Gate,
	tracker *presence.Tracker,
	store db.NotificationStore,
	prefs db.PreferenceStore,
	dispatcher *fanout.Dispatcher,
	logger *log.Logger,
) *Notifier {
	return &Notifier{
		gate:       gate,
		presence:   tracker,
		store:      store,
		prefs:      prefs,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Offer decides whether the candidate reaches its recipient and, if
// so, persists it and pushes it live. A suppressed candidate is not an
// error: the decision simply went the other way.
func (n *Notifier) Offer(ctx context.Context, candidate *db.Notification) error {
	prefs, err := n.prefs.GetPreferences(ctx, candidate.Recipient)
	if err != nil {
		return fmt.Errorf("failed to load preferences for %s: %w", candidate.Recipient, err)
	}

	activeInRoom := false
	if candidate.RoomID != nil {
		activeInRoom = n.presence.IsActive(candidate.Recipient, candidate.RoomID.String())
	}

	decision := n.gate.Decide(prefs, candidate.Type, activeInRoom)
	if !decision.Persist {
		n.logger.Debug("Notification suppressed",
			"recipient", candidate.Recipient,
			"type", candidate.Type,
			"active_in_room", activeInRoom,
		)
		return nil
	}

	// Delivery is fire-and-forget: the delivered flag records the push
	// attempt, not a confirmed receipt.
	now := time.Now()
	candidate.Delivered = decision.PushRealtime
	if decision.PushRealtime {
		candidate.DeliveredAt = &now
	}
	attachHints(candidate, prefs)

	if err := n.store.CreateNotification(ctx, candidate); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}

	if err := n.store.PruneOfflineBacklog(ctx, candidate.Recipient, prefs.MaxOffline); err != nil {
		n.logger.Warn("Failed to prune notification backlog",
			"recipient", candidate.Recipient, "error", err)
	}

	if decision.PushRealtime {
		n.dispatcher.FanoutNotification(candidate)
	}

	return nil
}

// attachHints copies the presentation flags into the payload so the
// client renders the push the way the user asked for.
func attachHints(candidate *db.Notification, prefs *db.NotificationPreferences) {
	if candidate.Payload == nil {
		candidate.Payload = make(map[string]any)
	}
	candidate.Payload["sound"] = prefs.SoundEnabled
	candidate.Payload["vibration"] = prefs.VibrationEnabled
	candidate.Payload["preview"] = prefs.PreviewEnabled
}

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetPreferences loads a user's notification policy. Users who never
// saved one get the defaults.
func (s *PostgresStore) GetPreferences(ctx context.Context, username string) (*NotificationPreferences, error) {
	query := `
		SELECT
			username, push_enabled, new_message_enabled, group_message_enabled,
			room_events_enabled, mention_enabled, system_enabled,
			dnd_enabled, dnd_start, dnd_end,
			sound_enabled, vibration_enabled, preview_enabled, max_offline
		FROM notification_preferences
		WHERE username = $1
	`

	prefs := &NotificationPreferences{}
	err := s.db.QueryRow(ctx, query, username).Scan(
		&prefs.Username,
		&prefs.PushEnabled,
		&prefs.NewMessageEnabled,
		&prefs.GroupMessageEnabled,
		&prefs.RoomEventsEnabled,
		&prefs.MentionEnabled,
		&prefs.SystemEnabled,
		&prefs.DNDEnabled,
		&prefs.DNDStart,
		&prefs.DNDEnd,
		&prefs.SoundEnabled,
		&prefs.VibrationEnabled,
		&prefs.PreviewEnabled,
		&prefs.MaxOffline,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultPreferences(username), nil
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	return prefs, nil
}

package unread

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Counter tracks per-user per-room unread message counts in valkey.
// One hash per user keyed by room id, so a single HGETALL answers
// get-unread-counts.
type Counter struct {
	client valkey.Client
}

// NewCounter connects to valkey and verifies the connection.
func NewCounter(addr, password string) (*Counter, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pingCmd := client.B().Ping().Build()
	if err := client.Do(ctx, pingCmd).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	return &Counter{client: client}, nil
}

func key(username string) string {
	return fmt.Sprintf("unread:%s", username)
}

// Increment bumps the unread counter for one user in one room.
func (c *Counter) Increment(ctx context.Context, username, roomID string) error {
	cmd := c.client.B().Hincrby().
		Key(key(username)).
		Field(roomID).
		Increment(1).
		Build()

	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to increment unread count: %w", err)
	}

	return nil
}

// Reset clears the unread counter for one user in one room, typically
// on mark-room-read.
func (c *Counter) Reset(ctx context.Context, username, roomID string) error {
	cmd := c.client.B().Hdel().
		Key(key(username)).
		Field(roomID).
		Build()

	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}

	return nil
}

// Counts returns all per-room unread counters for a user.
func (c *Counter) Counts(ctx context.Context, username string) (map[string]int, error) {
	cmd := c.client.B().Hgetall().Key(key(username)).Build()

	result, err := c.client.Do(ctx, cmd).AsIntMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get unread counts: %w", err)
	}

	counts := make(map[string]int, len(result))
	for roomID, n := range result {
		counts[roomID] = int(n)
	}

	return counts, nil
}

// Close closes the client connection
func (c *Counter) Close() {
	c.client.Close()
}

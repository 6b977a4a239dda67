package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceStore is the subset of *redis.Client the presence mirror uses.
type PresenceStore interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

var _ PresenceStore = (*redis.Client)(nil)

// presenceRecord is what the mirror stores per online user and publishes per
// change.
type presenceRecord struct {
	Kind        PresenceKind `json:"kind,omitempty"`
	UserID      ID           `json:"userId"`
	Username    string       `json:"username"`
	Role        string       `json:"role"`
	ConnectedAt string       `json:"connectedAt"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// presenceMirror copies who-is-online into a Redis hash and announces every
// change on a pub/sub channel. The hub never waits on it.
type presenceMirror struct {
	store   PresenceStore
	key     string
	channel string
	changes <-chan PresenceChange
	timeout time.Duration
	clock   func() time.Time
	logger  *slog.Logger
}

// run clears whatever a previous process left behind, then applies changes
// until ctx is done.
func (m *presenceMirror) run(ctx context.Context) {
	if err := m.store.Del(ctx, m.key).Err(); err != nil {
		m.logger.Warn("failed to reset presence hash", slog.String("key", m.key), slog.Any("error", err))
	}
	m.logger.Info("mirroring presence to redis", slog.String("key", m.key), slog.String("channel", m.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case change := <-m.changes:
			if err := m.apply(ctx, change); err != nil {
				m.logger.Warn("presence mirror write failed",
					slog.String("userID", change.User.UserID.String()),
					slog.String("kind", string(change.Kind)),
					slog.Any("error", err))
			}
		}
	}
}

func (m *presenceMirror) apply(ctx context.Context, change PresenceChange) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	userID := change.User.UserID.String()
	rec := presenceRecord{
		UserID:      change.User.UserID,
		Username:    change.User.Username,
		Role:        change.User.Role,
		ConnectedAt: formatTimestamp(change.User.ConnectedAt),
	}

	switch change.Kind {
	case PresenceOnline:
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := m.store.HSet(ctx, m.key, userID, data).Err(); err != nil {
			return err
		}
	case PresenceOffline:
		if err := m.store.HDel(ctx, m.key, userID).Err(); err != nil {
			return err
		}
	}

	rec.Kind = change.Kind
	rec.Timestamp = formatTimestamp(m.clock())
	event, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Publish(ctx, m.channel, event).Err()
}

// Package redismirror publishes the latest statistics snapshot to Redis so wall
// displays and secondary consoles can read it without a backend session.
package redismirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ballotdesk/internal/domain"
	"ballotdesk/pkg/platform/sentinel"
)

// Key holds the JSON snapshot.
const Key = "ballotdesk:stats:summary"

// Snapshot is the stored document.
type Snapshot struct {
	Stats       domain.Stats `json:"stats"`
	PublishedAt time.Time    `json:"published_at"`
}

// Mirror writes and reads the snapshot key.
type Mirror struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

// New returns a Mirror whose snapshots expire after ttl.
func New(client redis.Cmdable, ttl time.Duration) *Mirror {
	return &Mirror{client: client, ttl: ttl, now: time.Now}
}

// PublishStats overwrites the snapshot.
func (m *Mirror) PublishStats(ctx context.Context, stats domain.Stats) error {
	payload, err := json.Marshal(Snapshot{Stats: stats, PublishedAt: m.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode stats snapshot: %w", err)
	}
	if err := m.client.Set(ctx, Key, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("publish stats snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or sentinel.ErrNotFound when none
// has been published or it has expired.
func (m *Mirror) Latest(ctx context.Context) (Snapshot, error) {
	raw, err := m.client.Get(ctx, Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("stats snapshot: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read stats snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode stats snapshot: %w", err)
	}
	return snap, nil
}

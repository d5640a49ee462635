package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"warden/pkg/platform/sentinel"
)

// Snapshot serializes the full session map verbatim. Together with Restore
// it lets a hot reload of the surrounding application carry every live
// session across the restart.
func (m *Manager) Snapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*Session, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal sessions: %w", err)
	}
	return b, nil
}

// Restore replaces the session map with a previously taken snapshot.
func (m *Manager) Restore(data []byte) error {
	restored := make(map[string]*Session)
	if err := json.Unmarshal(data, &restored); err != nil {
		return fmt.Errorf("unmarshal sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = restored
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	return nil
}

// RedisSnapshotter persists session snapshots in Redis so wardend can pick
// them back up after a restart.
type RedisSnapshotter struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisSnapshotter(client *redis.Client, key string, ttl time.Duration) *RedisSnapshotter {
	if key == "" {
		key = "warden:sessions"
	}
	return &RedisSnapshotter{client: client, key: key, ttl: ttl}
}

// Save takes a snapshot of the manager and writes it to Redis.
func (r *RedisSnapshotter) Save(ctx context.Context, m *Manager) error {
	data, err := m.Snapshot()
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: save session snapshot: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Load restores the manager from the latest snapshot. A missing snapshot is
// not an error: first boot has nothing to restore.
func (r *RedisSnapshotter) Load(ctx context.Context, m *Manager) error {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load session snapshot: %v", sentinel.ErrUnavailable, err)
	}
	return m.Restore(data)
}

// Package cache wraps the Redis client backing the opaque replay and
// session-archive key-value store named in spec §6. Adapted from the
// teacher's internal/cache/redis.go, whose action-log queue shape gives way
// here to direct keyed Set/Get/Del against the replays: namespace.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a *redis.Client with the key helpers the replay recorder and
// session manager need.
type Store struct {
	Rdb *redis.Client
}

// Connect opens a Redis client against addr/db and verifies it with a ping.
func Connect(addr string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Store{Rdb: rdb}, nil
}

// ReplayDataKey is the key a full ReplayData blob is stored under.
func ReplayDataKey(replayID string) string {
	return "replays:data:" + replayID
}

// ReplayUserIndexKey is the key a user's replay index is stored under.
func ReplayUserIndexKey(userID string) string {
	return "replays:users:" + userID
}

// SessionArchiveKey is the key a disconnected session is archived under,
// keyed by its reconnect token.
func SessionArchiveKey(reconnectToken string) string {
	return "sessions:archive:" + reconnectToken
}

// Set writes raw bytes under key with an optional TTL (0 = no expiry).
func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.Rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get reads raw bytes under key. ok is false on a cache miss.
func (s *Store) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	data, err = s.Rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Del removes a key. Deleting a missing key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.Rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Scan returns every key matching pattern, used by the session archive
// sweep's reconciliation pass.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.Rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, nil
}

// TTL returns the remaining time-to-live for key (redis semantics: -1 means
// no expiry is set, -2 means the key does not exist).
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.Rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	return ttl, nil
}

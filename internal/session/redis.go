package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chorus:session:"

// RedisSnapshotter mirrors session state into Redis so a restarted
// process resumes conversations instead of dropping them. Entries get
// a server-side TTL slightly above the longest session TTL; exact
// expiry is still enforced by the in-memory store.
type RedisSnapshotter struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisSnapshotter connects to Redis and verifies the connection.
func NewRedisSnapshotter(addr, password string, db int, maxSessionTTL time.Duration) (*RedisSnapshotter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisSnapshotter{
		client:  client,
		ttl:     maxSessionTTL + time.Hour,
		timeout: 3 * time.Second,
	}, nil
}

func redisKey(k Key) string {
	return redisKeyPrefix + k.UserID + ":" + k.ChannelID
}

// Save stores one session as JSON.
func (r *RedisSnapshotter) Save(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Set(ctx, redisKey(s.Key), data, r.ttl).Err()
}

// Delete removes one session.
func (r *RedisSnapshotter) Delete(k Key) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Del(ctx, redisKey(k)).Err()
}

// LoadAll scans every stored session. Entries that fail to decode are
// skipped rather than failing the whole restore.
func (r *RedisSnapshotter) LoadAll() ([]*Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var sessions []*Session
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		sessions = append(sessions, &s)
	}
	if err := iter.Err(); err != nil {
		return sessions, fmt.Errorf("redis scan failed: %w", err)
	}
	return sessions, nil
}

// Close releases the Redis connection.
func (r *RedisSnapshotter) Close() error {
	return r.client.Close()
}

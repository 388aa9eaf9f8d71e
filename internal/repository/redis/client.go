// Package redis implements the session, token and CSRF repositories on
// Redis so several server instances can share guard state. Every
// read-modify-write runs as one Lua script.
//
// The backend targets a single Redis node (or a primary with replicas).
// Some scripts derive keys from stored values, such as a session's user set
// or a token's outstanding pointer, so they cannot declare every key up
// front and will fail on Redis Cluster.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to addr and checks the connection.
func NewClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Timestamps are stored as unix milliseconds so Lua can compare them exactly.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ttl is the Redis key lifetime for a record living from start to end. Keys
// outlive their logical expiry slightly so lookups, not Redis, decide.
func ttl(start, end time.Time) time.Duration {
	d := end.Sub(start)
	if d <= 0 {
		return time.Second
	}
	return d + time.Second
}

// scanKeys calls fn for every key matching pattern.
func scanKeys(ctx context.Context, client redis.Cmdable, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

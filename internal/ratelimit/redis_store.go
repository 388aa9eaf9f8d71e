package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript counts a request unless the window is full. Returns
// {count, allowed}.
var takeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {current, 0}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {current, 1}
`)

// RedisStore shares window counters between server instances. Windows are
// aligned to multiples of the window length; keys expire on their own, so
// no sweep is needed.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key string, start time.Time) string {
	return fmt.Sprintf("%s:ratelimit:%s:%d", s.prefix, key, start.UnixMilli())
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error) {
	start := now.Truncate(window)

	res, err := takeScript.Run(ctx, s.client, []string{s.redisKey(key, start)}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	return Window{Start: start, Count: int(res[0]), Allowed: res[1] == 1}, nil
}

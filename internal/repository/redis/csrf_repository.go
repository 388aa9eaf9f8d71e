package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"scroll-press/internal/domain"
)

// Each scope is a sorted set scored by issue time; members are
// "<value>:<expires_at ms>".
var (
	// KEYS[1] scope key; ARGV[1] score, ARGV[2] member, ARGV[3] max per
	// scope, ARGV[4] key ttl in ms.
	addCSRFScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local max = tonumber(ARGV[3])
if max > 0 then
	redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(max + 1))
end
if redis.call('PTTL', KEYS[1]) < tonumber(ARGV[4]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

	// KEYS[1] scope key; ARGV[1] now in ms. Returns the number removed.
	purgeCSRFScript = redis.NewScript(`
local removed = 0
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, m in ipairs(members) do
	local exp = tonumber(string.match(m, ':(%d+)$'))
	if exp and exp <= tonumber(ARGV[1]) then
		redis.call('ZREM', KEYS[1], m)
		removed = removed + 1
	end
end
if redis.call('ZCARD', KEYS[1]) == 0 then
	redis.call('DEL', KEYS[1])
end
return removed
`)
)

// CSRFRepository implements domain.CSRFRepository on Redis.
type CSRFRepository struct {
	client *redis.Client
	prefix string
}

func NewCSRFRepository(client *redis.Client, prefix string) *CSRFRepository {
	return &CSRFRepository{client: client, prefix: prefix}
}

func (r *CSRFRepository) scopeKey(scope string) string {
	return fmt.Sprintf("%s:csrf:%s", r.prefix, scope)
}

func (r *CSRFRepository) Add(ctx context.Context, token *domain.CSRFToken, maxPerScope int) error {
	member := fmt.Sprintf("%s:%d", token.Value, toMillis(token.ExpiresAt))

	err := addCSRFScript.Run(ctx, r.client,
		[]string{r.scopeKey(token.Scope)},
		toMillis(token.IssuedAt),
		member,
		maxPerScope,
		ttl(token.IssuedAt, token.ExpiresAt).Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to add csrf token: %w", err)
	}
	return nil
}

func (r *CSRFRepository) List(ctx context.Context, scope string) ([]domain.CSRFToken, error) {
	entries, err := r.client.ZRangeWithScores(ctx, r.scopeKey(scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list csrf tokens: %w", err)
	}

	tokens := make([]domain.CSRFToken, 0, len(entries))
	for _, e := range entries {
		member, ok := e.Member.(string)
		if !ok {
			continue
		}
		value, exp, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		expMillis, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			continue
		}

		tokens = append(tokens, domain.CSRFToken{
			Scope:     scope,
			Value:     value,
			IssuedAt:  time.UnixMilli(int64(e.Score)).UTC(),
			ExpiresAt: time.UnixMilli(expMillis).UTC(),
		})
	}
	return tokens, nil
}

func (r *CSRFRepository) DeleteScope(ctx context.Context, scope string) error {
	if err := r.client.Del(ctx, r.scopeKey(scope)).Err(); err != nil {
		return fmt.Errorf("failed to delete csrf scope: %w", err)
	}
	return nil
}

func (r *CSRFRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64

	err := scanKeys(ctx, r.client, r.scopeKey("*"), func(key string) error {
		removed, err := purgeCSRFScript.Run(ctx, r.client, []string{key}, toMillis(now)).Int64()
		if err != nil {
			return fmt.Errorf("failed to purge csrf tokens: %w", err)
		}
		count += removed
		return nil
	})
	return count, err
}

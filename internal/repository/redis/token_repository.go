package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scroll-press/internal/domain"
)

var (
	// KEYS[1] token key, KEYS[2] outstanding pointer for (user, kind).
	// Returns -1 when the token key is taken, else the number retired.
	replaceTokenScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return -1
end
local retired = 0
local prev = redis.call('GET', KEYS[2])
if prev and redis.call('HGET', prev, 'consumed') == '0' then
	redis.call('HSET', prev, 'consumed', '1')
	retired = 1
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'kind', ARGV[2], 'created_at', ARGV[3],
	'expires_at', ARGV[4], 'consumed', '0', 'outstanding', KEYS[2])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SET', KEYS[2], KEYS[1], 'PX', ARGV[5])
return retired
`)

	// KEYS[1] token key; ARGV[1] kind, ARGV[2] now in ms.
	consumeTokenScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'user_id', 'kind', 'created_at', 'expires_at', 'consumed', 'outstanding')
if not f[1] then
	return false
end
if f[2] ~= ARGV[1] or f[5] ~= '0' or tonumber(f[4]) <= tonumber(ARGV[2]) then
	return false
end
redis.call('HSET', KEYS[1], 'consumed', '1')
if redis.call('GET', f[6]) == KEYS[1] then
	redis.call('DEL', f[6])
end
return {f[1], f[2], f[3], f[4]}
`)

	// KEYS[1] token key; ARGV[1] now in ms.
	purgeTokenScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'expires_at', 'consumed', 'outstanding')
if not f[1] then
	return 0
end
if f[2] == '0' and tonumber(f[1]) > tonumber(ARGV[1]) then
	return 0
end
redis.call('DEL', KEYS[1])
if f[3] and redis.call('GET', f[3]) == KEYS[1] then
	redis.call('DEL', f[3])
end
return 1
`)
)

// TokenRepository implements domain.TokenRepository on Redis.
type TokenRepository struct {
	client *redis.Client
	prefix string
}

func NewTokenRepository(client *redis.Client, prefix string) *TokenRepository {
	return &TokenRepository{client: client, prefix: prefix}
}

func (r *TokenRepository) tokenKey(hash string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, hash)
}

func (r *TokenRepository) outstandingKey(userID string, kind domain.TokenKind) string {
	return fmt.Sprintf("%s:token_outstanding:%s:%s", r.prefix, kind, userID)
}

func (r *TokenRepository) Replace(ctx context.Context, token *domain.Token) (int, error) {
	retired, err := replaceTokenScript.Run(ctx, r.client,
		[]string{r.tokenKey(token.Hash), r.outstandingKey(token.UserID, token.Kind)},
		token.UserID,
		string(token.Kind),
		toMillis(token.CreatedAt),
		toMillis(token.ExpiresAt),
		ttl(token.CreatedAt, token.ExpiresAt).Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to store token: %w", err)
	}
	if retired < 0 {
		return 0, domain.ErrTokenExists
	}
	return retired, nil
}

func (r *TokenRepository) Consume(ctx context.Context, hash string, kind domain.TokenKind, now time.Time) (*domain.Token, error) {
	fields, err := consumeTokenScript.Run(ctx, r.client,
		[]string{r.tokenKey(hash)}, string(kind), toMillis(now)).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	if len(fields) != 4 {
		return nil, fmt.Errorf("failed to consume token: unexpected reply %v", fields)
	}

	createdAt, err := fromMillis(fields[2])
	if err != nil {
		return nil, err
	}
	expiresAt, err := fromMillis(fields[3])
	if err != nil {
		return nil, err
	}

	return &domain.Token{
		Hash:      hash,
		UserID:    fields[0],
		Kind:      domain.TokenKind(fields[1]),
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		Consumed:  true,
	}, nil
}

// DeleteExpired drops expired and consumed records.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64

	err := scanKeys(ctx, r.client, r.tokenKey("*"), func(key string) error {
		deleted, err := purgeTokenScript.Run(ctx, r.client, []string{key}, toMillis(now)).Int()
		if err != nil {
			return fmt.Errorf("failed to purge token: %w", err)
		}
		count += int64(deleted)
		return nil
	})
	return count, err
}

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
	// KEYS[1] session key, KEYS[2] user set. The set lives as long as its
	// longest-lived session.
	createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'created_at', ARGV[2], 'expires_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('SADD', KEYS[2], ARGV[5])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[4]) then
	redis.call('PEXPIRE', KEYS[2], ARGV[4])
end
return 1
`)

	// KEYS[1] session key; ARGV[1] user set prefix, ARGV[2] session id,
	// ARGV[3] now in ms or empty to delete unconditionally.
	deleteSessionScript = redis.NewScript(`
local fields = redis.call('HMGET', KEYS[1], 'user_id', 'expires_at')
if not fields[1] then
	return 0
end
if ARGV[3] ~= '' and tonumber(fields[2]) > tonumber(ARGV[3]) then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[1] .. fields[1], ARGV[2])
return 1
`)

	// KEYS[1] user set; ARGV[1] session key prefix.
	deleteUserSessionsScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return ids
`)

	// KEYS[1] user set; ARGV[1] session key prefix. Drops members whose
	// session Redis has already expired and returns how many.
	pruneUserSessionsScript = redis.NewScript(`
local pruned = 0
for _, id in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	if redis.call('EXISTS', ARGV[1] .. id) == 0 then
		redis.call('SREM', KEYS[1], id)
		pruned = pruned + 1
	end
end
return pruned
`)
)

// SessionRepository implements domain.SessionRepository on Redis.
type SessionRepository struct {
	client *redis.Client
	prefix string
}

func NewSessionRepository(client *redis.Client, prefix string) *SessionRepository {
	return &SessionRepository{client: client, prefix: prefix}
}

func (r *SessionRepository) sessionPrefix() string {
	return r.prefix + ":session:"
}

func (r *SessionRepository) userPrefix() string {
	return r.prefix + ":user_sessions:"
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	created, err := createSessionScript.Run(ctx, r.client,
		[]string{r.sessionPrefix() + session.ID, r.userPrefix() + session.UserID},
		session.UserID,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
		ttl(session.CreatedAt, session.ExpiresAt).Milliseconds(),
		session.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created == 0 {
		return domain.ErrSessionExists
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	res, err := r.client.HGetAll(ctx, r.sessionPrefix()+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(res) == 0 {
		return nil, domain.ErrSessionNotFound
	}

	createdAt, err := fromMillis(res["created_at"])
	if err != nil {
		return nil, err
	}
	expiresAt, err := fromMillis(res["expires_at"])
	if err != nil {
		return nil, err
	}

	return &domain.Session{
		ID:        id,
		UserID:    res["user_id"],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.delete(ctx, id, "")
	return err
}

func (r *SessionRepository) DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.delete(ctx, id, fmt.Sprint(toMillis(now)))
}

func (r *SessionRepository) delete(ctx context.Context, id, now string) (bool, error) {
	deleted, err := deleteSessionScript.Run(ctx, r.client,
		[]string{r.sessionPrefix() + id}, r.userPrefix(), id, now).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return deleted == 1, nil
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := deleteUserSessionsScript.Run(ctx, r.client,
		[]string{r.userPrefix() + userID}, r.sessionPrefix()).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return ids, nil
}

// DeleteExpired removes sessions past their expiry, then drops user set
// members left behind by sessions Redis expired on its own.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	prefix := r.sessionPrefix()

	err := scanKeys(ctx, r.client, prefix+"*", func(key string) error {
		deleted, err := r.delete(ctx, key[len(prefix):], fmt.Sprint(toMillis(now)))
		if err != nil {
			return err
		}
		if deleted {
			count++
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	err = scanKeys(ctx, r.client, r.userPrefix()+"*", func(key string) error {
		if err := pruneUserSessionsScript.Run(ctx, r.client, []string{key}, prefix).Err(); err != nil {
			return fmt.Errorf("failed to prune user sessions: %w", err)
		}
		return nil
	})
	return count, err
}

//go:build integration

package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"scroll-press/internal/domain"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRepositories(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("sessions", func(t *testing.T) {
		repo := NewSessionRepository(client, "test")
		s := &domain.Session{ID: "s1", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

		require.NoError(t, repo.Create(ctx, s))
		assert.ErrorIs(t, repo.Create(ctx, s), domain.ErrSessionExists)

		got, err := repo.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, s, got)

		deleted, err := repo.DeleteIfExpired(ctx, "s1", now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, deleted)

		require.NoError(t, repo.Create(ctx, &domain.Session{ID: "s2", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
		ids, err := repo.DeleteByUser(ctx, "u1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

		_, err = repo.Get(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		require.NoError(t, repo.Create(ctx, &domain.Session{ID: "s3", UserID: "u2", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
		n, err := repo.DeleteExpired(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("user session set follows its sessions", func(t *testing.T) {
		repo := NewSessionRepository(client, "test")
		userSet := repo.userPrefix() + "u3"

		require.NoError(t, repo.Create(ctx, &domain.Session{ID: "s4", UserID: "u3", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
		require.NoError(t, repo.Create(ctx, &domain.Session{ID: "s5", UserID: "u3", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

		pttl, err := client.PTTL(ctx, userSet).Result()
		require.NoError(t, err)
		assert.Greater(t, pttl, 59*time.Minute)

		// Simulate Redis expiring s4 natively before any sweep sees it.
		require.NoError(t, client.Del(ctx, repo.sessionPrefix()+"s4").Err())

		n, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		members, err := client.SMembers(ctx, userSet).Result()
		require.NoError(t, err)
		assert.Equal(t, []string{"s5"}, members)
	})

	t.Run("tokens", func(t *testing.T) {
		repo := NewTokenRepository(client, "test")
		tok := func(hash string) *domain.Token {
			return &domain.Token{Hash: hash, UserID: "u1", Kind: domain.TokenKindPasswordReset, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
		}

		retired, err := repo.Replace(ctx, tok("h1"))
		require.NoError(t, err)
		assert.Equal(t, 0, retired)
		retired, err = repo.Replace(ctx, tok("h2"))
		require.NoError(t, err)
		assert.Equal(t, 1, retired)

		_, err = repo.Consume(ctx, "h1", domain.TokenKindPasswordReset, now)
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)
		_, err = repo.Consume(ctx, "h2", domain.TokenKindEmailVerification, now)
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Consume(ctx, "h2", domain.TokenKindPasswordReset, now); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		n, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("csrf", func(t *testing.T) {
		repo := NewCSRFRepository(client, "test")
		for i := 0; i < 3; i++ {
			issued := now.Add(time.Duration(i) * time.Second)
			require.NoError(t, repo.Add(ctx, &domain.CSRFToken{
				Scope: "scope-a", Value: fmt.Sprintf("v%d", i), IssuedAt: issued, ExpiresAt: issued.Add(time.Hour),
			}, 2))
		}

		tokens, err := repo.List(ctx, "scope-a")
		require.NoError(t, err)
		require.Len(t, tokens, 2)
		assert.Equal(t, "v1", tokens[0].Value)
		assert.Equal(t, now.Add(time.Second+time.Hour), tokens[0].ExpiresAt)

		n, err := repo.DeleteExpired(ctx, now.Add(time.Hour+time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, repo.DeleteScope(ctx, "scope-a"))
		tokens, err = repo.List(ctx, "scope-a")
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})
}

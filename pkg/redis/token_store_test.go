package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukebox-rooms/internal/testutil"
	"github.com/jukebox-rooms/pkg/models"
	"github.com/jukebox-rooms/pkg/redis"
)

type stubRefresher struct {
	grant *models.TokenGrant
	err   error
	calls int
}

func (s *stubRefresher) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenGrant, error) {
	s.calls++
	return s.grant, s.err
}

func newStore(t *testing.T, refresher redis.Refresher, now time.Time) *redis.TokenStore {
	t.Helper()
	rc, _ := testutil.NewRedis(t)
	return redis.NewTokenStore(rc, refresher, zerolog.Nop(), redis.WithClock(func() time.Time { return now }))
}

func TestUpsertComputesExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := newStore(t, &stubRefresher{}, now)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "host", "a1", "Bearer", 3600, "r1"))

	tok, err := store.GetTokens(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "host", tok.OwnerID)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.True(t, tok.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestUpsertKeepsRefreshToken(t *testing.T) {
	store := newStore(t, &stubRefresher{}, time.Now())
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "host", "a1", "Bearer", 3600, "r1"))
	require.NoError(t, store.Upsert(ctx, "host", "a2", "Bearer", 3600, ""))

	tok, err := store.GetTokens(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
}

func TestUpsertRejectsIncompleteCredential(t *testing.T) {
	store := newStore(t, &stubRefresher{}, time.Now())
	ctx := context.Background()

	assert.ErrorIs(t, store.Upsert(ctx, "host", "", "Bearer", 3600, "r1"), redis.ErrIncompleteCredential)
	assert.ErrorIs(t, store.Upsert(ctx, "host", "a1", "Bearer", 0, "r1"), redis.ErrIncompleteCredential)

	_, err := store.GetTokens(ctx, "host")
	assert.ErrorIs(t, err, redis.ErrTokenNotFound)
}

func TestEnsureFreshWithoutCredential(t *testing.T) {
	refresher := &stubRefresher{}
	store := newStore(t, refresher, time.Now())

	assert.False(t, store.EnsureFresh(context.Background(), "nobody"))
	assert.Zero(t, refresher.calls)
}

func TestEnsureFreshWithoutRefreshToken(t *testing.T) {
	now := time.Now()
	refresher := &stubRefresher{}
	store := newStore(t, refresher, now)
	ctx := context.Background()

	require.NoError(t, store.StoreTokens(ctx, "host", &redis.TokenInfo{
		AccessToken: "a1",
		ExpiresAt:   now.Add(-time.Minute),
	}))

	assert.False(t, store.EnsureFresh(ctx, "host"))
	assert.Zero(t, refresher.calls)
}

func TestEnsureFreshFailedRefreshKeepsCredential(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	refresher := &stubRefresher{err: errors.New("invalid_grant")}
	store := newStore(t, refresher, now)
	ctx := context.Background()

	expired := now.Add(-time.Minute)
	require.NoError(t, store.StoreTokens(ctx, "host", &redis.TokenInfo{
		AccessToken:  "a1",
		RefreshToken: "r1",
		TokenType:    "Bearer",
		ExpiresAt:    expired,
	}))

	assert.False(t, store.EnsureFresh(ctx, "host"))
	assert.Equal(t, 1, refresher.calls)

	tok, err := store.GetTokens(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.True(t, tok.ExpiresAt.Equal(expired))
}

func TestEnsureFreshRejectsIncompleteGrant(t *testing.T) {
	now := time.Now()
	refresher := &stubRefresher{grant: &models.TokenGrant{AccessToken: "a2"}}
	store := newStore(t, refresher, now)
	ctx := context.Background()

	require.NoError(t, store.StoreTokens(ctx, "host", &redis.TokenInfo{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    now.Add(-time.Minute),
	}))

	assert.False(t, store.EnsureFresh(ctx, "host"))

	tok, err := store.GetTokens(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
}

func TestDeleteToken(t *testing.T) {
	store := newStore(t, &stubRefresher{}, time.Now())
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "host", "a1", "Bearer", 60, "r1"))
	require.NoError(t, store.DeleteToken(ctx, "host"))

	_, err := store.GetTokens(ctx, "host")
	assert.ErrorIs(t, err, redis.ErrTokenNotFound)
}

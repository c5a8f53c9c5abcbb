package redisrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-status-stream/internal/entity"
	redisrepo "job-status-stream/internal/repository/redis"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *redisrepo.StatusCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, redisrepo.NewStatusCache(rdb, time.Hour)
}

func TestStatusCache_SaveGet(t *testing.T) {
	mr, cache := setupCache(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	u := entity.StatusUpdate{JobID: "s1", Status: entity.StatusProcessing, ProcessingStep: entity.StepVideoRendering, OccurredAt: at}
	require.NoError(t, cache.Save(ctx, u))

	got, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	assert.True(t, mr.Exists("video:status:s1"))
	assert.Equal(t, time.Hour, mr.TTL("video:status:s1"))
}

func TestStatusCache_Miss(t *testing.T) {
	_, cache := setupCache(t)
	_, err := cache.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, redisrepo.ErrNotFound)
}

func TestStatusCache_TerminalIsNotOverwritten(t *testing.T) {
	_, cache := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, entity.StatusUpdate{JobID: "s1", Status: entity.StatusCompleted, VideoURL: "https://v"}))
	require.NoError(t, cache.Save(ctx, entity.StatusUpdate{JobID: "s1", Status: entity.StatusProcessing}))

	got, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.Equal(t, "https://v", got.VideoURL)
}

func TestStatusCache_Expiry(t *testing.T) {
	mr, cache := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, entity.StatusUpdate{JobID: "s1", Status: entity.StatusPending}))
	mr.FastForward(2 * time.Hour)

	_, err := cache.Get(ctx, "s1")
	assert.ErrorIs(t, err, redisrepo.ErrNotFound)
}

func TestStatusCache_CorruptValue(t *testing.T) {
	mr, cache := setupCache(t)
	require.NoError(t, mr.Set("video:status:s1", "PENDING"))

	_, err := cache.Get(context.Background(), "s1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, redisrepo.ErrNotFound)
}

func TestStatusCache_DeleteAndPing(t *testing.T) {
	_, cache := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Ping(ctx))
	require.NoError(t, cache.Save(ctx, entity.StatusUpdate{JobID: "s1", Status: entity.StatusPending}))
	require.NoError(t, cache.Delete(ctx, "s1"))
	_, err := cache.Get(ctx, "s1")
	assert.ErrorIs(t, err, redisrepo.ErrNotFound)
}

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/pylonkit/internal/testutil"
)

func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	testutil.RequireDocker(t)

	cfg, err := ParseURL(testutil.StartRedis(context.Background(), t))
	require.NoError(t, err)

	rc, err := NewRedisCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

func TestRedisCache(t *testing.T) {
	rc := newTestRedis(t)
	ctx := context.Background()

	t.Run("SetGetDelete", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "k1", []byte("v1"), time.Minute))

		v, err := rc.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)

		ttl, err := rc.TTL(ctx, "k1")
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		require.NoError(t, rc.Delete(ctx, "k1"))
		_, err = rc.Get(ctx, "k1")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		for i := 0; i < 250; i++ {
			require.NoError(t, rc.Set(ctx, DeploymentKey("d1", "ns", fmt.Sprintf("k%d", i)), []byte("x"), 0))
		}
		require.NoError(t, rc.Set(ctx, DeploymentKey("d2", "ns"), []byte("x"), 0))

		require.NoError(t, rc.DeletePrefix(ctx, DeploymentKey("d1")+":"))

		keys, err := rc.Client().Keys(ctx, "pylon:*").Result()
		require.NoError(t, err)
		assert.Equal(t, []string{"pylon:d2:ns"}, keys)
	})
}

func TestStatusStore(t *testing.T) {
	rc := newTestRedis(t)
	ctx := context.Background()
	store := NewStatusStore(rc.Client())

	_, err := store.Get(ctx, "dep1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, store.SetState(ctx, "dep1", StateConnecting))
	require.NoError(t, store.SetState(ctx, "dep1", StateOpen))
	require.NoError(t, store.SetState(ctx, "dep1", StateReconnecting))
	require.NoError(t, store.SetState(ctx, "dep1", StateOpen))

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddMessages(ctx, "dep1", 3, at))
	require.NoError(t, store.AddMessages(ctx, "dep1", 2, at.Add(time.Second)))
	require.NoError(t, store.AddError(ctx, "dep1"))

	st, err := store.Get(ctx, "dep1")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, int64(5), st.Messages)
	assert.Equal(t, int64(1), st.Errors)
	assert.Equal(t, int64(2), st.Opens)
	assert.Equal(t, int64(1), st.Reconnects)
	assert.True(t, st.LastMessageAt.Equal(at.Add(time.Second)))
	assert.False(t, st.UpdatedAt.IsZero())

	require.NoError(t, store.SetState(ctx, "dep2", StateClosed))
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Remove(ctx, "dep2"))
	all, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "dep1", all[0].DeploymentID)
}

func TestParseStatusRejectsBadCounter(t *testing.T) {
	_, err := parseStatus("d", map[string]string{"state": "open", "messages": "many"})
	assert.Error(t, err)
}

func TestParseURL(t *testing.T) {
	cfg, err := ParseURL("redis://:secret@cache.local:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache.local", cfg.Host)
	assert.Equal(t, 6380, cfg.Port)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, "cache.local:6380", cfg.Address())

	_, err = ParseURL("http://nope")
	assert.Error(t, err)
}

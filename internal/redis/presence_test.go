package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server; set REDIS_TEST_ADDR (e.g. localhost:6379) to enable.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPresenceMirror(t *testing.T) {
	ctx := context.Background()
	rdb := testClient(t)
	require.NoError(t, rdb.SAdd(ctx, onlineKey, "stale").Err())

	m, err := NewPresenceMirror(ctx, rdb)
	require.NoError(t, err)

	online, err := rdb.SMembers(ctx, onlineKey).Result()
	require.NoError(t, err)
	assert.Empty(t, online, "previous run is forgotten")

	require.NoError(t, m.SetOnline(ctx, "0xa"))
	require.NoError(t, m.SetOnline(ctx, "0xb"))
	require.NoError(t, m.SetPairing(ctx, "0xa", "0xb"))

	pairs, err := rdb.HGetAll(ctx, pairingsKey).Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0xa": "0xb", "0xb": "0xa"}, pairs)

	require.NoError(t, m.ClearPairing(ctx, "0xa", "0xb"))
	require.NoError(t, m.SetOffline(ctx, "0xa"))

	pairs, err = rdb.HGetAll(ctx, pairingsKey).Result()
	require.NoError(t, err)
	assert.Empty(t, pairs)
	online, err = rdb.SMembers(ctx, onlineKey).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"0xb"}, online)
}

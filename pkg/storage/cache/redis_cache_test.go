package cache

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"vaultgate/pkg/core"
	"vaultgate/pkg/types"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireRedis(t *testing.T) string {
	t.Helper()
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()
	return redisAddr
}

func sampleIdentity(id string) core.ContentIdentity {
	return core.ContentIdentity{
		ID:           id,
		Name:         "hello.txt",
		Size:         11,
		DeclaredType: "text/plain",
		Extension:    ".txt",
		TypeDetected: true,
		Hashes:       map[types.Algorithm]string{types.SHA256: id},
	}
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{RedisURL: "not-a-url://"})
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = New(context.Background(), Config{RedisURL: "redis://" + addr + "/0"})
	assert.Error(t, err)
}

func TestNewFromClient_DefaultTTL(t *testing.T) {
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestMetadataCache_Integration(t *testing.T) {
	addr := requireRedis(t)
	ctx := context.Background()

	c, err := New(ctx, Config{RedisURL: fmt.Sprintf("redis://%s/0", addr), TTL: time.Hour})
	require.NoError(t, err)
	defer c.Close()

	id := "1111222233334444555566667777888899990000aaaabbbbccccddddeeeeffff"
	// 清理上次测试残留
	c.client.Del(ctx, cacheKey(id))

	// --- Step 1: Miss ---
	_, hit, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, hit)

	// --- Step 2: Set ---
	want := sampleIdentity(id)
	require.NoError(t, c.Set(ctx, id, want, 0))

	ttl, err := c.client.TTL(ctx, cacheKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	// --- Step 3: Hit ---
	got, hit, err := c.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, want, got)

	// --- Step 4: write-once，第二次 Set 不覆盖 ---
	other := sampleIdentity(id)
	other.Name = "renamed.txt"
	require.NoError(t, c.Set(ctx, id, other, time.Minute))
	got, _, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", got.Name)

	// --- Step 5: 损坏的条目报错而不是返回垃圾 ---
	bad := "ffff222233334444555566667777888899990000aaaabbbbccccddddeeeeffff"
	c.client.Set(ctx, cacheKey(bad), "garbage", time.Minute)
	defer c.client.Del(ctx, cacheKey(bad))
	_, hit, err = c.Get(ctx, bad)
	assert.Error(t, err)
	assert.False(t, hit)
}

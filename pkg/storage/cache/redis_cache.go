// Package cache 是元数据读路径前面的 cache-aside 层
// 缓存从来不是事实来源：条目只在读未命中后写入，靠 TTL 过期，从不原地更新
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vaultgate/pkg/core"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "vg:meta:"
)

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

// MetadataCache 以 CBOR 编码保存 ContentIdentity
type MetadataCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New 解析 URL 并做 fail-fast 连接检查
func New(ctx context.Context, cfg Config) (*MetadataCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewFromClient(client, cfg.TTL), nil
}

func NewFromClient(client *redis.Client, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MetadataCache{client: client, ttl: ttl}
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func cacheKey(id string) string { return keyPrefix + id }

// Get 返回 (identity, true, nil) 表示命中；(_, false, nil) 表示未命中
func (c *MetadataCache) Get(ctx context.Context, id string) (core.ContentIdentity, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.ContentIdentity{}, false, nil
	}
	if err != nil {
		return core.ContentIdentity{}, false, fmt.Errorf("redis get: %w", err)
	}
	ident, err := core.DecodeIdentity(raw)
	if err != nil {
		return core.ContentIdentity{}, false, fmt.Errorf("corrupted cache entry %s: %w", id, err)
	}
	if ident.ID != id {
		return core.ContentIdentity{}, false, fmt.Errorf("cache entry %s holds identity %s", id, ident.ID)
	}
	return ident, true, nil
}

// Set 是 write-once：内容寻址的身份不可变，已存在的 key 不会被覆盖
func (c *MetadataCache) Set(ctx context.Context, id string, ident core.ContentIdentity, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := core.EncodeIdentity(ident)
	if err != nil {
		return err
	}
	if err := c.client.SetNX(ctx, cacheKey(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

func (c *MetadataCache) TTL() time.Duration { return c.ttl }

func (c *MetadataCache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *MetadataCache) Close() error { return c.client.Close() }

package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey 表示 key 含有路径穿越等非法成分
	ErrInvalidKey = errors.New("invalid object key")
)

// Store defines the interface for an object storage backend.
// Keys are opaque slash-separated strings (see core.PayloadKey / core.MetadataKey).
// Implementations must be safe for concurrent use by many pipeline invocations.
type Store interface {
	// Put 流式写入；size < 0 表示长度未知
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get 返回流，避免一次性把大文件读进内存
	// key 不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除不存在的 key 不是错误 (回滚需要幂等)
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// PresignGet 生成限时下载链接
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

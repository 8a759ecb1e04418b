package disk

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vaultgate/pkg/storage"
)

// Adapter 实现了 storage.Store 接口
// key "aa/bbcc..." 直接映射为 root/aa/bbcc...
type Adapter struct {
	rootPath string
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: abs}, nil
}

func (s *Adapter) Root() string { return s.rootPath }

// layout 返回 key 对应的物理路径，拒绝任何逃出根目录的 key
func (s *Adapter) layout(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
		}
	}
	return filepath.Join(s.rootPath, filepath.FromSlash(key)), nil
}

func (s *Adapter) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	targetPath, err := s.layout(key)
	if err != nil {
		return err
	}

	// 1. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 2. 原子写入：先写临时文件再 Rename
	// 这样保证要么文件不存在，要么文件是完整的
	tempFile, err := os.CreateTemp(dir, ".temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	n, err := io.Copy(tempFile, readerWithContext(ctx, r))
	if err != nil {
		tempFile.Close()
		return fmt.Errorf("disk put %s failed: %w", key, err)
	}
	if size >= 0 && n != size {
		tempFile.Close()
		return fmt.Errorf("disk put %s: wrote %d bytes, expected %d", key, n, size)
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// 3. 移动到最终位置
	return os.Rename(tempFile.Name(), targetPath)
}

func (s *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(targetPath)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Delete(ctx context.Context, key string) error {
	targetPath, err := s.layout(key)
	if err != nil {
		return err
	}
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("disk delete %s failed: %w", key, err)
	}
	return nil
}

func (s *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(targetPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// PresignGet 本地磁盘没有签名的概念，返回 file:// 链接；ttl 被忽略
func (s *Adapter) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(targetPath); os.IsNotExist(err) {
		return "", storage.ErrNotFound
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(targetPath)}
	return u.String(), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// readerWithContext 让长时间的本地拷贝也能响应取消
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

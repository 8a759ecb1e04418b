// Package commit 把 payload 和元数据文档作为一对对象写入存储
// 两个对象要么都存在，要么都不存在
package commit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"vaultgate/pkg/core"
	"vaultgate/pkg/errs"
	"vaultgate/pkg/logger"
	"vaultgate/pkg/metrics"
	"vaultgate/pkg/storage"
	"vaultgate/pkg/types"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultRollbackTimeout = 30 * time.Second
	metadataContentType    = "application/json"
)

// Pair 是一次成功提交的结果
type Pair struct {
	ID          string
	PayloadKey  string
	MetadataKey string
	// Identity 是存储中的元数据文档；去重时是最初那次提交写入的版本
	Identity core.ContentIdentity
	// Deduplicated 为 true 表示两个对象在提交前就已经存在，本次没有写入
	Deduplicated bool
}

type Option func(*Committer)

func WithMetrics(m metrics.Sink) Option {
	return func(c *Committer) { c.metrics = metrics.Safe(m) }
}

func WithRollbackTimeout(d time.Duration) Option {
	return func(c *Committer) {
		if d > 0 {
			c.rollbackTimeout = d
		}
	}
}

// Committer 无状态，可以被并发请求共享
type Committer struct {
	store           storage.Store
	metrics         metrics.Sink
	rollbackTimeout time.Duration
}

func New(store storage.Store, opts ...Option) *Committer {
	c := &Committer{
		store:           store,
		metrics:         metrics.Noop{},
		rollbackTimeout: DefaultRollbackTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Committer) Store() storage.Store { return c.store }

// ValidateID 内容 ID 必须是 64 位小写 hex；同时挡住路径穿越
func ValidateID(id string) error {
	if h, err := types.ParseHash(types.SHA256, id); err != nil || h.String() != id {
		return errs.Newf(errs.InvalidRequest, "invalid content id %q", id)
	}
	return nil
}

// Commit 并发写入 payload 和元数据文档
// 任何一个写失败，都会尽力删除两个对象，然后返回原始错误 (StorageCommitFailure)
// 写入不会自动重试
func (c *Committer) Commit(ctx context.Context, body io.Reader, ident core.ContentIdentity) (Pair, error) {
	log := logger.FromContext(ctx)
	if err := ValidateID(ident.ID); err != nil {
		return Pair{}, err
	}
	pair := Pair{
		ID:          ident.ID,
		PayloadKey:  core.PayloadKey(ident.ID),
		MetadataKey: core.MetadataKey(ident.ID),
		Identity:    ident,
	}

	doc, err := ident.MarshalDocument()
	if err != nil {
		return Pair{}, errs.Wrap(errs.Internal, err, "encode metadata document")
	}

	// 1. 去重：内容寻址，两个对象都在就不必重写
	// 重写失败会触发回滚，从而删掉之前已经提交成功的一对
	if ok, err := c.pairExists(ctx, pair); err != nil {
		log.Warn("dedup check failed, writing anyway", "id", ident.ID, "error", err)
	} else if ok {
		// 已有文档才是这个 id 的权威元数据，本次请求的文件名和声明类型不会被存下来
		stored, err := c.readMetadata(ctx, pair.ID)
		if err == nil {
			pair.Identity = stored
			pair.Deduplicated = true
			return pair, nil
		}
		log.Warn("stored metadata unreadable, rewriting pair", "id", ident.ID, "error", err)
	}

	// 2. 并发写入；两个 goroutine 都返回 nil，错误单独收集，保证两边都结束后再决定是否回滚
	var payloadErr, metaErr error
	var g errgroup.Group
	g.Go(func() error {
		payloadErr = c.timed(ctx, "put", func() error {
			return c.store.Put(ctx, pair.PayloadKey, body, ident.Size, ident.DeclaredType)
		})
		return nil
	})
	g.Go(func() error {
		metaErr = c.timed(ctx, "put", func() error {
			return c.store.Put(ctx, pair.MetadataKey, bytes.NewReader(doc), int64(len(doc)), metadataContentType)
		})
		return nil
	})
	_ = g.Wait()

	if payloadErr == nil && metaErr == nil {
		return pair, nil
	}

	// 3. 回滚：payload 错误优先作为原始错误
	original := payloadErr
	if original == nil {
		original = metaErr
	}
	commitErr := errs.Wrap(errs.StorageCommitFailure, original, "commit object pair")
	log.Error("commit failed", "id", ident.ID, "error", original)
	c.rollback(ctx, pair, commitErr)
	return Pair{}, commitErr
}

// rollback 删除两个对象；失败只记日志
// 使用脱离请求取消的 ctx，避免调用方断开导致清理半途而废
func (c *Committer) rollback(ctx context.Context, pair Pair, cause error) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rollbackTimeout)
	defer cancel()

	var g errgroup.Group
	var delErrs [2]error
	for i, key := range []string{pair.PayloadKey, pair.MetadataKey} {
		g.Go(func() error {
			delErrs[i] = c.timed(rbCtx, "delete", func() error { return c.store.Delete(rbCtx, key) })
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(delErrs[:]...); err != nil {
		rbErr := errs.Wrap(errs.StorageRollbackFailure, err, "rollback object pair")
		logger.FromContext(ctx).Warn("rollback failed",
			"id", pair.ID,
			"error", rbErr,
			"original_error", cause,
		)
	}
}

func (c *Committer) pairExists(ctx context.Context, pair Pair) (bool, error) {
	var payloadOK, metaOK bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		payloadOK, err = c.exists(gctx, pair.PayloadKey)
		return err
	})
	g.Go(func() (err error) {
		metaOK, err = c.exists(gctx, pair.MetadataKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	return payloadOK && metaOK, nil
}

func (c *Committer) exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := c.timed(ctx, "exists", func() (err error) {
		ok, err = c.store.Exists(ctx, key)
		return err
	})
	return ok, err
}

// Stat 只有两个对象都在才算存在
func (c *Committer) Stat(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	pair := Pair{ID: id, PayloadKey: core.PayloadKey(id), MetadataKey: core.MetadataKey(id)}
	ok, err := c.pairExists(ctx, pair)
	if err != nil {
		return false, errs.Wrap(errs.Internal, err, "stat object pair")
	}
	return ok, nil
}

// GetMetadata 读取元数据文档，同时确认 payload 存在；缺任何一个都是 NotFound
func (c *Committer) GetMetadata(ctx context.Context, id string) (core.ContentIdentity, error) {
	if err := ValidateID(id); err != nil {
		return core.ContentIdentity{}, err
	}

	var (
		ident     core.ContentIdentity
		payloadOK bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		payloadOK, err = c.exists(gctx, core.PayloadKey(id))
		return err
	})
	g.Go(func() (err error) {
		ident, err = c.readMetadata(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.ContentIdentity{}, readError(id, err)
	}
	if !payloadOK {
		return core.ContentIdentity{}, errs.Newf(errs.NotFound, "payload %s missing", id)
	}
	return ident, nil
}

// Get 同时打开 payload 和元数据；任何一半失败都不返回部分结果
// 调用方负责关闭返回的 ReadCloser
func (c *Committer) Get(ctx context.Context, id string) (io.ReadCloser, core.ContentIdentity, error) {
	if err := ValidateID(id); err != nil {
		return nil, core.ContentIdentity{}, err
	}

	var (
		body  io.ReadCloser
		ident core.ContentIdentity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		// 流在 Wait 之后才被读取，不能绑定到 gctx (Wait 返回时会被取消)
		err = c.timed(gctx, "get", func() (err error) {
			body, err = c.store.Get(ctx, core.PayloadKey(id))
			return err
		})
		return err
	})
	g.Go(func() (err error) {
		ident, err = c.readMetadata(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		if body != nil {
			body.Close()
		}
		return nil, core.ContentIdentity{}, readError(id, err)
	}
	return body, ident, nil
}

// PresignPayload 先确认整对存在，再签发 payload 的限时链接
func (c *Committer) PresignPayload(ctx context.Context, id string, ttl time.Duration) (string, error) {
	ok, err := c.Stat(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.Newf(errs.NotFound, "object %s not found", id)
	}
	var u string
	err = c.timed(ctx, "presign", func() (err error) {
		u, err = c.store.PresignGet(ctx, core.PayloadKey(id), ttl)
		return err
	})
	if err != nil {
		return "", readError(id, err)
	}
	return u, nil
}

func (c *Committer) readMetadata(ctx context.Context, id string) (core.ContentIdentity, error) {
	var raw []byte
	err := c.timed(ctx, "get", func() error {
		rc, err := c.store.Get(ctx, core.MetadataKey(id))
		if err != nil {
			return err
		}
		defer rc.Close()
		raw, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return core.ContentIdentity{}, err
	}
	ident, err := core.UnmarshalDocument(raw)
	if err != nil {
		return core.ContentIdentity{}, errs.Wrap(errs.Internal, err, "decode metadata document")
	}
	if ident.ID != id {
		return core.ContentIdentity{}, errs.Newf(errs.Internal, "metadata document %s holds id %s", id, ident.ID)
	}
	return ident, nil
}

func readError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.Wrap(errs.NotFound, err, "object "+id+" not found")
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	return errs.Wrap(errs.Internal, err, "storage read failed")
}

func (c *Committer) timed(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.StorageLatency(ctx, op, time.Since(start), err)
	return err
}

package commit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"vaultgate/pkg/core"
	"vaultgate/pkg/errs"
	"vaultgate/pkg/logger"
	"vaultgate/pkg/storage/disk"
	"vaultgate/pkg/storage/storagetest"
	"vaultgate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// payloadSuffix 只匹配 payload key，不匹配 ".meta"
const payloadSuffix = "ace2efcde9"

var helloData = []byte("hello world")

func helloIdentity() core.ContentIdentity {
	return core.ContentIdentity{
		ID:           helloSHA,
		Name:         "hello.txt",
		Size:         int64(len(helloData)),
		DeclaredType: "text/plain",
		Extension:    ".txt",
		TypeDetected: true,
		Hashes:       map[types.Algorithm]string{types.SHA256: helloSHA},
	}
}

func newSpy(t *testing.T) *storagetest.Spy {
	t.Helper()
	backend, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	return storagetest.NewSpy(backend)
}

func bothExist(t *testing.T, spy *storagetest.Spy, id string) (bool, bool) {
	t.Helper()
	ctx := context.Background()
	p, err := spy.Backend.Exists(ctx, core.PayloadKey(id))
	require.NoError(t, err)
	m, err := spy.Backend.Exists(ctx, core.MetadataKey(id))
	require.NoError(t, err)
	return p, m
}

// captureLogs 把 ctx 上的 logger 指向一个 buffer
func captureLogs() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger.WithContext(context.Background(), l), &buf
}

func TestCommit_Success(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	ctx := context.Background()

	pair, err := c.Commit(ctx, bytes.NewReader(helloData), helloIdentity())
	require.NoError(t, err)
	assert.False(t, pair.Deduplicated)
	assert.Equal(t, core.PayloadKey(helloSHA), pair.PayloadKey)
	assert.Equal(t, core.MetadataKey(helloSHA), pair.MetadataKey)
	assert.Equal(t, 2, spy.Writes())

	p, m := bothExist(t, spy, helloSHA)
	assert.True(t, p)
	assert.True(t, m)

	// 读回：payload 与元数据都完整
	body, ident, err := c.Get(ctx, helloSHA)
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, helloData, got)
	assert.Equal(t, helloIdentity(), ident)

	meta, err := c.GetMetadata(ctx, helloSHA)
	require.NoError(t, err)
	assert.Equal(t, helloIdentity(), meta)
}

func TestCommit_Deduplicates(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	ctx := context.Background()

	_, err := c.Commit(ctx, bytes.NewReader(helloData), helloIdentity())
	require.NoError(t, err)

	// 第二次提交即使写入会失败，也不应触碰已有的一对
	spy.FailPut(payloadSuffix, storagetest.ErrInjected)
	pair, err := c.Commit(ctx, bytes.NewReader(helloData), helloIdentity())
	require.NoError(t, err)
	assert.True(t, pair.Deduplicated)
	assert.Equal(t, 2, spy.Writes())
	assert.Equal(t, int32(0), spy.DeleteCount.Load())
}

func TestCommit_DeduplicateKeepsStoredDocument(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	ctx := context.Background()

	pair, err := c.Commit(ctx, bytes.NewReader(helloData), helloIdentity())
	require.NoError(t, err)
	assert.Equal(t, helloIdentity(), pair.Identity)

	renamed := helloIdentity()
	renamed.Name = "second.bin"
	renamed.DeclaredType = "application/octet-stream"
	pair, err = c.Commit(ctx, bytes.NewReader(helloData), renamed)
	require.NoError(t, err)
	assert.True(t, pair.Deduplicated)
	assert.Equal(t, helloIdentity(), pair.Identity)

	meta, err := c.GetMetadata(ctx, helloSHA)
	require.NoError(t, err)
	assert.Equal(t, helloIdentity(), meta)
}

func TestCommit_PayloadFailureRollsBackBoth(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	cause := errors.New("payload upload reset")
	spy.FailPut(payloadSuffix, cause)

	_, err := c.Commit(context.Background(), bytes.NewReader(helloData), helloIdentity())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.StorageCommitFailure))
	assert.ErrorIs(t, err, cause)

	// 元数据已经写成功，但必须被回滚
	p, m := bothExist(t, spy, helloSHA)
	assert.False(t, p)
	assert.False(t, m)
	assert.Equal(t, int32(2), spy.DeleteCount.Load(), "两个对象都要尝试删除")
}

func TestCommit_MetadataFailureAfterWriteRollsBackBoth(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	cause := errors.New("response lost")
	spy.FailPutAfterWrite(".meta", cause)

	_, err := c.Commit(context.Background(), bytes.NewReader(helloData), helloIdentity())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	p, m := bothExist(t, spy, helloSHA)
	assert.False(t, p)
	assert.False(t, m)
}

func TestCommit_RollbackFailureIsLoggedNotSurfaced(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	cause := errors.New("payload upload reset")
	spy.FailPut(payloadSuffix, cause)
	spy.FailDelete(".meta", errors.New("delete denied"))

	ctx, logs := captureLogs()
	_, err := c.Commit(ctx, bytes.NewReader(helloData), helloIdentity())
	require.Error(t, err)

	// 原始错误胜出
	assert.True(t, errs.IsKind(err, errs.StorageCommitFailure))
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Error(), "delete denied")

	out := logs.String()
	assert.Contains(t, out, "rollback failed")
	assert.Contains(t, out, "delete denied")
	assert.Contains(t, out, "payload upload reset")
}

func TestCommit_CancelledRequestStillRollsBack(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	spy.FailPutAfterWrite(payloadSuffix, storagetest.ErrInjected)

	ctx, cancel := context.WithCancel(context.Background())
	// 读 body 时取消请求，模拟客户端断开
	body := &cancelOnEOF{r: bytes.NewReader(helloData), cancel: cancel}
	_, err := c.Commit(ctx, body, helloIdentity())
	require.Error(t, err)

	p, m := bothExist(t, spy, helloSHA)
	assert.False(t, p)
	assert.False(t, m)
}

type cancelOnEOF struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelOnEOF) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF {
		c.cancel()
	}
	return n, err
}

func TestCommit_InvalidID(t *testing.T) {
	c := New(newSpy(t))
	ident := helloIdentity()
	ident.ID = "../../etc/passwd"
	_, err := c.Commit(context.Background(), bytes.NewReader(helloData), ident)
	assert.True(t, errs.IsKind(err, errs.InvalidRequest))
}

func TestGet_PartialPairIsNotFound(t *testing.T) {
	ctx := context.Background()

	t.Run("payload only", func(t *testing.T) {
		spy := newSpy(t)
		require.NoError(t, spy.Backend.Put(ctx, core.PayloadKey(helloSHA), bytes.NewReader(helloData), 11, ""))
		c := New(spy)

		_, _, err := c.Get(ctx, helloSHA)
		assert.True(t, errs.IsKind(err, errs.NotFound))
		_, err = c.GetMetadata(ctx, helloSHA)
		assert.True(t, errs.IsKind(err, errs.NotFound))
		ok, err := c.Stat(ctx, helloSHA)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("metadata only", func(t *testing.T) {
		spy := newSpy(t)
		doc, err := helloIdentity().MarshalDocument()
		require.NoError(t, err)
		require.NoError(t, spy.Backend.Put(ctx, core.MetadataKey(helloSHA), bytes.NewReader(doc), int64(len(doc)), ""))
		c := New(spy)

		_, _, err = c.Get(ctx, helloSHA)
		assert.True(t, errs.IsKind(err, errs.NotFound))
		_, err = c.GetMetadata(ctx, helloSHA)
		assert.True(t, errs.IsKind(err, errs.NotFound))
		_, err = c.PresignPayload(ctx, helloSHA, 0)
		assert.True(t, errs.IsKind(err, errs.NotFound))
	})

	t.Run("neither", func(t *testing.T) {
		c := New(newSpy(t))
		_, err := c.GetMetadata(ctx, helloSHA)
		assert.True(t, errs.IsKind(err, errs.NotFound))
	})
}

func TestGet_ReadFailureIsNotNotFound(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	ctx := context.Background()
	_, err := c.Commit(ctx, bytes.NewReader(helloData), helloIdentity())
	require.NoError(t, err)

	spy.FailGet(".meta", errors.New("503 slow down"))
	_, err = c.GetMetadata(ctx, helloSHA)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Internal))
}

func TestGetMetadata_CorruptDocument(t *testing.T) {
	spy := newSpy(t)
	ctx := context.Background()
	require.NoError(t, spy.Backend.Put(ctx, core.PayloadKey(helloSHA), bytes.NewReader(helloData), 11, ""))
	require.NoError(t, spy.Backend.Put(ctx, core.MetadataKey(helloSHA), strings.NewReader("{not json"), -1, ""))

	_, err := New(spy).GetMetadata(ctx, helloSHA)
	assert.True(t, errs.IsKind(err, errs.Internal))
}

func TestPresignPayload(t *testing.T) {
	spy := newSpy(t)
	c := New(spy)
	ctx := context.Background()
	_, err := c.Commit(ctx, bytes.NewReader(helloData), helloIdentity())
	require.NoError(t, err)

	u, err := c.PresignPayload(ctx, helloSHA, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))
	assert.Equal(t, int32(1), spy.PresignCount.Load())
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID(helloSHA))
	assert.Error(t, ValidateID(strings.ToUpper(helloSHA)))
	assert.Error(t, ValidateID("abc"))
	assert.Error(t, ValidateID(""))
}

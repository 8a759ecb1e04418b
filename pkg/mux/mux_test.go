package mux

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// slowReader 每次只读很少的字节并睡一下，模拟慢消费者
type slowReader struct {
	r     io.Reader
	delay time.Duration
}

func (s slowReader) Read(p []byte) (int, error) {
	time.Sleep(s.delay)
	if len(p) > 7 {
		p = p[:7]
	}
	return s.r.Read(p)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// runAll 启动 pump 并让每个分支按各自的节奏读完
func runAll(t *testing.T, m *Multiplexer, readers func(i int, b *Branch) io.Reader) ([][]byte, int64, error) {
	t.Helper()
	out := make([][]byte, len(m.Branches()))
	var g errgroup.Group
	var total int64
	var runErr error
	g.Go(func() error {
		total, runErr = m.Run(context.Background())
		return nil
	})
	for i, b := range m.Branches() {
		g.Go(func() error {
			defer b.Close()
			data, err := io.ReadAll(readers(i, b))
			out[i] = data
			return err
		})
	}
	err := g.Wait()
	if runErr != nil {
		return out, total, runErr
	}
	return out, total, err
}

func TestMultiplexer_Fidelity(t *testing.T) {
	sizes := []int{0, 1, 100, DefaultChunkSize, 3*DefaultChunkSize + 17}
	for _, n := range []int{1, 2, 3, 5} {
		for _, size := range sizes {
			payload := randomBytes(t, size)
			m, err := New(bytes.NewReader(payload), n, WithChunkSize(1024), WithQueueDepth(2))
			require.NoError(t, err)

			got, total, err := runAll(t, m, func(i int, b *Branch) io.Reader {
				if i%2 == 1 {
					return slowReader{r: b, delay: time.Microsecond}
				}
				return b
			})
			require.NoError(t, err)
			assert.Equal(t, int64(size), total)
			for i := range got {
				assert.True(t, bytes.Equal(payload, got[i]), "branch %d (n=%d size=%d) must observe identical bytes", i, n, size)
			}
		}
	}
}

func TestMultiplexer_OneByteReads(t *testing.T) {
	payload := randomBytes(t, 5000)
	m, err := New(iotest.OneByteReader(bytes.NewReader(payload)), 3, WithChunkSize(64))
	require.NoError(t, err)

	got, _, err := runAll(t, m, func(i int, b *Branch) io.Reader {
		if i == 0 {
			return iotest.HalfReader(b)
		}
		return b
	})
	require.NoError(t, err)
	for i := range got {
		assert.Equal(t, payload, got[i])
	}
}

func TestMultiplexer_UpstreamErrorReachesAllBranches(t *testing.T) {
	boom := errors.New("disk on fire")
	src := io.MultiReader(bytes.NewReader(randomBytes(t, 4096)), iotest.ErrReader(boom))

	m, err := New(src, 3, WithChunkSize(512))
	require.NoError(t, err)

	errsCh := make(chan error, 3)
	var g errgroup.Group
	for _, b := range m.Branches() {
		g.Go(func() error {
			defer b.Close()
			_, err := io.ReadAll(b)
			errsCh <- err
			return nil
		})
	}
	_, runErr := m.Run(context.Background())
	require.NoError(t, g.Wait())
	close(errsCh)

	assert.ErrorIs(t, runErr, boom)
	for err := range errsCh {
		assert.ErrorIs(t, err, boom, "每个未完成的分支都必须看到上游错误")
	}
}

func TestMultiplexer_EarlyCloseDoesNotStallOthers(t *testing.T) {
	payload := randomBytes(t, 200*1024)
	m, err := New(bytes.NewReader(payload), 3, WithChunkSize(1024), WithQueueDepth(1))
	require.NoError(t, err)

	var g errgroup.Group
	var full1, full2 []byte
	g.Go(func() error {
		b := m.Branch(0)
		// 只读一个前缀就关闭 (类似 TypeSniffer)
		buf := make([]byte, 100)
		_, err := io.ReadFull(b, buf)
		b.Close()
		if err != nil {
			return err
		}
		_, err = b.Read(buf)
		if !errors.Is(err, ErrBranchClosed) {
			return errors.New("read after close should fail")
		}
		return nil
	})
	g.Go(func() (err error) { full1, err = io.ReadAll(m.Branch(1)); return })
	g.Go(func() (err error) { full2, err = io.ReadAll(m.Branch(2)); return })

	done := make(chan struct{})
	go func() {
		defer close(done)
		total, err := m.Run(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, int64(len(payload)), total)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump stalled on a closed branch")
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, payload, full1)
	assert.Equal(t, payload, full2)
}

func TestMultiplexer_Backpressure(t *testing.T) {
	// 上游计数：慢分支不读时，pump 最多只能领先 queueDepth 块 (+1 块在手)
	payload := randomBytes(t, 64*1024)
	counting := &countingReader{r: bytes.NewReader(payload)}
	m, err := New(counting, 2, WithChunkSize(1024), WithQueueDepth(2))
	require.NoError(t, err)

	go func() { _, _ = io.Copy(io.Discard, m.Branch(0)) }()
	go func() { _, _ = m.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, counting.n.Load(), int64(4*1024), "pump must be gated by the slowest branch")

	// 放开慢分支，全部读完
	data, err := io.ReadAll(m.Branch(1))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestMultiplexer_AllClosed(t *testing.T) {
	m, err := New(bytes.NewReader(randomBytes(t, 10*1024)), 2, WithChunkSize(1024), WithQueueDepth(1))
	require.NoError(t, err)
	for _, b := range m.Branches() {
		b.Close()
	}
	_, err = m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAllBranchesClosed)
}

func TestMultiplexer_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m, err := New(bytes.NewReader(randomBytes(t, 64*1024)), 1, WithChunkSize(1024), WithQueueDepth(1))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = m.Run(ctx) // 没有人读，pump 会阻塞在发送上直到取消
	assert.ErrorIs(t, err, context.Canceled)

	_, err = io.ReadAll(m.Branch(0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMultiplexer_RunOnce(t *testing.T) {
	m, err := New(bytes.NewReader(nil), 1)
	require.NoError(t, err)
	go func() { _, _ = io.Copy(io.Discard, m.Branch(0)) }()
	_, err = m.Run(context.Background())
	require.NoError(t, err)
	_, err = m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, 1)
	assert.Error(t, err)
	_, err = New(bytes.NewReader(nil), 0)
	assert.Error(t, err)
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Package mux 把一个单次消费的字节流扇出给 N 个独立的读者
//
// 结构：一个上游 pump + N 个有界队列。pump 每读到一块数据，就依次投递给
// 所有仍然活跃的分支；队列满时 pump 阻塞，所以上游读取速度由最慢的分支决定，
// 内存占用上限是 N * QueueDepth * ChunkSize。
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	DefaultChunkSize  = 32 * 1024
	DefaultQueueDepth = 4
)

var (
	// ErrBranchClosed 在分支被消费方提前关闭后再读时返回
	ErrBranchClosed = errors.New("mux: branch closed")
	// ErrAllBranchesClosed 表示所有分支都提前退出，pump 停止读取上游
	ErrAllBranchesClosed = errors.New("mux: all branches closed before end of stream")
	ErrAlreadyRun        = errors.New("mux: multiplexer can only run once")
)

type Option func(*Multiplexer)

func WithChunkSize(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

func WithQueueDepth(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.queueDepth = n
		}
	}
}

type Multiplexer struct {
	src        io.Reader
	branches   []*Branch
	chunkSize  int
	queueDepth int
	started    atomic.Bool
}

// New 为 src 创建 n 个分支；必须调用一次 Run 驱动数据流动
func New(src io.Reader, n int, opts ...Option) (*Multiplexer, error) {
	if src == nil {
		return nil, fmt.Errorf("mux: nil source")
	}
	if n < 1 {
		return nil, fmt.Errorf("mux: need at least one branch, got %d", n)
	}
	m := &Multiplexer{
		src:        src,
		chunkSize:  DefaultChunkSize,
		queueDepth: DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.branches = make([]*Branch, n)
	for i := range m.branches {
		m.branches[i] = &Branch{
			index: i,
			ch:    make(chan []byte, m.queueDepth),
			done:  make(chan struct{}),
		}
	}
	return m, nil
}

func (m *Multiplexer) Branches() []*Branch { return m.branches }

func (m *Multiplexer) Branch(i int) *Branch { return m.branches[i] }

// Run 是唯一的上游读循环，阻塞直到上游结束、出错或所有分支关闭
// 返回读取的总字节数；上游 io.EOF 视为正常结束 (返回 nil)
func (m *Multiplexer) Run(ctx context.Context) (int64, error) {
	if !m.started.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRun
	}

	active := make([]bool, len(m.branches))
	for i := range active {
		active[i] = true
	}
	remaining := len(m.branches)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			m.finish(active, fmt.Errorf("mux: %w", err))
			return total, err
		}
		// 每次都分配新 buffer：同一块数据被所有分支只读共享，不能复用
		buf := make([]byte, m.chunkSize)
		n, rerr := m.src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			total += int64(n)
			for i, b := range m.branches {
				if !active[i] {
					continue
				}
				if b.closed.Load() {
					active[i] = false
					remaining--
					continue
				}
				select {
				case b.ch <- chunk:
				case <-b.done:
					// 消费方提前关闭：摘掉这个分支，其他分支继续
					active[i] = false
					remaining--
				case <-ctx.Done():
					m.finish(active, fmt.Errorf("mux: %w", ctx.Err()))
					return total, ctx.Err()
				}
			}
			if remaining == 0 {
				return total, ErrAllBranchesClosed
			}
		}

		if rerr == io.EOF {
			m.finish(active, io.EOF)
			return total, nil
		}
		if rerr != nil {
			m.finish(active, rerr)
			return total, rerr
		}
	}
}

// finish 把终止错误写入所有未结束的分支，然后关闭其队列
// 先写 err 再 close(ch)，读端在观察到 close 之后读取 err 是安全的
func (m *Multiplexer) finish(active []bool, err error) {
	for i, b := range m.branches {
		if !active[i] {
			continue
		}
		b.err = err
		close(b.ch)
	}
}

// Branch 是一个独立的只读视图，实现 io.ReadCloser
// 单个 Branch 只能由一个 goroutine 读取；Close 可以来自任意 goroutine
type Branch struct {
	index int
	ch    chan []byte
	done  chan struct{}

	err error  // 由 pump 在 close(ch) 之前写入
	cur []byte // 当前块中尚未被读走的部分

	closeOnce sync.Once
	closed    atomic.Bool
}

func (b *Branch) Index() int { return b.index }

func (b *Branch) Read(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, ErrBranchClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.cur) == 0 {
		select {
		case chunk, ok := <-b.ch:
			if !ok {
				return 0, b.err
			}
			b.cur = chunk
		case <-b.done:
			// 被其他 goroutine 关闭 (例如扫描超时后放弃读取)
			return 0, ErrBranchClosed
		}
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

// Close 让 pump 不再等待这个分支；未读完就关闭不会影响其他分支
func (b *Branch) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})
	return nil
}

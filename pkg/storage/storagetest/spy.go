// Package storagetest 提供测试用的间谍存储
// 统计底层方法被调用的次数，并可按 key 注入故障
package storagetest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vaultgate/pkg/storage"
)

var ErrInjected = errors.New("storagetest: injected failure")

// Spy 包装任意 storage.Store
type Spy struct {
	Backend storage.Store

	PutCount     atomic.Int32
	GetCount     atomic.Int32
	DeleteCount  atomic.Int32
	ExistsCount  atomic.Int32
	PresignCount atomic.Int32

	mu         sync.Mutex
	failPut    map[string]error
	failGet    map[string]error
	failDelete map[string]error
	// 后写入：Put 在读完 body 并写入后端之后才返回错误，模拟“写成功但响应失败”
	failAfterPut map[string]error
}

func NewSpy(backend storage.Store) *Spy {
	return &Spy{
		Backend:      backend,
		failPut:      map[string]error{},
		failGet:      map[string]error{},
		failDelete:   map[string]error{},
		failAfterPut: map[string]error{},
	}
}

// 以 suffix 匹配 key，方便区分 payload / ".meta"
func lookup(m map[string]error, key string) error {
	for suffix, err := range m {
		if strings.HasSuffix(key, suffix) {
			return err
		}
	}
	return nil
}

func (s *Spy) FailPut(suffix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut[suffix] = err
}

func (s *Spy) FailPutAfterWrite(suffix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfterPut[suffix] = err
}

func (s *Spy) FailGet(suffix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet[suffix] = err
}

func (s *Spy) FailDelete(suffix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete[suffix] = err
}

func (s *Spy) injected(m map[string]error, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lookup(m, key)
}

func (s *Spy) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	s.PutCount.Add(1)
	if err := s.injected(s.failPut, key); err != nil {
		return err
	}
	if err := s.Backend.Put(ctx, key, r, size, contentType); err != nil {
		return err
	}
	return s.injected(s.failAfterPut, key)
}

func (s *Spy) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.GetCount.Add(1)
	if err := s.injected(s.failGet, key); err != nil {
		return nil, err
	}
	return s.Backend.Get(ctx, key)
}

func (s *Spy) Delete(ctx context.Context, key string) error {
	s.DeleteCount.Add(1)
	if err := s.injected(s.failDelete, key); err != nil {
		return err
	}
	return s.Backend.Delete(ctx, key)
}

func (s *Spy) Exists(ctx context.Context, key string) (bool, error) {
	s.ExistsCount.Add(1)
	return s.Backend.Exists(ctx, key)
}

func (s *Spy) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.PresignCount.Add(1)
	return s.Backend.PresignGet(ctx, key, ttl)
}

// Writes 返回 Put 调用次数
func (s *Spy) Writes() int { return int(s.PutCount.Load()) }

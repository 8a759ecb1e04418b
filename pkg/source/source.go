// Package source 提供单次消费的字节源 (ByteSource)
// 三种来源：本地上传、远程 URL、内存 buffer
package source

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"sync"
)

var ErrConsumed = errors.New("byte source already consumed")

type Origin string

const (
	OriginUpload Origin = "upload"
	OriginRemote Origin = "remote"
	OriginBuffer Origin = "buffer"
)

// ByteSource 是对原始字节的单次 (exactly-once) 访问句柄
// 它只属于创建它的那一次流水线调用，不能在请求间共享
type ByteSource struct {
	rc     io.ReadCloser
	size   int64 // -1 表示未知
	origin Origin

	// 调用方声明的信息，不可信，只作为回退值
	name        string
	contentType string

	mu       sync.Mutex
	consumed bool
	closed   bool
}

func newSource(rc io.ReadCloser, size int64, origin Origin, name, contentType string) *ByteSource {
	if size < 0 {
		size = -1
	}
	return &ByteSource{rc: rc, size: size, origin: origin, name: name, contentType: contentType}
}

// NewUpload 包装一个上传流 (例如 gRPC 客户端流)
// size 未知时传 -1
func NewUpload(r io.Reader, size int64, name, contentType string) *ByteSource {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return newSource(rc, size, OriginUpload, name, contentType)
}

// FromMultipart 打开一个 multipart 表单文件
func FromMultipart(fh *multipart.FileHeader) (*ByteSource, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	return newSource(f, fh.Size, OriginUpload, fh.Filename, fh.Header.Get("Content-Type")), nil
}

func FromBuffer(data []byte, name string) *ByteSource {
	return newSource(io.NopCloser(bytes.NewReader(data)), int64(len(data)), OriginBuffer, name, "")
}

// Reader 只能调用一次；第二次返回 ErrConsumed
func (s *ByteSource) Reader() (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed || s.closed {
		return nil, ErrConsumed
	}
	s.consumed = true
	return s.rc, nil
}

// Close 释放底层资源 (HTTP body、文件句柄)，可重复调用
func (s *ByteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rc.Close()
}

func (s *ByteSource) Size() int64         { return s.size }
func (s *ByteSource) Origin() Origin      { return s.origin }
func (s *ByteSource) Name() string        { return s.name }
func (s *ByteSource) ContentType() string { return s.contentType }

// WithDeclared 覆盖声明的文件名/类型 (空值保持原样)
func (s *ByteSource) WithDeclared(name, contentType string) *ByteSource {
	if name != "" {
		s.name = name
	}
	if contentType != "" {
		s.contentType = contentType
	}
	return s
}
